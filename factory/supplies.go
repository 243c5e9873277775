package factory

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// Sample catalog defaults.
const (
	DefaultCoverage = 0.4
	DefaultSeed     = 137
)

type supply struct {
	name     string
	category string
	price    string
}

// Paper supplies, priced per unit (sheet, plate, roll, ...).
var supplies = []supply{
	// Paper
	{"A4 paper", "paper", "0.05"},
	{"Letter-sized paper", "paper", "0.06"},
	{"Cardstock", "paper", "0.15"},
	{"Colored paper", "paper", "0.10"},
	{"Glossy paper", "paper", "0.20"},
	{"Matte paper", "paper", "0.18"},
	{"Recycled paper", "paper", "0.08"},
	{"Eco-friendly paper", "paper", "0.12"},
	{"Poster paper", "paper", "0.25"},
	{"Banner paper", "paper", "0.30"},
	{"Kraft paper", "paper", "0.10"},
	{"Construction paper", "paper", "0.07"},
	{"Wrapping paper", "paper", "0.15"},
	{"Glitter paper", "paper", "0.22"},
	{"Decorative paper", "paper", "0.18"},
	{"Letterhead paper", "paper", "0.12"},
	{"Legal-size paper", "paper", "0.08"},
	{"Crepe paper", "paper", "0.05"},
	{"Photo paper", "paper", "0.25"},
	{"Uncoated paper", "paper", "0.06"},
	{"Butcher paper", "paper", "0.10"},
	{"Heavyweight paper", "paper", "0.20"},
	{"Standard copy paper", "paper", "0.04"},
	{"Bright-colored paper", "paper", "0.12"},
	{"Patterned paper", "paper", "0.15"},

	// Products
	{"Paper plates", "product", "0.10"},
	{"Paper cups", "product", "0.08"},
	{"Paper napkins", "product", "0.02"},
	{"Disposable cups", "product", "0.10"},
	{"Table covers", "product", "1.50"},
	{"Envelopes", "product", "0.05"},
	{"Sticky notes", "product", "0.03"},
	{"Notepads", "product", "2.00"},
	{"Invitation cards", "product", "0.50"},
	{"Flyers", "product", "0.15"},
	{"Party streamers", "product", "0.05"},
	{"Decorative adhesive tape (washi tape)", "product", "0.20"},
	{"Paper party bags", "product", "0.25"},
	{"Name tags with lanyards", "product", "0.75"},
	{"Presentation folders", "product", "0.50"},

	// Large format
	{"Large poster paper (24x36 inches)", "large_format", "1.00"},
	{"Rolls of banner paper (36-inch width)", "large_format", "2.50"},

	// Specialty
	{"100 lb cover stock", "specialty", "0.50"},
	{"80 lb text paper", "specialty", "0.40"},
	{"250 gsm cardstock", "specialty", "0.30"},
	{"220 gsm poster paper", "specialty", "0.35"},
}

// SampleCatalogJSON lists every supply. A coverage share of them, picked
// reproducibly from seed, gets opening stock in [200, 800) and a MinStock in
// [50, 150); the rest get MinStock 0 and no stock.
func SampleCatalogJSON(coverage float64, seed uint64) CatalogJSON {
	rng := rand.New(rand.NewPCG(seed, seed))

	n := int(float64(len(supplies)) * coverage)
	n = max(0, min(n, len(supplies)))
	stocked := make(map[int]bool, n)
	for _, i := range rng.Perm(len(supplies))[:n] {
		stocked[i] = true
	}

	cj := CatalogJSON{OpeningDate: DefaultOpeningDate.String()}
	for i, s := range supplies {
		ij := ItemJSON{
			ItemName:  s.name,
			Category:  s.category,
			UnitPrice: decimal.RequireFromString(s.price),
		}
		if stocked[i] {
			ij.OpeningStock = 200 + rng.IntN(600)
			ij.MinStock = 50 + rng.IntN(100)
		}
		cj.Items = append(cj.Items, ij)
	}
	return cj
}

// SampleCatalog is SampleCatalogJSON, parsed.
func SampleCatalog(coverage float64, seed uint64) Catalog {
	c, err := NewCatalogFactory().FromJSON(SampleCatalogJSON(coverage, seed))
	if err != nil {
		panic("factory: invalid built-in catalog: " + err.Error())
	}
	return c
}
