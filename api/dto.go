/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  ledger types. Money is rendered as fixed two-decimal strings so clients
  never see float rounding.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.decode, which rejects malformed JSON and tag violations with 400.
  Domain rules (unknown items, stock, cash) are checked by the services.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: CatalogJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/quote-ledger/factory"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/order"
	"github.com/warp/quote-ledger/policy"
)

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// =============================================================================
// CATALOG
// =============================================================================

type ItemDTO struct {
	Name        string `json:"item_name"`
	Category    string `json:"category,omitempty"`
	UnitPrice   string `json:"unit_price"`
	MinStock    int    `json:"min_stock"`
	Revision    int    `json:"revision"`
	EffectiveAt string `json:"effective_at,omitempty"`
}

func toItemDTO(it ledger.InventoryItem) ItemDTO {
	dto := ItemDTO{
		Name:      it.Name,
		Category:  it.Category,
		UnitPrice: it.UnitPrice.String(),
		MinStock:  it.MinStock,
		Revision:  it.Revision,
	}
	if !it.EffectiveAt.IsZero() {
		dto.EffectiveAt = it.EffectiveAt.String()
	}
	return dto
}

// CreateItemRequest appends a catalog revision.
type CreateItemRequest struct {
	ItemName  string `json:"item_name" validate:"required,max=200"`
	Category  string `json:"category" validate:"max=100"`
	UnitPrice string `json:"unit_price" validate:"required,numeric"`
	MinStock  int    `json:"min_stock" validate:"gte=0"`
}

// SeedCatalogRequest loads a catalog. Without Catalog the default
// paper-supplies catalog is used.
type SeedCatalogRequest struct {
	Catalog  *factory.CatalogJSON `json:"catalog,omitempty"`
	Coverage *float64             `json:"coverage,omitempty" validate:"omitempty,gte=0,lte=1"`
	Seed     *uint64              `json:"seed,omitempty"`
}

type SeedResultDTO struct {
	Items       int    `json:"items"`
	Stocked     int    `json:"stocked"`
	OpeningCost string `json:"opening_cost"`
	Skipped     bool   `json:"skipped"`
}

// =============================================================================
// BALANCES
// =============================================================================

type StockDTO struct {
	ItemName  string `json:"item_name"`
	Date      string `json:"date"`
	Stock     int    `json:"stock"`
	Available int    `json:"available"` // lowest stock from date onward
	MinStock  int    `json:"min_stock"`
}

type InventoryDTO struct {
	Date  string         `json:"date"`
	Items map[string]int `json:"items"`
}

type CashDTO struct {
	Date string `json:"date"`
	Cash string `json:"cash"`
}

type ItemValuationDTO struct {
	ItemName string `json:"item_name"`
	Stock    int    `json:"stock"`
	Value    string `json:"value"`
}

type SellerDTO struct {
	ItemName string `json:"item_name"`
	Units    int    `json:"units"`
	Revenue  string `json:"revenue"`
}

type FinancialsDTO struct {
	Date           string             `json:"date"`
	Cash           string             `json:"cash"`
	InventoryValue string             `json:"inventory_value"`
	TotalAssets    string             `json:"total_assets"`
	Items          []ItemValuationDTO `json:"items"`
	TopSellers     []SellerDTO        `json:"top_sellers"`
}

func toFinancialsDTO(s ledger.FinancialSnapshot) FinancialsDTO {
	dto := FinancialsDTO{
		Date:           s.AsOf.String(),
		Cash:           money(s.Cash),
		InventoryValue: money(s.InventoryValue),
		TotalAssets:    money(s.TotalAssets),
		Items:          make([]ItemValuationDTO, 0, len(s.Items)),
		TopSellers:     make([]SellerDTO, 0, len(s.TopSellers)),
	}
	for _, it := range s.Items {
		dto.Items = append(dto.Items, ItemValuationDTO{ItemName: it.ItemName, Stock: it.Stock, Value: money(it.Value)})
	}
	for _, ts := range s.TopSellers {
		dto.TopSellers = append(dto.TopSellers, SellerDTO{ItemName: ts.ItemName, Units: ts.UnitsSold, Revenue: money(ts.Revenue)})
	}
	return dto
}

type MovementDTO struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	ItemName  string    `json:"item_name"`
	Kind      string    `json:"kind"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
	Value     string    `json:"value"`
	Date      string    `json:"date"`
	Reference string    `json:"reference,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toMovementDTO(m ledger.Movement) MovementDTO {
	return MovementDTO{
		ID:        string(m.ID),
		Seq:       m.Seq,
		ItemName:  m.ItemName,
		Kind:      string(m.Kind),
		Quantity:  m.Quantity,
		UnitPrice: m.UnitPrice.String(),
		Value:     money(m.Value()),
		Date:      m.Date.String(),
		Reference: m.Reference,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
	}
}

// =============================================================================
// QUOTES
// =============================================================================

type QuoteItemRequest struct {
	ItemName string `json:"item_name" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

// CreateQuoteRequest prices Items, or the requests extracted from Text
// when Items is empty.
type CreateQuoteRequest struct {
	Items []QuoteItemRequest `json:"items" validate:"dive"`
	Text  string             `json:"text" validate:"max=5000"`
	Date  string             `json:"date" validate:"required"`
}

type QuoteLineDTO struct {
	ItemName     string `json:"item_name"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	DiscountRate string `json:"discount_rate"`
	LineTotal    string `json:"line_total"`
	DeliveryDate string `json:"delivery_date"`
}

type QuoteDTO struct {
	ID           string         `json:"id"`
	Date         string         `json:"date"`
	Lines        []QuoteLineDTO `json:"lines"`
	DiscountRate string         `json:"discount_rate"`
	Total        string         `json:"total"`
	Rationale    string         `json:"rationale,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toQuoteDTO(q ledger.Quote) QuoteDTO {
	dto := QuoteDTO{
		ID:           string(q.ID),
		Date:         q.Date.String(),
		Lines:        make([]QuoteLineDTO, 0, len(q.Lines)),
		DiscountRate: q.DiscountRate.String(),
		Total:        money(q.Total),
		Rationale:    q.Rationale,
		CreatedAt:    q.CreatedAt,
	}
	for _, l := range q.Lines {
		dto.Lines = append(dto.Lines, QuoteLineDTO{
			ItemName:     l.ItemName,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice.String(),
			DiscountRate: l.DiscountRate.String(),
			LineTotal:    money(l.LineTotal),
			DeliveryDate: policy.DeliveryDate(q.Date, l.Quantity).String(),
		})
	}
	return dto
}

type HistoryMatchDTO struct {
	Quote QuoteDTO `json:"quote"`
	Score float64  `json:"score"`
}

// =============================================================================
// ORDERS
// =============================================================================

type PlaceOrderRequest struct {
	Date string `json:"date" validate:"required"`
	// AutoRestock evaluates the restock policy for items the order left
	// below their minimum.
	AutoRestock bool `json:"auto_restock"`
}

type ShortfallDTO struct {
	ItemName  string `json:"item_name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type OrderDTO struct {
	ID          string               `json:"id"`
	QuoteID     string               `json:"quote_id"`
	Date        string               `json:"date"`
	Status      string               `json:"status"`
	Total       string               `json:"total"`
	MovementIDs []string             `json:"movement_ids,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Shortfalls  []ShortfallDTO       `json:"shortfalls,omitempty"`
	LowStock    []string             `json:"low_stock,omitempty"`
	Restocks    []RestockDecisionDTO `json:"restocks,omitempty"`
}

func toOrderDTO(o order.Order) OrderDTO {
	dto := OrderDTO{
		ID:      string(o.ID),
		QuoteID: string(o.Quote.ID),
		Date:    o.Date.String(),
		Status:  string(o.Status),
		Total:   money(o.Total()),
	}
	for _, id := range o.MovementIDs {
		dto.MovementIDs = append(dto.MovementIDs, string(id))
	}
	if o.Reason != nil {
		dto.Reason = o.Reason.Error()
	}
	for _, s := range o.Shortfalls() {
		dto.Shortfalls = append(dto.Shortfalls, ShortfallDTO{ItemName: s.Item, Requested: s.Requested, Available: s.Available})
	}
	return dto
}

// =============================================================================
// RESTOCK
// =============================================================================

type RestockRequest struct {
	Date string `json:"date" validate:"required"`
}

type ReorderRequest struct {
	Date     string `json:"date" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

type RestockDecisionDTO struct {
	ItemName   string `json:"item_name"`
	Decision   string `json:"decision"` // no_action | ordered | rejected
	Stock      *int   `json:"stock,omitempty"`
	MinStock   *int   `json:"min_stock,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
	Cost       string `json:"cost,omitempty"`
	ETA        string `json:"eta,omitempty"`
	MovementID string `json:"movement_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func toRestockDecisionDTO(d policy.RestockDecision) RestockDecisionDTO {
	dto := RestockDecisionDTO{ItemName: d.Item()}
	switch d := d.(type) {
	case policy.NoActionNeeded:
		dto.Decision = "no_action"
		dto.Stock, dto.MinStock = &d.Stock, &d.MinStock
	case policy.Ordered:
		dto.Decision = "ordered"
		dto.Quantity = d.Quantity
		dto.Cost = money(d.Cost)
		dto.ETA = d.ETA.String()
		dto.MovementID = string(d.MovementID)
	case policy.Rejected:
		dto.Decision = "rejected"
		dto.Quantity = d.Quantity
		dto.Cost = money(d.Cost)
		dto.Reason = d.Err.Error()
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorDTO struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
