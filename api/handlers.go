/*
handlers.go - HTTP API handlers for the quoting and fulfillment engine

PURPOSE:
  Exposes the ledger, quote engine, order fulfillment and restock policy
  via REST API. Handles HTTP request/response, JSON serialization and
  validation, and delegates to the domain services.

ENDPOINTS:
  Catalog:
    GET    /api/items                    List current catalog revisions
    POST   /api/items                    Append a catalog revision
    GET    /api/items/{name}/stock       Stock of one item (?date=)
    POST   /api/catalog/seed             Load a catalog with opening stock

  Balances:
    GET    /api/inventory                Positive stock per item (?date=)
    GET    /api/cash                     Cash balance (?date=)
    GET    /api/financials               Cash, inventory value, top sellers (?date=)
    GET    /api/movements                Ledger movements (?item=&kind=&through=)

  Quotes and orders:
    POST   /api/quotes                   Price items or free text
    GET    /api/quotes/history           Similar archived quotes (?items=a,b&limit=)
    GET    /api/quotes/{id}              Archived quote
    POST   /api/quotes/{id}/orders       Commit a quote

  Restock:
    POST   /api/restock/{name}           Evaluate the restock policy
    POST   /api/restock/{name}/orders    Buy an explicit quantity

ARCHITECTURE:
  Handler holds the services, all sharing one ledger.Backend and one
  lock.Locker. Services are safe for concurrent use.

ERROR HANDLING:
  writeLedgerError maps the ledger error taxonomy to status codes:
  - 400: ValidationError, malformed JSON
  - 404: NotFoundError
  - 409: InsufficientStock, InsufficientCash, ConcurrencyConflict
  - 500: PersistenceError and anything unexpected

  A rejected order or restock is a business outcome: the body carries
  the decision, the status is 409.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/quote-ledger/events"
	"github.com/warp/quote-ledger/factory"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/lock"
	"github.com/warp/quote-ledger/order"
	"github.com/warp/quote-ledger/policy"
	"github.com/warp/quote-ledger/quote"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options tune the services built by NewHandler.
type Options struct {
	InitialCash   decimal.Decimal
	RestockBuffer int
}

func DefaultOptions() Options {
	return Options{InitialCash: decimal.NewFromInt(50000), RestockBuffer: policy.DefaultRestockBuffer}
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     ledger.Backend
	Ledger    ledger.Ledger
	Balances  *ledger.Reconstructor
	Quotes    *quote.Engine
	Extractor quote.Extractor
	Orders    *order.Fulfillment
	Restock   *policy.RestockPolicy
	Locker    lock.Locker
	Factory   *factory.CatalogFactory
	Log       logrus.FieldLogger

	// Today is the default for omitted date query parameters.
	Today func() ledger.Date

	validate *validator.Validate
}

// NewHandler wires the services over one backend.
func NewHandler(store ledger.Backend, locker lock.Locker, pub events.Publisher, opts Options, log logrus.FieldLogger) *Handler {
	l := ledger.NewLedger(store)
	balances := ledger.NewReconstructor(l, opts.InitialCash)

	restock := policy.NewRestockPolicy(store, l, balances, locker, pub, log)
	restock.Buffer = opts.RestockBuffer

	return &Handler{
		Store:     store,
		Ledger:    l,
		Balances:  balances,
		Quotes:    quote.NewEngine(store, store, log),
		Extractor: quote.ResolveExtractor(nil, quote.LineExtractor{}),
		Orders:    order.NewFulfillment(l, balances, store, locker, pub, log),
		Restock:   restock,
		Locker:    locker,
		Factory:   factory.NewCatalogFactory(),
		Log:       log.WithField("component", "api"),
		Today:     ledger.Today,
		validate:  validator.New(),
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListItems returns the current revision of every catalog item.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.Items(r.Context())
	if err != nil {
		h.writeLedgerError(w, &ledger.PersistenceError{Op: "load catalog", Err: err})
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toItemDTO(it)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateItem appends a catalog revision. Existing quotes keep their prices.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil || !price.IsPositive() {
		h.writeLedgerError(w, &ledger.ValidationError{Field: "unit_price", Message: "must be a positive decimal"})
		return
	}

	item, err := h.Store.PutItem(r.Context(), ledger.InventoryItem{
		Name:        strings.TrimSpace(req.ItemName),
		Category:    req.Category,
		UnitPrice:   price,
		MinStock:    req.MinStock,
		EffectiveAt: h.Today(),
	})
	if err != nil {
		h.writeLedgerError(w, &ledger.PersistenceError{Op: "put catalog item", Err: err})
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

// GetStock returns one item's stock on a date and what an order dated then
// could take.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	date, ok := h.queryDate(w, r, "date")
	if !ok {
		return
	}
	ctx := r.Context()

	item, err := h.Store.Item(ctx, name)
	if err != nil {
		h.writeLedgerError(w, &ledger.PersistenceError{Op: "load catalog item", Err: err})
		return
	}
	if item == nil {
		h.writeLedgerError(w, &ledger.NotFoundError{Kind: "item", Names: []string{name}})
		return
	}
	stock, err := h.Balances.StockLevel(ctx, item.Name, date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	available, err := h.Balances.MinStockFrom(ctx, item.Name, date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StockDTO{
		ItemName:  item.Name,
		Date:      date.String(),
		Stock:     stock,
		Available: available,
		MinStock:  item.MinStock,
	})
}

// SeedCatalog loads the given catalog, or the default paper supplies. It is
// a no-op when the catalog already has items.
func (h *Handler) SeedCatalog(w http.ResponseWriter, r *http.Request) {
	var req SeedCatalogRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	var (
		catalog factory.Catalog
		err     error
	)
	if req.Catalog != nil {
		catalog, err = h.Factory.FromJSON(*req.Catalog)
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
	} else {
		coverage, seed := factory.DefaultCoverage, uint64(factory.DefaultSeed)
		if req.Coverage != nil {
			coverage = *req.Coverage
		}
		if req.Seed != nil {
			seed = *req.Seed
		}
		catalog = factory.SampleCatalog(coverage, seed)
	}

	res, err := h.Factory.Seed(r.Context(), h.Store, h.Ledger, h.Locker, catalog)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.Log.WithFields(logrus.Fields{"items": res.Items, "stocked": res.Stocked, "skipped": res.Skipped}).Info("catalog seeded")

	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, SeedResultDTO{
		Items:       res.Items,
		Stocked:     res.Stocked,
		OpeningCost: money(res.OpeningCost),
		Skipped:     res.Skipped,
	})
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	date, ok := h.queryDate(w, r, "date")
	if !ok {
		return
	}
	levels, err := h.Balances.Inventory(r.Context(), date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InventoryDTO{Date: date.String(), Items: levels})
}

func (h *Handler) GetCash(w http.ResponseWriter, r *http.Request) {
	date, ok := h.queryDate(w, r, "date")
	if !ok {
		return
	}
	cash, err := h.Balances.CashBalance(r.Context(), date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CashDTO{Date: date.String(), Cash: money(cash)})
}

func (h *Handler) GetFinancials(w http.ResponseWriter, r *http.Request) {
	date, ok := h.queryDate(w, r, "date")
	if !ok {
		return
	}
	ctx := r.Context()
	catalog, err := h.Store.Items(ctx)
	if err != nil {
		h.writeLedgerError(w, &ledger.PersistenceError{Op: "load catalog", Err: err})
		return
	}
	snap, err := h.Balances.FinancialSnapshot(ctx, catalog, date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFinancialsDTO(snap))
}

// ListMovements returns ledger movements in (date, seq) order.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{ItemName: q.Get("item")}
	if kind := ledger.Kind(q.Get("kind")); kind != "" {
		if !kind.Valid() {
			h.writeLedgerError(w, &ledger.ValidationError{Field: "kind", Message: "must be restock or sale"})
			return
		}
		f.Kind = kind
	}
	if through := q.Get("through"); through != "" {
		d, err := ledger.ParseDate(through)
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		f.Through = ledger.Through(d)
	}

	dtos := []MovementDTO{}
	for m, err := range h.Ledger.Read(r.Context(), f) {
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		dtos = append(dtos, toMovementDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// QUOTE HANDLERS
// =============================================================================

// CreateQuote prices the request. Free text is parsed by the extractor when
// no structured items are given.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req CreateQuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	ctx := r.Context()

	var reqs []quote.Request
	switch {
	case len(req.Items) == 0 && strings.TrimSpace(req.Text) == "":
		h.writeLedgerError(w, &ledger.ValidationError{Field: "items", Message: "items or text is required"})
		return
	case len(req.Items) > 0:
		reqs = make([]quote.Request, len(req.Items))
		for i, it := range req.Items {
			reqs[i] = quote.Request{ItemName: it.ItemName, Quantity: it.Quantity}
		}
	default:
		reqs, err = h.Extractor.Extract(ctx, req.Text)
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
	}

	q, err := h.Quotes.Generate(ctx, reqs, date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQuoteDTO(q))
}

func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.Quotes.Get(r.Context(), ledger.QuoteID(pathParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q))
}

// SearchHistory returns archived quotes ranked by item overlap.
func (h *Handler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var names []string
	for _, n := range strings.Split(q.Get("items"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		h.writeLedgerError(w, &ledger.ValidationError{Field: "items", Message: "at least one item name is required"})
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeLedgerError(w, &ledger.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = n
	}

	dtos := []HistoryMatchDTO{}
	if h.Quotes.History != nil {
		for _, m := range h.Quotes.History.SearchScored(r.Context(), names, limit) {
			dtos = append(dtos, HistoryMatchDTO{Quote: toQuoteDTO(m.Quote), Score: m.Score})
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// PlaceOrder commits an archived quote. A rejected order answers 409 with
// the shortfalls in the body.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	ctx := r.Context()

	q, err := h.Quotes.Get(ctx, ledger.QuoteID(pathParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	o, err := h.Orders.Place(ctx, q, date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dto := toOrderDTO(o)
	if !o.Fulfilled() {
		writeJSON(w, http.StatusConflict, dto)
		return
	}

	low, err := h.Orders.LowStock(ctx, o)
	if err != nil {
		h.Log.WithError(err).WithField("order_id", o.ID).Warn("failed to check stock after order")
	}
	dto.LowStock = low
	if req.AutoRestock {
		for _, name := range low {
			d, err := h.Restock.Evaluate(ctx, name, date)
			if err != nil {
				h.Log.WithError(err).WithField("item", name).Warn("restock after order failed")
				continue
			}
			dto.Restocks = append(dto.Restocks, toRestockDecisionDTO(d))
		}
	}
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// RESTOCK HANDLERS
// =============================================================================

// EvaluateRestock runs the restock policy for one item.
func (h *Handler) EvaluateRestock(w http.ResponseWriter, r *http.Request) {
	var req RestockRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	d, err := h.Restock.Evaluate(r.Context(), pathParam(r, "name"), date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, restockStatus(d), toRestockDecisionDTO(d))
}

// Reorder buys an explicit quantity, subject to the cash check.
func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	d, err := h.Restock.Reorder(r.Context(), pathParam(r, "name"), req.Quantity, date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, restockStatus(d), toRestockDecisionDTO(d))
}

func restockStatus(d policy.RestockDecision) int {
	switch d.(type) {
	case policy.Ordered:
		return http.StatusCreated
	case policy.Rejected:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorDTO{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps the ledger error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).Error("request failed")
		writeError(w, status, "Internal error", err)
		return
	}
	resp := ErrorDTO{Error: http.StatusText(status), Details: err.Error()}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = map[string]string{ve.Field: ve.Message}
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates its tags. It writes the
// 400 response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: "Validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// queryDate reads an optional date query parameter, defaulting to today.
func (h *Handler) queryDate(w http.ResponseWriter, r *http.Request, key string) (ledger.Date, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return h.Today(), true
	}
	d, err := ledger.ParseDate(s)
	if err != nil {
		h.writeLedgerError(w, err)
		return ledger.Date{}, false
	}
	return d, true
}

// pathParam returns an unescaped chi URL parameter. Item names contain
// spaces and parentheses.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}
