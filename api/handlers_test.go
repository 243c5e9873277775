/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Quote -> order flow and balance endpoints
- Order rejection, restock decisions and their status codes
- Request validation and error mapping
- Catalog seeding and the restock scheduler
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quote-ledger/events"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/ledger/store"
	"github.com/warp/quote-ledger/lock"
	"github.com/warp/quote-ledger/policy"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	h      *Handler
	mem    *store.Memory
	events *events.Recorder
	router http.Handler
}

var today = ledger.MustParseDate("2025-04-01")

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	rec := &events.Recorder{}
	logger, _ := test.NewNullLogger()

	h := NewHandler(mem, lock.NewLocal(time.Second), rec, DefaultOptions(), logger)
	h.Today = func() ledger.Date { return today }
	return &testServer{h: h, mem: mem, events: rec, router: NewRouter(h)}
}

// item adds a catalog item and stocks it on 2025-01-01 at its own price.
func (s *testServer) item(t *testing.T, name, price string, minStock, stock int) {
	t.Helper()
	ctx := context.Background()
	_, err := s.mem.PutItem(ctx, ledger.InventoryItem{Name: name, UnitPrice: decimal.RequireFromString(price), MinStock: minStock})
	require.NoError(t, err)
	if stock > 0 {
		_, err = s.h.Ledger.Append(ctx, ledger.Movement{
			ItemName: name, Kind: ledger.KindRestock, Quantity: stock,
			UnitPrice: decimal.RequireFromString(price), Date: ledger.MustParseDate("2025-01-01"),
		})
		require.NoError(t, err)
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// =============================================================================
// QUOTE -> ORDER FLOW
// =============================================================================

func TestQuoteAndOrder_Flow(t *testing.T) {
	// GIVEN: 500 A4 paper at 10.00, cash 50000 - 5000 = 45000
	// WHEN: Quoting 250 and committing the quote
	// THEN: Total 2375.00, cash 47375.00, stock 250

	s := newTestServer(t)
	s.item(t, "A4 paper", "10", 100, 500)

	rr := s.do(t, http.MethodPost, "/api/quotes", CreateQuoteRequest{
		Items: []QuoteItemRequest{{ItemName: "A4 paper", Quantity: 250}},
		Date:  "2025-04-28",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	q := decodeBody[QuoteDTO](t, rr)
	assert.Equal(t, "2375.00", q.Total)
	assert.Equal(t, "0.05", q.DiscountRate)
	require.Len(t, q.Lines, 1)
	assert.Equal(t, "2025-05-02", q.Lines[0].DeliveryDate)

	rr = s.do(t, http.MethodGet, "/api/quotes/"+q.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, q.ID, decodeBody[QuoteDTO](t, rr).ID)

	rr = s.do(t, http.MethodPost, "/api/quotes/"+q.ID+"/orders", PlaceOrderRequest{Date: "2025-04-28"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	o := decodeBody[OrderDTO](t, rr)
	assert.Equal(t, "fulfilled", o.Status)
	assert.Len(t, o.MovementIDs, 1)
	assert.Empty(t, o.LowStock)

	rr = s.do(t, http.MethodGet, "/api/cash?date=2025-04-28", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "47375.00", decodeBody[CashDTO](t, rr).Cash)

	rr = s.do(t, http.MethodGet, "/api/items/A4%20paper/stock?date=2025-04-28", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stock := decodeBody[StockDTO](t, rr)
	assert.Equal(t, 250, stock.Stock)
	assert.Equal(t, 250, stock.Available)

	rr = s.do(t, http.MethodGet, "/api/inventory?date=2025-04-28", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]int{"A4 paper": 250}, decodeBody[InventoryDTO](t, rr).Items)

	rr = s.do(t, http.MethodGet, "/api/movements?item=A4%20paper&kind=sale", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	moves := decodeBody[[]MovementDTO](t, rr)
	require.Len(t, moves, 1)
	assert.Equal(t, "2375.00", moves[0].Value)
	assert.Equal(t, o.ID, moves[0].Reference)

	rr = s.do(t, http.MethodGet, "/api/financials?date=2025-04-28", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	fin := decodeBody[FinancialsDTO](t, rr)
	assert.Equal(t, "47375.00", fin.Cash)
	assert.Equal(t, "2500.00", fin.InventoryValue)
	assert.Equal(t, "49875.00", fin.TotalAssets)
	require.Len(t, fin.TopSellers, 1)
	assert.Equal(t, 250, fin.TopSellers[0].Units)

	assert.Equal(t, []string{events.TopicOrderFulfilled}, s.events.Topics())
}

func TestPlaceOrder_RejectedIsConflictWithShortfalls(t *testing.T) {
	s := newTestServer(t)
	s.item(t, "Cardstock", "0.15", 0, 20)

	rr := s.do(t, http.MethodPost, "/api/quotes", CreateQuoteRequest{
		Items: []QuoteItemRequest{{ItemName: "Cardstock", Quantity: 50}},
		Date:  "2025-04-01",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	q := decodeBody[QuoteDTO](t, rr)

	rr = s.do(t, http.MethodPost, "/api/quotes/"+q.ID+"/orders", PlaceOrderRequest{Date: "2025-04-01"})
	require.Equal(t, http.StatusConflict, rr.Code)
	o := decodeBody[OrderDTO](t, rr)
	assert.Equal(t, "rejected", o.Status)
	assert.Equal(t, "0.00", o.Total)
	assert.Equal(t, []ShortfallDTO{{ItemName: "Cardstock", Requested: 50, Available: 20}}, o.Shortfalls)
}

func TestPlaceOrder_AutoRestockReplenishesLowItems(t *testing.T) {
	// GIVEN: 150 envelopes, MinStock 100
	// WHEN: Ordering 100 with auto_restock
	// THEN: Stock 50 is low, 50 + 200 = 250 are bought

	s := newTestServer(t)
	s.item(t, "Envelopes", "0.05", 100, 150)

	q := decodeBody[QuoteDTO](t, s.do(t, http.MethodPost, "/api/quotes", CreateQuoteRequest{
		Items: []QuoteItemRequest{{ItemName: "Envelopes", Quantity: 100}},
		Date:  "2025-04-01",
	}))

	rr := s.do(t, http.MethodPost, "/api/quotes/"+q.ID+"/orders", PlaceOrderRequest{Date: "2025-04-01", AutoRestock: true})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	o := decodeBody[OrderDTO](t, rr)
	assert.Equal(t, []string{"Envelopes"}, o.LowStock)
	require.Len(t, o.Restocks, 1)
	assert.Equal(t, "ordered", o.Restocks[0].Decision)
	assert.Equal(t, 250, o.Restocks[0].Quantity)
}

func TestCreateQuote_FromFreeText(t *testing.T) {
	s := newTestServer(t)
	s.item(t, "A4 paper", "0.05", 0, 0)
	s.item(t, "Cardstock", "0.15", 0, 0)

	rr := s.do(t, http.MethodPost, "/api/quotes", CreateQuoteRequest{
		Text: "500 sheets of A4 paper and 200 Cardstock.",
		Date: "2025-04-01",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	q := decodeBody[QuoteDTO](t, rr)
	require.Len(t, q.Lines, 2)
}

func TestSearchHistory(t *testing.T) {
	s := newTestServer(t)
	s.item(t, "A4 paper", "0.05", 0, 0)
	s.item(t, "Cardstock", "0.15", 0, 0)

	for _, items := range [][]QuoteItemRequest{
		{{ItemName: "A4 paper", Quantity: 10}, {ItemName: "Cardstock", Quantity: 10}},
		{{ItemName: "Cardstock", Quantity: 10}},
	} {
		rr := s.do(t, http.MethodPost, "/api/quotes", CreateQuoteRequest{Items: items, Date: "2025-04-01"})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := s.do(t, http.MethodGet, "/api/quotes/history?items=a4%20paper,cardstock&limit=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	matches := decodeBody[[]HistoryMatchDTO](t, rr)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Len(t, matches[0].Quote.Lines, 2)

	rr = s.do(t, http.MethodGet, "/api/quotes/history", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// RESTOCK
// =============================================================================

func TestRestock_DecisionsAndStatusCodes(t *testing.T) {
	s := newTestServer(t)
	s.item(t, "Notepads", "2.00", 100, 100)
	s.item(t, "Table covers", "1.50", 10, 50)

	rr := s.do(t, http.MethodPost, "/api/restock/Notepads", RestockRequest{Date: "2025-04-01"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "no_action", decodeBody[RestockDecisionDTO](t, rr).Decision)

	rr = s.do(t, http.MethodPost, "/api/restock/Table%20covers/orders", ReorderRequest{Date: "2025-04-01", Quantity: 40})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	d := decodeBody[RestockDecisionDTO](t, rr)
	assert.Equal(t, "ordered", d.Decision)
	assert.Equal(t, "60.00", d.Cost)
	assert.Equal(t, "2025-04-02", d.ETA)

	// 60,000.00 is more than the cash on hand
	rr = s.do(t, http.MethodPost, "/api/restock/Notepads/orders", ReorderRequest{Date: "2025-04-01", Quantity: 30000})
	require.Equal(t, http.StatusConflict, rr.Code)
	d = decodeBody[RestockDecisionDTO](t, rr)
	assert.Equal(t, "rejected", d.Decision)
	assert.Contains(t, d.Reason, "insufficient cash")

	rr = s.do(t, http.MethodPost, "/api/restock/Unobtainium", RestockRequest{Date: "2025-04-01"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, []string{events.TopicRestockOrdered, events.TopicRestockRejected}, s.events.Topics())
}

func TestRestockScheduler_RunNow(t *testing.T) {
	s := newTestServer(t)
	s.item(t, "Flyers", "0.15", 100, 40)
	s.item(t, "Crepe paper", "0.05", 0, 0)
	s.item(t, "Paper cups", "0.08", 50, 500)

	logger, _ := test.NewNullLogger()
	sched := NewRestockScheduler(s.mem, s.h.Restock, logger)
	sched.Today = func() ledger.Date { return today }

	decisions := sched.RunNow(context.Background())
	require.Len(t, decisions, 2, "items without a minimum are skipped")

	byItem := map[string]policy.RestockDecision{}
	for _, d := range decisions {
		byItem[d.Item()] = d
	}
	ordered, ok := byItem["Flyers"].(policy.Ordered)
	require.True(t, ok, "got %T", byItem["Flyers"])
	assert.Equal(t, 260, ordered.Quantity)
	assert.IsType(t, policy.NoActionNeeded{}, byItem["Paper cups"])
}

func TestRestockScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	logger, _ := test.NewNullLogger()
	sched := NewRestockScheduler(s.mem, s.h.Restock, logger)
	sched.CheckInterval = 10 * time.Millisecond

	sched.Start()
	sched.Start()
	time.Sleep(30 * time.Millisecond)
	sched.Stop()
	sched.Stop()

	sched.CheckInterval = 0
	sched.Start()
	sched.Stop()
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCreateAndListItems(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/items", CreateItemRequest{ItemName: "Kraft paper", Category: "paper", UnitPrice: "0.10", MinStock: 60})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, 1, decodeBody[ItemDTO](t, rr).Revision)

	rr = s.do(t, http.MethodPost, "/api/items", CreateItemRequest{ItemName: "Kraft paper", UnitPrice: "0.12"})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, 2, decodeBody[ItemDTO](t, rr).Revision)

	rr = s.do(t, http.MethodGet, "/api/items", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	items := decodeBody[[]ItemDTO](t, rr)
	require.Len(t, items, 1)
	assert.Equal(t, "0.12", items[0].UnitPrice)

	rr = s.do(t, http.MethodPost, "/api/items", CreateItemRequest{ItemName: "Free paper", UnitPrice: "0"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/items/Kraft%20paper/stock", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, today.String(), decodeBody[StockDTO](t, rr).Date)

	rr = s.do(t, http.MethodGet, "/api/items/Nothing/stock", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSeedCatalog(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/catalog/seed", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decodeBody[SeedResultDTO](t, rr)
	assert.Equal(t, 46, res.Items)
	assert.Equal(t, 18, res.Stocked)

	rr = s.do(t, http.MethodPost, "/api/catalog/seed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[SeedResultDTO](t, rr).Skipped)

	rr = s.do(t, http.MethodGet, "/api/financials?date=2025-01-01", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	fin := decodeBody[FinancialsDTO](t, rr)
	assert.Len(t, fin.Items, 18)
	assert.Equal(t, "50000.00", fin.TotalAssets, "opening stock moves cash into inventory")
}

func TestSeedCatalog_CustomCatalog(t *testing.T) {
	s := newTestServer(t)
	body := `{"catalog": {"items": [{"item_name": "Photo paper", "unit_price": "0.25", "opening_stock": 400}]}}`

	rr := s.do(t, http.MethodPost, "/api/catalog/seed", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "100.00", decodeBody[SeedResultDTO](t, rr).OpeningCost)

	rr = s.do(t, http.MethodPost, "/api/catalog/seed", `{"coverage": 2}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// VALIDATION AND ERROR MAPPING
// =============================================================================

func TestValidation(t *testing.T) {
	s := newTestServer(t)
	s.item(t, "A4 paper", "0.05", 0, 0)

	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"malformed json", "/api/quotes", `{"items": [`, http.StatusBadRequest},
		{"missing date", "/api/quotes", CreateQuoteRequest{Items: []QuoteItemRequest{{ItemName: "A4 paper", Quantity: 1}}}, http.StatusBadRequest},
		{"zero quantity", "/api/quotes", CreateQuoteRequest{Items: []QuoteItemRequest{{ItemName: "A4 paper"}}, Date: "2025-04-01"}, http.StatusBadRequest},
		{"no items or text", "/api/quotes", CreateQuoteRequest{Date: "2025-04-01"}, http.StatusBadRequest},
		{"bad date", "/api/quotes", CreateQuoteRequest{Items: []QuoteItemRequest{{ItemName: "A4 paper", Quantity: 1}}, Date: "April"}, http.StatusBadRequest},
		{"unknown item", "/api/quotes", CreateQuoteRequest{Items: []QuoteItemRequest{{ItemName: "Moon rock", Quantity: 1}}, Date: "2025-04-01"}, http.StatusNotFound},
		{"unknown quote", "/api/quotes/nope/orders", PlaceOrderRequest{Date: "2025-04-01"}, http.StatusNotFound},
		{"reorder without quantity", "/api/restock/A4%20paper/orders", ReorderRequest{Date: "2025-04-01"}, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, c.path, c.body)
			assert.Equal(t, c.want, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorDTO](t, rr).Error)
		})
	}

	rr := s.do(t, http.MethodPost, "/api/quotes", CreateQuoteRequest{Items: []QuoteItemRequest{{ItemName: "A4 paper"}}, Date: "2025-04-01"})
	fields := decodeBody[ErrorDTO](t, rr).Fields
	assert.Equal(t, "required", fields["CreateQuoteRequest.Items[0].Quantity"])

	for _, path := range []string{"/api/cash?date=nope", "/api/movements?kind=refund", "/api/movements?through=x"} {
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, path, nil).Code, path)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&ledger.ValidationError{Field: "x"}, http.StatusBadRequest},
		{&ledger.NotFoundError{Kind: "item"}, http.StatusNotFound},
		{&ledger.InsufficientStockError{}, http.StatusConflict},
		{&ledger.InsufficientCashError{}, http.StatusConflict},
		{&ledger.ConcurrencyConflictError{Keys: []string{"a"}}, http.StatusConflict},
		{&ledger.PersistenceError{Op: "load", Err: errors.New("io")}, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", &ledger.NotFoundError{Kind: "quote"}), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), "%v", c.err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
