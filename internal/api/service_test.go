package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/challenge"
	"github.com/brvmchallenge/engine/internal/leaderboard"
	"github.com/brvmchallenge/engine/internal/model"
	"github.com/brvmchallenge/engine/internal/ranking"
	"github.com/brvmchallenge/engine/internal/store"
	"github.com/brvmchallenge/engine/internal/trade"
	"github.com/brvmchallenge/engine/internal/wallet"
)

// apiClock is a Tuesday inside the test contest window.
var apiClock = time.Date(2025, 4, 15, 11, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *store.MemoryStore
	router *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ms := store.NewMemoryStore()
	gate := wallet.NewGate(ms, decimal.NewFromInt(1000000))
	tracker := challenge.NewTracker(ms)
	window := challenge.NewWindow(
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
	)
	board := leaderboard.New(ranking.NewAggregator(ms), nil, 0)
	processor := trade.NewProcessor(ms, gate, window, board)
	processor.Now = func() time.Time { return apiClock }

	svc := NewService(ms, gate, tracker, window, processor, board, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	return &testEnv{store: ms, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedPrice(t *testing.T, ticker string, price int64) {
	t.Helper()
	point := &model.PricePoint{
		Ticker: ticker,
		Day:    apiClock.Truncate(24 * time.Hour),
		Close:  decimal.NewFromInt(price),
	}
	if err := e.store.UpsertPrice(context.Background(), point); err != nil {
		t.Fatalf("seed price: %v", err)
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
}

func TestEnroll(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/challenge/enroll", EnrollRequest{
		UserID:      "alice",
		AcceptRules: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Enrolling twice conflicts.
	rec = env.do(t, http.MethodPost, "/api/v1/challenge/enroll", EnrollRequest{UserID: "alice"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate enrollment, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/challenge/enroll", EnrollRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing user_id, got %d", rec.Code)
	}
}

func TestAcceptRules(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/challenge/rules/accept", AcceptRulesRequest{UserID: "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unenrolled user, got %d", rec.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/challenge/enroll", EnrollRequest{UserID: "alice"})
	rec = env.do(t, http.MethodPost, "/api/v1/challenge/rules/accept", AcceptRulesRequest{UserID: "alice"})
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/challenge/enroll", EnrollRequest{UserID: "alice", AcceptRules: true})

	rec := env.do(t, http.MethodGet, "/api/v1/challenge/status/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp StatusResponse
	decodeJSON(t, rec, &resp)
	if !resp.Enrolled || resp.IsEligible || resp.ValidTransactions != 0 {
		t.Errorf("unexpected status: %+v", resp)
	}
	if resp.Window == "" {
		t.Errorf("window state missing from status response")
	}
}

func TestGetPortfolio(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrice(t, "SNTS", 1200)

	// First access creates the sandbox portfolio.
	rec := env.do(t, http.MethodGet, "/api/v1/portfolio/alice?wallet=SANDBOX", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp PortfolioResponse
	decodeJSON(t, rec, &resp)
	if !resp.Portfolio.Cash.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("expected initial cash 1000000, got %s", resp.Portfolio.Cash)
	}
	if len(resp.Positions) != 0 {
		t.Errorf("expected no positions, got %d", len(resp.Positions))
	}
	if !resp.Snapshot.TotalValue.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("expected total value 1000000, got %s", resp.Snapshot.TotalValue)
	}
}

func TestGetPortfolio_ConcoursRequiresEnrollment(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/portfolio/alice?wallet=CONCOURS", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	env.do(t, http.MethodPost, "/api/v1/challenge/enroll", EnrollRequest{UserID: "alice", AcceptRules: true})
	rec = env.do(t, http.MethodGet, "/api/v1/portfolio/alice?wallet=CONCOURS", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 after enrollment, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetPortfolio_InvalidWallet(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/portfolio/alice?wallet=MARGIN", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown wallet, got %d", rec.Code)
	}
}

func TestExecuteTrade(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrice(t, "SNTS", 1200)

	rec := env.do(t, http.MethodPost, "/api/v1/trade", trade.Request{
		UserID:   "alice",
		Wallet:   model.WalletSandbox,
		Ticker:   "SNTS",
		Side:     model.SideBuy,
		Quantity: 10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res trade.Result
	decodeJSON(t, rec, &res)
	if !res.Cash.Equal(decimal.NewFromInt(988000)) {
		t.Errorf("expected cash 988000 after buy, got %s", res.Cash)
	}
	if res.Position.Quantity != 10 {
		t.Errorf("expected position of 10 shares, got %d", res.Position.Quantity)
	}
}

func TestExecuteTrade_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrice(t, "SNTS", 1200)

	cases := []struct {
		name string
		req  trade.Request
		want int
	}{
		{
			name: "price unavailable",
			req:  trade.Request{UserID: "alice", Wallet: model.WalletSandbox, Ticker: "NOPE", Side: model.SideBuy, Quantity: 1},
			want: http.StatusConflict,
		},
		{
			name: "insufficient funds",
			req:  trade.Request{UserID: "alice", Wallet: model.WalletSandbox, Ticker: "SNTS", Side: model.SideBuy, Quantity: 1000000},
			want: http.StatusConflict,
		},
		{
			name: "insufficient shares",
			req:  trade.Request{UserID: "alice", Wallet: model.WalletSandbox, Ticker: "SNTS", Side: model.SideSell, Quantity: 5},
			want: http.StatusConflict,
		},
		{
			name: "concours without enrollment",
			req:  trade.Request{UserID: "bob", Wallet: model.WalletConcours, Ticker: "SNTS", Side: model.SideBuy, Quantity: 1},
			want: http.StatusForbidden,
		},
		{
			name: "missing quantity",
			req:  trade.Request{UserID: "alice", Wallet: model.WalletSandbox, Ticker: "SNTS", Side: model.SideBuy},
			want: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/trade", tc.req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrice(t, "SNTS", 1200)

	for _, user := range []string{"alice", "bob"} {
		env.do(t, http.MethodPost, "/api/v1/challenge/enroll", EnrollRequest{UserID: user, AcceptRules: true})
		rec := env.do(t, http.MethodPost, "/api/v1/trade", trade.Request{
			UserID: user, Wallet: model.WalletConcours, Ticker: "SNTS", Side: model.SideBuy, Quantity: 10,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("trade for %s failed: %d %s", user, rec.Code, rec.Body.String())
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/leaderboard?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("expected X-Cache MISS without backend, got %q", got)
	}
	var resp LeaderboardResponse
	decodeJSON(t, rec, &resp)
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	// Equal gain, so ties break by enrollment order: alice enrolled first.
	if resp.Entries[0].UserID != "alice" || resp.Entries[0].Rank != 1 {
		t.Errorf("unexpected first entry: %+v", resp.Entries[0])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/leaderboard/rank/bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rank ranking.Rank
	decodeJSON(t, rec, &rank)
	if rank.Rank != 2 || rank.TotalParticipants != 2 {
		t.Errorf("unexpected rank: %+v", rank)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/leaderboard/rank/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unranked user, got %d", rec.Code)
	}
}

func TestLeaderboard_LimitValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"limit=0", "limit=-3", "limit=9999", "limit=abc"} {
		rec := env.do(t, http.MethodGet, "/api/v1/leaderboard?"+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestPrices(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/prices", IngestPriceRequest{
		Ticker: "SNTS",
		Day:    "2025-04-14",
		Close:  decimal.NewFromInt(1150),
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/v1/prices", IngestPriceRequest{
		Ticker: "SNTS",
		Day:    "2025-04-15",
		Close:  decimal.NewFromInt(1200),
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	// Latest close wins without a date.
	rec = env.do(t, http.MethodGet, "/api/v1/prices/SNTS", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Ticker string          `json:"ticker"`
		Price  decimal.Decimal `json:"price"`
	}
	decodeJSON(t, rec, &resp)
	if !resp.Price.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("expected latest price 1200, got %s", resp.Price)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/prices/SNTS?date=2025-04-14", nil)
	decodeJSON(t, rec, &resp)
	if !resp.Price.Equal(decimal.NewFromInt(1150)) {
		t.Errorf("expected historical price 1150, got %s", resp.Price)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/prices/UNKNOWN", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown ticker, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/prices", IngestPriceRequest{
		Ticker: "SNTS",
		Day:    "2025-04-15",
		Close:  decimal.NewFromInt(-5),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative close, got %d", rec.Code)
	}
}

func TestBarometer(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrice(t, "SNTS", 1200)
	env.seedPrice(t, "BOAB", 500)

	env.do(t, http.MethodPost, "/api/v1/trade", trade.Request{
		UserID: "alice", Wallet: model.WalletSandbox, Ticker: "SNTS", Side: model.SideBuy, Quantity: 100,
	})
	env.do(t, http.MethodPost, "/api/v1/trade", trade.Request{
		UserID: "alice", Wallet: model.WalletSandbox, Ticker: "BOAB", Side: model.SideBuy, Quantity: 5,
	})

	rec := env.do(t, http.MethodGet, "/api/v1/barometer?n=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var feed struct {
		Top []model.TickerVolume `json:"top"`
	}
	decodeJSON(t, rec, &feed)
	if len(feed.Top) != 2 || feed.Top[0].Ticker != "SNTS" {
		t.Errorf("unexpected barometer top: %+v", feed.Top)
	}
}

// A CONCOURS trade must refresh the trader's own rank even while the cached
// top page keeps serving until TTL. Without a cache backend both endpoints
// recompute, so here we only pin the invalidation wiring end to end.
func TestTradeInvalidatesOwnRank(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrice(t, "SNTS", 1000)

	env.do(t, http.MethodPost, "/api/v1/challenge/enroll", EnrollRequest{UserID: "alice", AcceptRules: true})

	rec := env.do(t, http.MethodPost, "/api/v1/trade", trade.Request{
		UserID: "alice", Wallet: model.WalletConcours, Ticker: "SNTS", Side: model.SideBuy, Quantity: 10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("trade failed: %d %s", rec.Code, rec.Body.String())
	}

	// Price moves; the trader's rank read reflects the move immediately.
	env.seedPrice(t, "SNTS", 1100)
	rec = env.do(t, http.MethodGet, "/api/v1/leaderboard/rank/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rank read failed: %d %s", rec.Code, rec.Body.String())
	}
	var rank ranking.Rank
	decodeJSON(t, rec, &rank)
	if !rank.GainLossPercent.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("expected gain 0.1%%, got %s", rank.GainLossPercent)
	}
}

func TestHealthStyleSmoke(t *testing.T) {
	env := newTestEnv(t)

	// Unknown routes 404 through chi.
	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/nope-%d", time.Now().Unix()), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
