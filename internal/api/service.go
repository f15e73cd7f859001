// Package api provides the HTTP handlers for the challenge engine: the
// enrollment API, the leaderboard read API, portfolio valuation, trade
// submission, and price ingest. Handlers are thin adapters — all business
// computation lives in the domain packages.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/barometer"
	"github.com/brvmchallenge/engine/internal/challenge"
	"github.com/brvmchallenge/engine/internal/leaderboard"
	"github.com/brvmchallenge/engine/internal/model"
	"github.com/brvmchallenge/engine/internal/ranking"
	"github.com/brvmchallenge/engine/internal/store"
	"github.com/brvmchallenge/engine/internal/trade"
	"github.com/brvmchallenge/engine/internal/valuation"
	"github.com/brvmchallenge/engine/internal/wallet"
)

// Service handles HTTP requests. Pass nil for hub if WebSocket broadcasting
// is not needed.
type Service struct {
	st        store.Store
	gate      *wallet.Gate
	tracker   *challenge.Tracker
	window    *challenge.Window
	processor *trade.Processor
	board     *leaderboard.Cache
	wsHub     *WSHub
}

// NewService creates the HTTP service.
func NewService(
	st store.Store,
	gate *wallet.Gate,
	tracker *challenge.Tracker,
	window *challenge.Window,
	processor *trade.Processor,
	board *leaderboard.Cache,
	hub *WSHub,
) *Service {
	return &Service{
		st:        st,
		gate:      gate,
		tracker:   tracker,
		window:    window,
		processor: processor,
		board:     board,
		wsHub:     hub,
	}
}

// Routes mounts all API routes on a chi router.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Post("/challenge/enroll", s.Enroll)
	r.Post("/challenge/rules/accept", s.AcceptRules)
	r.Get("/challenge/status/{userID}", s.Status)

	r.Get("/leaderboard", s.TopN)
	r.Get("/leaderboard/rank/{userID}", s.MyRank)

	r.Get("/portfolio/{userID}", s.GetPortfolio)
	r.Post("/trade", s.ExecuteTrade)

	r.Post("/prices", s.IngestPrice)
	r.Get("/prices/{ticker}", s.GetPrice)

	r.Get("/barometer", s.Barometer)
}

// --- Request/Response types ---

// EnrollRequest is the JSON body for POST /challenge/enroll.
type EnrollRequest struct {
	UserID        string            `json:"user_id"`
	AcceptRules   bool              `json:"accept_rules"`
	Questionnaire map[string]string `json:"questionnaire,omitempty"`
}

// AcceptRulesRequest is the JSON body for POST /challenge/rules/accept.
type AcceptRulesRequest struct {
	UserID string `json:"user_id"`
}

// StatusResponse extends the eligibility status with the window state.
type StatusResponse struct {
	challenge.Status
	Window challenge.WindowState `json:"window"`
}

// LeaderboardResponse is the JSON body for GET /leaderboard.
type LeaderboardResponse struct {
	Entries []model.LeaderboardEntry `json:"entries"`
	Cached  bool                     `json:"cached"`
}

// PortfolioResponse is the JSON body for GET /portfolio/{userID}.
type PortfolioResponse struct {
	Portfolio model.Portfolio  `json:"portfolio"`
	Positions []model.Position `json:"positions"`
	Snapshot  model.Snapshot   `json:"snapshot"`
}

// IngestPriceRequest is the scraper's JSON body for POST /prices.
type IngestPriceRequest struct {
	Ticker string          `json:"ticker"`
	Day    string          `json:"day"` // YYYY-MM-DD
	Close  decimal.Decimal `json:"close"`
}

// --- Challenge enrollment ---

// Enroll handles POST /api/v1/challenge/enroll
func (s *Service) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	enrollment := &model.Enrollment{
		UserID:        req.UserID,
		RulesAccepted: req.AcceptRules,
		Questionnaire: req.Questionnaire,
		EnrolledAt:    time.Now().UTC(),
	}
	if err := s.st.InsertEnrollment(r.Context(), enrollment); err != nil {
		if errors.Is(err, store.ErrAlreadyEnrolled) {
			writeError(w, "user already enrolled", http.StatusConflict)
			return
		}
		writeError(w, "failed to enroll", http.StatusInternalServerError)
		return
	}

	slog.Info("challenge enrollment", "user", req.UserID, "rules_accepted", req.AcceptRules)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(enrollment)
}

// AcceptRules handles POST /api/v1/challenge/rules/accept
func (s *Service) AcceptRules(w http.ResponseWriter, r *http.Request) {
	var req AcceptRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := s.st.SetRulesAccepted(r.Context(), req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user not enrolled", http.StatusNotFound)
			return
		}
		writeError(w, "failed to accept rules", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/v1/challenge/status/{userID}
func (s *Service) Status(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	status, err := s.tracker.Status(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load status", http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{Status: status, Window: s.window.State(time.Now().UTC())}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Leaderboard ---

// TopN handles GET /api/v1/leaderboard?limit=N
func (s *Service) TopN(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, cached, err := s.board.TopN(r.Context(), limit)
	if err != nil {
		writeError(w, "leaderboard temporarily unavailable, try again", http.StatusServiceUnavailable)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	setCacheHeader(w, cached)
	json.NewEncoder(w).Encode(LeaderboardResponse{Entries: entries, Cached: cached})
}

// MyRank handles GET /api/v1/leaderboard/rank/{userID}
func (s *Service) MyRank(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	rank, cached, err := s.board.MyRank(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ranking.ErrNotRanked) {
			writeError(w, "user is not on the leaderboard", http.StatusNotFound)
			return
		}
		writeError(w, "leaderboard temporarily unavailable, try again", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	setCacheHeader(w, cached)
	json.NewEncoder(w).Encode(rank)
}

// --- Portfolio ---

// GetPortfolio handles GET /api/v1/portfolio/{userID}?wallet=SANDBOX|CONCOURS
// Returns the portfolio, its positions, and a fresh valuation snapshot.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	mode := model.WalletMode(r.URL.Query().Get("wallet"))
	if mode == "" {
		mode = model.WalletSandbox
	}
	if !mode.Valid() {
		writeError(w, "wallet must be SANDBOX or CONCOURS", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	pf, err := s.gate.Resolve(ctx, userID, mode)
	if err != nil {
		if errors.Is(err, wallet.ErrNotEnrolled) {
			writeError(w, "not enrolled in challenge", http.StatusForbidden)
			return
		}
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	positions, err := s.st.GetPositions(ctx, pf.ID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	prices, err := s.st.ListCurrentPrices(ctx)
	if err != nil {
		writeError(w, "failed to load prices", http.StatusInternalServerError)
		return
	}

	snap := valuation.Compute(pf, positions, valuation.MapPrices(prices))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PortfolioResponse{
		Portfolio: *pf,
		Positions: positions,
		Snapshot:  snap,
	})
}

// --- Trading ---

// ExecuteTrade handles POST /api/v1/trade
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req trade.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Wallet == "" {
		req.Wallet = model.WalletSandbox
	}
	if !req.Wallet.Valid() {
		writeError(w, "wallet must be SANDBOX or CONCOURS", http.StatusBadRequest)
		return
	}

	res, err := s.processor.Execute(r.Context(), req)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_executed",
			UserID:   res.Transaction.UserID,
			Wallet:   string(res.Transaction.Wallet),
			Ticker:   res.Transaction.Ticker,
			Side:     res.Transaction.Side,
			Quantity: res.Transaction.Quantity,
			Price:    res.Transaction.Price.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// writeTradeError maps processor errors to HTTP statuses.
func writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wallet.ErrNotEnrolled):
		writeError(w, "not enrolled in challenge", http.StatusForbidden)
	case errors.Is(err, trade.ErrWindowClosed),
		errors.Is(err, trade.ErrWeekend),
		errors.Is(err, trade.ErrPriceUnavailable),
		errors.Is(err, trade.ErrInsufficientFunds),
		errors.Is(err, trade.ErrInsufficientShares):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	default:
		writeError(w, err.Error(), http.StatusBadRequest)
	}
}

// --- Prices ---

// IngestPrice handles POST /api/v1/prices (the scraper's write path).
func (s *Service) IngestPrice(w http.ResponseWriter, r *http.Request) {
	var req IngestPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Ticker == "" {
		writeError(w, "ticker is required", http.StatusBadRequest)
		return
	}
	day, err := time.Parse("2006-01-02", req.Day)
	if err != nil {
		writeError(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if !req.Close.IsPositive() {
		writeError(w, "close must be positive", http.StatusBadRequest)
		return
	}

	point := &model.PricePoint{Ticker: req.Ticker, Day: day, Close: req.Close}
	if err := s.st.UpsertPrice(r.Context(), point); err != nil {
		writeError(w, "failed to store price", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPrice handles GET /api/v1/prices/{ticker}?date=YYYY-MM-DD
// Without a date it returns the latest known price.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	ctx := r.Context()

	var price decimal.Decimal
	var err error
	if dateS := r.URL.Query().Get("date"); dateS != "" {
		day, perr := time.Parse("2006-01-02", dateS)
		if perr != nil {
			writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		price, err = s.st.PriceAt(ctx, ticker, day)
	} else {
		price, err = s.st.CurrentPrice(ctx, ticker)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "no price for ticker", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load price", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"ticker": ticker, "price": price})
}

// --- Barometer ---

// Barometer handles GET /api/v1/barometer?n=5
func (s *Service) Barometer(w http.ResponseWriter, r *http.Request) {
	n := 5
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 50 {
			n = parsed
		}
	}

	feed, err := barometer.Compute(r.Context(), s.st, time.Now().UTC(), n)
	if err != nil {
		writeError(w, "failed to compute barometer", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(feed)
}

// --- Helpers ---

// setCacheHeader marks whether the response was served from cache.
func setCacheHeader(w http.ResponseWriter, cached bool) {
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
