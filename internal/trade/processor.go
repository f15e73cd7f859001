// Package trade implements the transaction processor: the sole writer of
// the position ledger, cash balances, and the immutable transaction ledger.
// Trades execute at the latest scraped price; the processor enforces trade
// legality (funds, holdings, challenge trading window) that the wallet gate
// deliberately does not.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/challenge"
	"github.com/brvmchallenge/engine/internal/metrics"
	"github.com/brvmchallenge/engine/internal/model"
	"github.com/brvmchallenge/engine/internal/store"
	"github.com/brvmchallenge/engine/internal/wallet"
)

var (
	// ErrWindowClosed is returned for CONCOURS trades outside the contest
	// date window.
	ErrWindowClosed = errors.New("trade: challenge trading window is closed")

	// ErrWeekend is returned for CONCOURS trades on Saturdays and Sundays
	// (reference timezone).
	ErrWeekend = errors.New("trade: challenge trading is closed on weekends")

	// ErrPriceUnavailable is returned when the scraper has no price for the
	// ticker. A trade cannot execute without a live price.
	ErrPriceUnavailable = errors.New("trade: no price available for ticker")

	// ErrInsufficientFunds is returned when a buy exceeds the cash balance.
	ErrInsufficientFunds = errors.New("trade: insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the held quantity.
	ErrInsufficientShares = errors.New("trade: insufficient shares")
)

// Invalidator receives a hook after every CONCOURS trade so the trader's
// cached personal rank is dropped. Implemented by leaderboard.Cache.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID string)
}

// Request describes one buy or sell.
type Request struct {
	UserID   string           `json:"user_id"`
	Wallet   model.WalletMode `json:"wallet"`
	Ticker   string           `json:"ticker"`
	Side     string           `json:"side"`     // "BUY" or "SELL"
	Quantity int64            `json:"quantity"` // whole shares, > 0
}

// Result is the post-trade state returned to the caller.
type Result struct {
	Transaction model.Transaction `json:"transaction"`
	Cash        decimal.Decimal   `json:"cash"`
	Position    model.Position    `json:"position"` // zero quantity when fully sold
}

// Processor executes trades. Uses a mutex for serialized execution
// (single-instance). For horizontal scaling, replace with database-level
// optimistic concurrency.
type Processor struct {
	st          store.Store
	gate        *wallet.Gate
	window      *challenge.Window
	invalidator Invalidator // optional

	// Now overrides the trade clock; tests pin it to a fixed weekday.
	Now func() time.Time

	mu sync.Mutex
}

// NewProcessor creates a trade processor. invalidator may be nil when no
// leaderboard cache is wired.
func NewProcessor(st store.Store, gate *wallet.Gate, window *challenge.Window, invalidator Invalidator) *Processor {
	return &Processor{st: st, gate: gate, window: window, invalidator: invalidator}
}

// Execute validates and applies one trade.
//
// Positions merge under average-cost accounting: a buy re-averages the
// position's cost, a sell pays out at the live price and leaves the average
// untouched, and a position sold down to 0 is removed. Cash and positions
// move together so that, absent price changes, cash + Σ(quantity × avg cost)
// accounts exactly for the money spent and received.
func (p *Processor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("trade: user_id is required")
	}
	if req.Ticker == "" {
		return nil, fmt.Errorf("trade: ticker is required")
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return nil, fmt.Errorf("trade: side must be BUY or SELL")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("trade: quantity must be positive")
	}

	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now()
	}
	if req.Wallet == model.WalletConcours {
		if p.window.State(now) != challenge.WindowOpen {
			metrics.TradeRejections.WithLabelValues("window_closed").Inc()
			return nil, ErrWindowClosed
		}
		if !p.window.TradingAllowed(now) {
			metrics.TradeRejections.WithLabelValues("weekend").Inc()
			return nil, ErrWeekend
		}
	}

	price, err := p.st.CurrentPrice(ctx, req.Ticker)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.TradeRejections.WithLabelValues("price_unavailable").Inc()
			return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, req.Ticker)
		}
		return nil, err
	}

	// Serialize the read-modify-write of cash and positions.
	p.mu.Lock()
	defer p.mu.Unlock()

	pf, err := p.gate.Resolve(ctx, req.UserID, req.Wallet)
	if err != nil {
		return nil, err
	}

	positions, err := p.st.GetPositions(ctx, pf.ID)
	if err != nil {
		return nil, err
	}
	current := model.Position{PortfolioID: pf.ID, Ticker: req.Ticker, AvgBuyPrice: decimal.Zero}
	for _, pos := range positions {
		if pos.Ticker == req.Ticker {
			current = pos
			break
		}
	}

	qty := decimal.NewFromInt(req.Quantity)
	gross := price.Mul(qty)
	var newCash decimal.Decimal
	updated := current

	switch req.Side {
	case model.SideBuy:
		if pf.Cash.LessThan(gross) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
			return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, gross, pf.Cash)
		}
		newCash = pf.Cash.Sub(gross)

		oldQty := decimal.NewFromInt(current.Quantity)
		totalQty := oldQty.Add(qty)
		// Weighted average of the old basis and the new purchase.
		updated.AvgBuyPrice = oldQty.Mul(current.AvgBuyPrice).Add(gross).Div(totalQty)
		updated.Quantity = current.Quantity + req.Quantity

	case model.SideSell:
		if current.Quantity < req.Quantity {
			metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
			return nil, fmt.Errorf("%w: have %d, want to sell %d", ErrInsufficientShares, current.Quantity, req.Quantity)
		}
		newCash = pf.Cash.Add(gross)
		updated.Quantity = current.Quantity - req.Quantity
		if updated.Quantity == 0 {
			updated.AvgBuyPrice = decimal.Zero
		}
	}

	if err := p.st.UpsertPosition(ctx, &updated); err != nil {
		return nil, fmt.Errorf("trade: update position: %w", err)
	}
	if err := p.st.UpdatePortfolioCash(ctx, pf.ID, newCash); err != nil {
		return nil, fmt.Errorf("trade: update cash: %w", err)
	}

	tx := model.Transaction{
		ID:          uuid.New().String(),
		PortfolioID: pf.ID,
		UserID:      req.UserID,
		Wallet:      req.Wallet,
		Ticker:      req.Ticker,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Price:       price,
		Timestamp:   now,
	}
	if err := p.st.InsertTransaction(ctx, &tx); err != nil {
		return nil, fmt.Errorf("trade: record transaction: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(req.Side, string(req.Wallet)).Inc()
	slog.Info("trade executed",
		"tx_id", tx.ID,
		"user", req.UserID,
		"wallet", string(req.Wallet),
		"ticker", req.Ticker,
		"side", req.Side,
		"qty", req.Quantity,
		"price", price.String(),
	)

	// The trader's own rank must be fresh on their next read; everyone
	// else's cached pages keep serving until TTL.
	if req.Wallet == model.WalletConcours && p.invalidator != nil {
		p.invalidator.InvalidateUser(ctx, req.UserID)
	}

	return &Result{Transaction: tx, Cash: newCash, Position: updated}, nil
}
