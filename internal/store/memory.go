package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	portfolios  map[string]*model.Portfolio // key: userID|wallet
	positions   map[string]map[string]*model.Position
	ledger      []model.Transaction
	enrollments map[string]*model.Enrollment
	bars        map[string][]model.PricePoint // ticker → bars, day ascending
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios:  make(map[string]*model.Portfolio),
		positions:   make(map[string]map[string]*model.Position),
		enrollments: make(map[string]*model.Enrollment),
		bars:        make(map[string][]model.PricePoint),
	}
}

func portfolioKey(userID string, wallet model.WalletMode) string {
	return userID + "|" + string(wallet)
}

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := portfolioKey(p.UserID, p.Wallet)
	if _, ok := s.portfolios[key]; ok {
		return fmt.Errorf("portfolio for user %s in %s already exists", p.UserID, p.Wallet)
	}

	// Store a copy to avoid external mutation.
	cp := *p
	s.portfolios[key] = &cp
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, userID string, wallet model.WalletMode) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[portfolioKey(userID, wallet)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdatePortfolioCash(_ context.Context, portfolioID string, cash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.portfolios {
		if p.ID == portfolioID {
			p.Cash = cash
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListPortfoliosByWallet(_ context.Context, wallet model.WalletMode) ([]model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Portfolio
	for _, p := range s.portfolios {
		if p.Wallet == wallet {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) GetPositions(_ context.Context, portfolioID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions[portfolioID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTicker, ok := s.positions[p.PortfolioID]
	if !ok {
		byTicker = make(map[string]*model.Position)
		s.positions[p.PortfolioID] = byTicker
	}
	if p.Quantity == 0 {
		delete(byTicker, p.Ticker)
		return nil
	}
	cp := *p
	byTicker[p.Ticker] = &cp
	return nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *tx)
	return nil
}

func (s *MemoryStore) GetTransactionsByUser(_ context.Context, userID string, wallet model.WalletMode) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for _, tx := range s.ledger {
		if tx.UserID == userID && tx.Wallet == wallet {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) GetVolumesSince(_ context.Context, since time.Time) ([]model.TickerVolume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]*model.TickerVolume)
	for _, tx := range s.ledger {
		if tx.Timestamp.Before(since) {
			continue
		}
		tv, ok := agg[tx.Ticker]
		if !ok {
			tv = &model.TickerVolume{Ticker: tx.Ticker}
			agg[tx.Ticker] = tv
		}
		tv.Shares += tx.Quantity
		tv.Trades++
	}

	out := make([]model.TickerVolume, 0, len(agg))
	for _, tv := range agg {
		out = append(out, *tv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Shares != out[j].Shares {
			return out[i].Shares > out[j].Shares
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out, nil
}

func (s *MemoryStore) InsertEnrollment(_ context.Context, e *model.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.enrollments[e.UserID]; ok {
		return ErrAlreadyEnrolled
	}
	cp := *e
	s.enrollments[e.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetEnrollment(_ context.Context, userID string) (*model.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.enrollments[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) SetRulesAccepted(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[userID]
	if !ok {
		return ErrNotFound
	}
	e.RulesAccepted = true
	return nil
}

func (s *MemoryStore) ListEnrollments(_ context.Context) ([]model.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Enrollment, 0, len(s.enrollments))
	for _, e := range s.enrollments {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) UpsertPrice(_ context.Context, p *model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := p.Day.Truncate(24 * time.Hour)
	bars := s.bars[p.Ticker]
	for i := range bars {
		if bars[i].Day.Equal(day) {
			bars[i].Close = p.Close
			return nil
		}
	}
	bars = append(bars, model.PricePoint{Ticker: p.Ticker, Day: day, Close: p.Close})
	sort.Slice(bars, func(i, j int) bool { return bars[i].Day.Before(bars[j].Day) })
	s.bars[p.Ticker] = bars
	return nil
}

func (s *MemoryStore) CurrentPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.bars[ticker]
	if len(bars) == 0 {
		return decimal.Zero, ErrNotFound
	}
	return bars[len(bars)-1].Close, nil
}

func (s *MemoryStore) PriceAt(_ context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day = day.Truncate(24 * time.Hour)
	for _, bar := range s.bars[ticker] {
		if bar.Day.Equal(day) {
			return bar.Close, nil
		}
	}
	return decimal.Zero, ErrNotFound
}

func (s *MemoryStore) ListCurrentPrices(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(s.bars))
	for ticker, bars := range s.bars {
		if len(bars) > 0 {
			out[ticker] = bars[len(bars)-1].Close
		}
	}
	return out, nil
}
