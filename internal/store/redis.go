package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for portfolios, positions, and current prices. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary. A Redis outage only costs latency, never correctness:
// every cache error falls through to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.CreatePortfolio(ctx, p); err != nil {
		return err
	}
	s.cachePortfolio(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePortfolioCash(ctx context.Context, portfolioID string, cash decimal.Decimal) error {
	if err := s.primary.UpdatePortfolioCash(ctx, portfolioID, cash); err != nil {
		return err
	}
	// The portfolio cache key is (user, wallet); resolve it through the
	// id→key mapping before dropping it.
	if userKey, err := s.rdb.Get(ctx, portfolioIDKey(portfolioID)).Result(); err == nil {
		s.rdb.Del(ctx, userKey)
	}
	s.rdb.Del(ctx, positionsCacheKey(portfolioID), portfolioIDKey(portfolioID))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsCacheKey(p.PortfolioID))
	return nil
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, tx)
}

func (s *CachedStore) UpsertPrice(ctx context.Context, p *model.PricePoint) error {
	if err := s.primary.UpsertPrice(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, priceKey(p.Ticker), allPricesKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPortfolio(ctx context.Context, userID string, wallet model.WalletMode) (*model.Portfolio, error) {
	key := portfolioCacheKey(userID, wallet)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p model.Portfolio
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPortfolio(ctx, userID, wallet)
	if err != nil {
		return nil, err
	}

	s.cachePortfolio(ctx, p)
	return p, nil
}

func (s *CachedStore) GetPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsCacheKey(portfolioID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsCacheKey(portfolioID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	data, err := s.rdb.Get(ctx, priceKey(ticker)).Result()
	if err == nil {
		if price, perr := decimal.NewFromString(data); perr == nil {
			return price, nil
		}
	}

	price, err := s.primary.CurrentPrice(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}

	s.rdb.Set(ctx, priceKey(ticker), price.String(), s.ttl)
	return price, nil
}

func (s *CachedStore) ListCurrentPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	data, err := s.rdb.Get(ctx, allPricesKey).Bytes()
	if err == nil {
		var prices map[string]decimal.Decimal
		if json.Unmarshal(data, &prices) == nil {
			return prices, nil
		}
	}

	prices, err := s.primary.ListCurrentPrices(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(prices); err == nil {
		s.rdb.Set(ctx, allPricesKey, data, s.ttl)
	}
	return prices, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPortfoliosByWallet(ctx context.Context, wallet model.WalletMode) ([]model.Portfolio, error) {
	return s.primary.ListPortfoliosByWallet(ctx, wallet)
}

func (s *CachedStore) GetTransactionsByUser(ctx context.Context, userID string, wallet model.WalletMode) ([]model.Transaction, error) {
	return s.primary.GetTransactionsByUser(ctx, userID, wallet)
}

func (s *CachedStore) GetVolumesSince(ctx context.Context, since time.Time) ([]model.TickerVolume, error) {
	return s.primary.GetVolumesSince(ctx, since)
}

func (s *CachedStore) InsertEnrollment(ctx context.Context, e *model.Enrollment) error {
	return s.primary.InsertEnrollment(ctx, e)
}

func (s *CachedStore) GetEnrollment(ctx context.Context, userID string) (*model.Enrollment, error) {
	return s.primary.GetEnrollment(ctx, userID)
}

func (s *CachedStore) SetRulesAccepted(ctx context.Context, userID string) error {
	return s.primary.SetRulesAccepted(ctx, userID)
}

func (s *CachedStore) ListEnrollments(ctx context.Context) ([]model.Enrollment, error) {
	return s.primary.ListEnrollments(ctx)
}

func (s *CachedStore) PriceAt(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	return s.primary.PriceAt(ctx, ticker, day)
}

// --- Cache helpers ---

func (s *CachedStore) cachePortfolio(ctx context.Context, p *model.Portfolio) {
	key := portfolioCacheKey(p.UserID, p.Wallet)
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
		// id→key mapping so cash updates (keyed by id) can invalidate.
		s.rdb.Set(ctx, portfolioIDKey(p.ID), key, s.ttl)
	}
}

const allPricesKey = "prices:all"

func portfolioCacheKey(userID string, wallet model.WalletMode) string {
	return fmt.Sprintf("portfolio:%s:%s", userID, wallet)
}
func portfolioIDKey(id string) string    { return fmt.Sprintf("portfolio_id:%s", id) }
func positionsCacheKey(id string) string { return fmt.Sprintf("positions:%s", id) }
func priceKey(ticker string) string      { return fmt.Sprintf("price:%s", ticker) }
