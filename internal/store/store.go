// Package store defines the persistence interface for the challenge engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyEnrolled is returned on a second enrollment for the same user.
	ErrAlreadyEnrolled = errors.New("store: user already enrolled")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The engine only ever reads the
// position and transaction ledgers outside the trade processor, and must
// tolerate them changing between reads.
type Store interface {
	// --- Portfolios (one per user per wallet mode) ---

	// CreatePortfolio persists a new portfolio.
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error

	// GetPortfolio retrieves the portfolio for (user, wallet mode).
	// Returns ErrNotFound if the user has not accessed that mode yet.
	GetPortfolio(ctx context.Context, userID string, wallet model.WalletMode) (*model.Portfolio, error)

	// UpdatePortfolioCash sets a portfolio's cash balance.
	UpdatePortfolioCash(ctx context.Context, portfolioID string, cash decimal.Decimal) error

	// ListPortfoliosByWallet returns every portfolio in one wallet mode.
	ListPortfoliosByWallet(ctx context.Context, wallet model.WalletMode) ([]model.Portfolio, error)

	// --- Positions ---

	// GetPositions returns all open positions of one portfolio.
	GetPositions(ctx context.Context, portfolioID string) ([]model.Position, error)

	// UpsertPosition creates or replaces the (portfolio, ticker) position.
	// A quantity of 0 removes the position.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// --- Immutable transaction ledger ---

	// InsertTransaction appends an immutable trade record.
	InsertTransaction(ctx context.Context, tx *model.Transaction) error

	// GetTransactionsByUser returns a user's transactions in one wallet
	// mode, ordered by timestamp ascending.
	GetTransactionsByUser(ctx context.Context, userID string, wallet model.WalletMode) ([]model.Transaction, error)

	// GetVolumesSince aggregates traded share volume per ticker from
	// transactions at or after the given instant (barometer feed).
	GetVolumesSince(ctx context.Context, since time.Time) ([]model.TickerVolume, error)

	// --- Challenge enrollments ---

	// InsertEnrollment records a user joining the challenge.
	// Returns ErrAlreadyEnrolled on a duplicate.
	InsertEnrollment(ctx context.Context, e *model.Enrollment) error

	// GetEnrollment retrieves a user's enrollment, or ErrNotFound.
	GetEnrollment(ctx context.Context, userID string) (*model.Enrollment, error)

	// SetRulesAccepted flags the user's enrollment as rules-accepted.
	SetRulesAccepted(ctx context.Context, userID string) error

	// ListEnrollments returns all enrollments (the ranking universe).
	ListEnrollments(ctx context.Context) ([]model.Enrollment, error)

	// --- Prices (populated by the external scraper; read-only here) ---

	// UpsertPrice stores one daily bar for a ticker.
	UpsertPrice(ctx context.Context, p *model.PricePoint) error

	// CurrentPrice returns the latest known price for a ticker, or
	// ErrNotFound when the scraper has never seen it.
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)

	// PriceAt returns the close of the given day for a ticker, or
	// ErrNotFound when no bar exists for that day.
	PriceAt(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error)

	// ListCurrentPrices returns the latest known price of every ticker.
	// Ranking passes use one bulk read so all participants are valued
	// against the same price set.
	ListCurrentPrices(ctx context.Context) (map[string]decimal.Decimal, error)
}
