// Package model defines the core domain types shared across the challenge
// engine. All monetary values use shopspring/decimal — never float64 for
// money. Amounts are XOF.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletMode selects one of a user's two isolated portfolio ledgers.
type WalletMode string

const (
	// WalletSandbox is the unrestricted practice ledger.
	WalletSandbox WalletMode = "SANDBOX"
	// WalletConcours is the challenge-scoped, rule-restricted ledger.
	WalletConcours WalletMode = "CONCOURS"
)

// Valid reports whether m is one of the two known wallet modes.
func (m WalletMode) Valid() bool {
	return m == WalletSandbox || m == WalletConcours
}

// Transaction sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Portfolio is one user's ledger in one wallet mode. Exactly one exists per
// (user, wallet mode) pair; it is created on first access to that mode.
// Cash is mutated only by the trade processor.
type Portfolio struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Wallet         WalletMode      `json:"wallet" db:"wallet"`
	Cash           decimal.Decimal `json:"cash" db:"cash"`
	InitialBalance decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's aggregate holding of one ticker inside one portfolio.
// (portfolio, ticker) is unique; a position with quantity 0 is removed.
// Quantity*AvgBuyPrice is the cost basis of all unsold shares under
// average-cost accounting (no per-lot tracking).
type Position struct {
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	Ticker      string          `json:"ticker" db:"ticker"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price" db:"avg_buy_price"`
}

// Transaction is an immutable record of a buy or sell. Once created these
// are never modified or deleted; eligibility and positions are recomputed
// from them.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Wallet      WalletMode      `json:"wallet" db:"wallet"`
	Ticker      string          `json:"ticker" db:"ticker"`
	Side        string          `json:"side" db:"side"` // "BUY" or "SELL"
	Quantity    int64           `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// Enrollment records a user joining the challenge. At most one per user;
// never revoked by this engine. Questionnaire answers are informational,
// never scored.
type Enrollment struct {
	UserID        string            `json:"user_id" db:"user_id"`
	RulesAccepted bool              `json:"rules_accepted" db:"rules_accepted"`
	Questionnaire map[string]string `json:"questionnaire,omitempty" db:"questionnaire"`
	EnrolledAt    time.Time         `json:"enrolled_at" db:"enrolled_at"`
}

// Snapshot is a derived valuation of one portfolio at one instant. It is a
// pure projection, persisted only inside the leaderboard cache.
type Snapshot struct {
	TotalValue      decimal.Decimal `json:"total_value"`
	GainLoss        decimal.Decimal `json:"gain_loss"`
	GainLossPercent decimal.Decimal `json:"gain_loss_percent"` // 2 decimals, banker's rounding
	Partial         bool            `json:"partial"`           // one or more prices fell back to cost
}

// LeaderboardEntry is one ranked row. Derived, never independently mutated.
type LeaderboardEntry struct {
	UserID          string          `json:"user_id"`
	Rank            int             `json:"rank"`
	TotalValue      decimal.Decimal `json:"total_value"`
	GainLoss        decimal.Decimal `json:"gain_loss"`
	GainLossPercent decimal.Decimal `json:"gain_loss_percent"`
	Eligible        bool            `json:"eligible"`
	Partial         bool            `json:"partial,omitempty"`
	EnrolledAt      time.Time       `json:"enrolled_at"`
}

// PricePoint is one daily bar for one ticker, ingested by the external
// scraper. Close doubles as the latest known price when Day is the most
// recent bar.
type PricePoint struct {
	Ticker string          `json:"ticker" db:"ticker"`
	Day    time.Time       `json:"day" db:"day"`
	Close  decimal.Decimal `json:"close" db:"close"`
}

// TickerVolume is one row of the weekly barometer feed: raw traded share
// volume per ticker.
type TickerVolume struct {
	Ticker string `json:"ticker"`
	Shares int64  `json:"shares"`
	Trades int    `json:"trades"`
}
