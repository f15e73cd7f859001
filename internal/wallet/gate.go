// Package wallet resolves a user's portfolio for a requested wallet mode and
// enforces the enrollment requirement for CONCOURS access. The gate controls
// visibility only; whether a trade may mutate the portfolio is the trade
// processor's decision.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/model"
	"github.com/brvmchallenge/engine/internal/store"
)

// ErrNotEnrolled is returned on CONCOURS access without an enrollment. The
// caller is expected to prompt the user to enroll.
var ErrNotEnrolled = errors.New("wallet: user not enrolled in challenge")

// Gate resolves (user, wallet mode) to a portfolio, creating it on first
// access. SANDBOX and CONCOURS portfolios for the same user share nothing:
// separate cash, separate positions, valued independently.
type Gate struct {
	st             store.Store
	initialBalance decimal.Decimal
}

// NewGate creates a gate. initialBalance seeds every newly created
// portfolio's cash and initial balance.
func NewGate(st store.Store, initialBalance decimal.Decimal) *Gate {
	return &Gate{st: st, initialBalance: initialBalance}
}

// Resolve returns the user's portfolio in the requested mode. CONCOURS
// requires an active enrollment (ErrNotEnrolled otherwise); a closed trading
// window does not block resolution — participants can always see their
// challenge portfolio.
func (g *Gate) Resolve(ctx context.Context, userID string, mode model.WalletMode) (*model.Portfolio, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("wallet: unknown mode %q", mode)
	}

	if mode == model.WalletConcours {
		if _, err := g.st.GetEnrollment(ctx, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotEnrolled
			}
			return nil, err
		}
	}

	p, err := g.st.GetPortfolio(ctx, userID, mode)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// First access to this wallet mode: create the portfolio.
	p = &model.Portfolio{
		ID:             uuid.New().String(),
		UserID:         userID,
		Wallet:         mode,
		Cash:           g.initialBalance,
		InitialBalance: g.initialBalance,
		CreatedAt:      time.Now().UTC(),
	}
	if err := g.st.CreatePortfolio(ctx, p); err != nil {
		// Lost a creation race: the winner's portfolio is the one.
		if existing, gerr := g.st.GetPortfolio(ctx, userID, mode); gerr == nil {
			return existing, nil
		}
		return nil, err
	}
	return p, nil
}
