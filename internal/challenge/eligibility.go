// Package challenge implements the contest rules: eligibility from the
// transaction ledger and the date-based trading window. Nothing here is
// persisted — eligibility is always recomputed from raw transactions, so
// there is no stale-eligibility state to invalidate.
package challenge

import (
	"context"
	"errors"

	"github.com/brvmchallenge/engine/internal/model"
	"github.com/brvmchallenge/engine/internal/store"
)

// EligibilityTarget is the number of distinct tickers a participant must
// trade to qualify for challenge prizes ("trade at least 5 different
// companies", not "make 5 trades").
const EligibilityTarget = 5

// ValidTransactionCount counts a user's distinct traded tickers, capped at
// EligibilityTarget for display. A transaction counts only the first time
// its ticker appears in timestamp order; later trades on the same ticker —
// buys or sells — never add to or subtract from the count, so the value is
// monotonically non-decreasing as the ledger grows.
func ValidTransactionCount(txs []model.Transaction) int {
	seen := make(map[string]bool)
	for _, tx := range txs {
		seen[tx.Ticker] = true
		if len(seen) >= EligibilityTarget {
			return EligibilityTarget
		}
	}
	return len(seen)
}

// IsEligible reports whether the ledger satisfies the distinct-ticker rule.
func IsEligible(txs []model.Transaction) bool {
	return ValidTransactionCount(txs) >= EligibilityTarget
}

// Status is the enrollment/eligibility view served to the UI.
type Status struct {
	Enrolled          bool `json:"enrolled"`
	RulesAccepted     bool `json:"rules_accepted"`
	ValidTransactions int  `json:"valid_transactions"`
	EligibilityTarget int  `json:"eligibility_target"`
	IsEligible        bool `json:"is_eligible"`
}

// Tracker answers eligibility questions from the transaction ledger.
type Tracker struct {
	st store.Store
}

// NewTracker creates an eligibility tracker over a store.
func NewTracker(st store.Store) *Tracker {
	return &Tracker{st: st}
}

// Status reports a user's enrollment state and progress toward eligibility.
// An unenrolled user gets a zero Status, not an error.
func (t *Tracker) Status(ctx context.Context, userID string) (Status, error) {
	enrollment, err := t.st.GetEnrollment(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Status{EligibilityTarget: EligibilityTarget}, nil
	}
	if err != nil {
		return Status{}, err
	}

	txs, err := t.st.GetTransactionsByUser(ctx, userID, model.WalletConcours)
	if err != nil {
		return Status{}, err
	}

	count := ValidTransactionCount(txs)
	return Status{
		Enrolled:          true,
		RulesAccepted:     enrollment.RulesAccepted,
		ValidTransactions: count,
		EligibilityTarget: EligibilityTarget,
		IsEligible:        count >= EligibilityTarget,
	}, nil
}
