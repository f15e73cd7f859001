// Package ranking aggregates per-portfolio valuations into the challenge
// leaderboard: a total order over all enrolled participants by gain/loss
// percent, with a deterministic tie-break chain. Two runs over identical
// portfolios, transactions, and prices produce an identical order.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/brvmchallenge/engine/internal/challenge"
	"github.com/brvmchallenge/engine/internal/metrics"
	"github.com/brvmchallenge/engine/internal/model"
	"github.com/brvmchallenge/engine/internal/store"
	"github.com/brvmchallenge/engine/internal/valuation"
)

// ErrNotRanked is returned by FindRank when the user is not on the board
// (not enrolled, or their CONCOURS wallet was never opened).
var ErrNotRanked = errors.New("ranking: user not on leaderboard")

// defaultParallelism bounds concurrent per-portfolio valuations. Each one is
// independent (no shared mutable state), so the limit only protects the
// store from read bursts.
const defaultParallelism = 8

// Aggregator computes leaderboards from the store. It holds no state between
// passes; concurrent trades land in the next pass, not the current one.
type Aggregator struct {
	st          store.Store
	parallelism int
}

// NewAggregator creates a ranking aggregator over a store.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{st: st, parallelism: defaultParallelism}
}

// Compute builds the full ordered leaderboard.
//
// Universe: every user with both an enrollment and a CONCOURS portfolio.
// Sort: gain/loss percent descending, then total value descending, then
// enrollment timestamp ascending, then user id ascending. The chain breaks
// every tie, so dense rank assignment is simply position + 1.
//
// Participants are marked, never dropped: ineligible users stay ranked with
// Eligible=false, and a valuation over missing prices stays ranked with
// Partial=true. Only a hard store failure for one participant removes them
// from the pass, with a logged warning — it never aborts the aggregation.
func (a *Aggregator) Compute(ctx context.Context) ([]model.LeaderboardEntry, error) {
	started := time.Now()

	enrollments, err := a.st.ListEnrollments(ctx)
	if err != nil {
		return nil, fmt.Errorf("ranking: list enrollments: %w", err)
	}

	// One bulk price read so every participant is valued against the same
	// price set within this pass.
	prices, err := a.st.ListCurrentPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("ranking: load prices: %w", err)
	}
	price := valuation.MapPrices(prices)

	results := make([]*model.LeaderboardEntry, len(enrollments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)

	for i, e := range enrollments {
		g.Go(func() error {
			entry, err := a.valueParticipant(gctx, e, price)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					// Enrolled but never opened the CONCOURS wallet.
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("ranking: participant skipped", "user", e.UserID, "err", err)
				return nil
			}
			results[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}

	entries := make([]model.LeaderboardEntry, 0, len(results))
	for _, e := range results {
		if e != nil {
			entries = append(entries, *e)
		}
	}

	sortEntries(entries)
	for i := range entries {
		entries[i].Rank = i + 1
	}

	metrics.RankingsComputed.Inc()
	metrics.RankingDuration.Observe(time.Since(started).Seconds())
	metrics.RankingParticipants.Set(float64(len(entries)))

	return entries, nil
}

// valueParticipant loads one participant's CONCOURS portfolio and produces
// their unranked leaderboard entry.
func (a *Aggregator) valueParticipant(ctx context.Context, e model.Enrollment, price valuation.PriceFunc) (*model.LeaderboardEntry, error) {
	p, err := a.st.GetPortfolio(ctx, e.UserID, model.WalletConcours)
	if err != nil {
		return nil, err
	}
	positions, err := a.st.GetPositions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	txs, err := a.st.GetTransactionsByUser(ctx, e.UserID, model.WalletConcours)
	if err != nil {
		return nil, err
	}

	snap := valuation.Compute(p, positions, price)
	if snap.Partial {
		metrics.PartialValuations.Inc()
	}

	return &model.LeaderboardEntry{
		UserID:          e.UserID,
		TotalValue:      snap.TotalValue,
		GainLoss:        snap.GainLoss,
		GainLossPercent: snap.GainLossPercent,
		Eligible:        challenge.IsEligible(txs),
		Partial:         snap.Partial,
		EnrolledAt:      e.EnrolledAt,
	}, nil
}

// sortEntries applies the full tie-break chain.
func sortEntries(entries []model.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.GainLossPercent.Equal(b.GainLossPercent) {
			return a.GainLossPercent.GreaterThan(b.GainLossPercent)
		}
		if !a.TotalValue.Equal(b.TotalValue) {
			return a.TotalValue.GreaterThan(b.TotalValue)
		}
		if !a.EnrolledAt.Equal(b.EnrolledAt) {
			return a.EnrolledAt.Before(b.EnrolledAt)
		}
		return a.UserID < b.UserID
	})
}

// Rank is the "my rank" view: a point query into the full ordered list,
// always consistent with it.
type Rank struct {
	UserID            string          `json:"user_id"`
	Rank              int             `json:"rank"`
	TotalParticipants int             `json:"total_participants"`
	Percentile        decimal.Decimal `json:"percentile"`
	GainLossPercent   decimal.Decimal `json:"gain_loss_percent"`
	TotalValue        decimal.Decimal `json:"total_value"`
	Eligible          bool            `json:"eligible"`
}

// FindRank locates one user inside an ordered leaderboard.
func FindRank(entries []model.LeaderboardEntry, userID string) (Rank, error) {
	total := len(entries)
	for _, e := range entries {
		if e.UserID != userID {
			continue
		}
		percentile := decimal.Zero
		if total > 0 {
			percentile = decimal.NewFromInt(int64(total - e.Rank)).
				Div(decimal.NewFromInt(int64(total))).
				Mul(decimal.NewFromInt(100)).Round(2)
		}
		return Rank{
			UserID:            userID,
			Rank:              e.Rank,
			TotalParticipants: total,
			Percentile:        percentile,
			GainLossPercent:   e.GainLossPercent,
			TotalValue:        e.TotalValue,
			Eligible:          e.Eligible,
		}, nil
	}
	return Rank{}, ErrNotRanked
}
