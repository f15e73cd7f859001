// Package valuation computes portfolio value and performance. The core is a
// pure function of cash, positions, and a price lookup: no store access, no
// side effects, callable from HTTP handlers, the ranking pass, and tests
// alike.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/model"
)

// PriceFunc resolves the current price of a ticker. The second return is
// false when no price is known.
type PriceFunc func(ticker string) (decimal.Decimal, bool)

// MapPrices adapts a ticker→price map (one bulk store read) to a PriceFunc.
func MapPrices(prices map[string]decimal.Decimal) PriceFunc {
	return func(ticker string) (decimal.Decimal, bool) {
		p, ok := prices[ticker]
		return p, ok
	}
}

// Compute produces a valuation snapshot for one portfolio.
//
// Total value is cash plus the mark-to-market value of every position. A
// position whose ticker has no known price is valued at its average buy
// price instead — the snapshot is then flagged partial, but valuation never
// fails on a missing price.
//
// Gain/loss percent is relative to the portfolio's initial balance, rounded
// to 2 decimals with banker's rounding. An initial balance of 0 yields 0
// percent, never a division by zero.
func Compute(p *model.Portfolio, positions []model.Position, price PriceFunc) model.Snapshot {
	total := p.Cash
	partial := false

	for _, pos := range positions {
		mark, ok := price(pos.Ticker)
		if !ok {
			mark = pos.AvgBuyPrice
			partial = true
		}
		total = total.Add(mark.Mul(decimal.NewFromInt(pos.Quantity)))
	}

	gainLoss := total.Sub(p.InitialBalance)

	percent := decimal.Zero
	if p.InitialBalance.IsPositive() {
		percent = gainLoss.Div(p.InitialBalance).Mul(decimal.NewFromInt(100)).RoundBank(2)
	}

	return model.Snapshot{
		TotalValue:      total,
		GainLoss:        gainLoss,
		GainLossPercent: percent,
		Partial:         partial,
	}
}
