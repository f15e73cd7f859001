// Package barometer builds the weekly "market barometer" feed: the most and
// least traded tickers of the trailing week, from raw trade volume. Display
// only — ranking correctness never depends on it.
package barometer

import (
	"context"
	"time"

	"github.com/brvmchallenge/engine/internal/model"
	"github.com/brvmchallenge/engine/internal/store"
)

// Lookback is the barometer's aggregation window.
const Lookback = 7 * 24 * time.Hour

// Feed is one barometer snapshot.
type Feed struct {
	Since  time.Time            `json:"since"`
	Top    []model.TickerVolume `json:"top"`
	Bottom []model.TickerVolume `json:"bottom"`
}

// Compute aggregates the trailing week's trade volume into top/bottom n
// tickers. Volumes arrive from the store ordered by shares descending, so
// top is a prefix and bottom a reversed suffix. Tickers with no trades this
// week simply don't appear.
func Compute(ctx context.Context, st store.Store, now time.Time, n int) (*Feed, error) {
	if n <= 0 {
		n = 5
	}
	since := now.Add(-Lookback)

	volumes, err := st.GetVolumesSince(ctx, since)
	if err != nil {
		return nil, err
	}

	feed := &Feed{Since: since}
	if len(volumes) == 0 {
		return feed, nil
	}

	top := n
	if top > len(volumes) {
		top = len(volumes)
	}
	feed.Top = append(feed.Top, volumes[:top]...)

	bottom := n
	if bottom > len(volumes) {
		bottom = len(volumes)
	}
	for i := 0; i < bottom; i++ {
		feed.Bottom = append(feed.Bottom, volumes[len(volumes)-1-i])
	}
	return feed, nil
}
