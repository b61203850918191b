package attendance

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval is how often dashboards re-read the ledger.
const DefaultPollInterval = 30 * time.Second

// Summary is the read-side view of a scope. AvgDurationMinutes is nil when no
// session in the scope has been closed yet.
type Summary struct {
	Total              int      `json:"total"`
	CurrentlyPresent   int      `json:"currently_present"`
	AvgDurationMinutes *float64 `json:"avg_duration_minutes"`
}

// Summarize aggregates sessions in memory.
func Summarize(sessions []Session) Summary {
	var (
		sum     Summary
		total   int
		durated int
	)
	for _, s := range sessions {
		sum.Total++
		if s.Open() {
			sum.CurrentlyPresent++
			continue
		}
		if s.DurationMinutes != nil {
			total += *s.DurationMinutes
			durated++
		}
	}
	if durated > 0 {
		avg := float64(total) / float64(durated)
		sum.AvgDurationMinutes = &avg
	}
	return sum
}

// Aggregator computes summaries from the ledger. It never caches.
type Aggregator struct {
	ledger Ledger
}

// NewAggregator creates an aggregator reading from ledger.
func NewAggregator(ledger Ledger) *Aggregator {
	return &Aggregator{ledger: ledger}
}

// Summarize returns counts for the day or event selected by f.
func (a *Aggregator) Summarize(ctx context.Context, f Filter) (Summary, error) {
	if err := f.Validate(); err != nil {
		return Summary{}, err
	}
	sum, err := a.ledger.Stats(ctx, f)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	return sum, nil
}

// Poller re-queries a summary on a fixed interval. Filter is evaluated on
// every poll so "today" rolls over at midnight.
type Poller struct {
	Aggregator *Aggregator
	Interval   time.Duration
	Filter     func() Filter
	Handle     func(f Filter, s Summary, err error)
}

// Run polls immediately and then every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		f := p.Filter()
		s, err := p.Aggregator.Summarize(ctx, f)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Handle(f, s, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
