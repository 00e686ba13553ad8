package tasks

import (
	"context"
	"log/slog"
	"time"
)

// Evictor is a per-source aircraft table that can drop stale records
type Evictor interface {
	Name() string
	Len() int
	Evict(maxAge time.Duration, now time.Time) int
}

// EvictionSweep removes aircraft not heard from within maxAge on every source
type EvictionSweep struct {
	sources  []Evictor
	maxAge   time.Duration
	interval time.Duration
	verbose  bool
	now      func() time.Time
	onSwept  func(removed int)
}

func NewEvictionSweep(sources []Evictor, maxAge, interval time.Duration, verbose bool, onSwept func(removed int)) *EvictionSweep {
	return &EvictionSweep{
		sources:  sources,
		maxAge:   maxAge,
		interval: interval,
		verbose:  verbose,
		now:      time.Now,
		onSwept:  onSwept,
	}
}

func (t *EvictionSweep) Name() string {
	return "eviction_sweep"
}

func (t *EvictionSweep) Interval() time.Duration {
	return t.interval
}

func (t *EvictionSweep) Run(ctx context.Context) error {
	now := t.now()
	total := 0
	for _, src := range t.sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		before := src.Len()
		removed := src.Evict(t.maxAge, now)
		if removed > 0 {
			level := slog.LevelDebug
			if t.verbose {
				level = slog.LevelInfo
			}
			slog.Log(ctx, level, "Evicted stale aircraft",
				"source", src.Name(),
				"before", before,
				"after", src.Len(),
				"removed", removed,
			)
		}
		total += removed
	}

	if t.onSwept != nil {
		t.onSwept(total)
	}
	return nil
}
