package daemon

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"beast_bridge/internal/dump1090"
	"beast_bridge/internal/hub"
	"beast_bridge/internal/models"
	"beast_bridge/internal/scheduler"
	"beast_bridge/internal/tasks"
)

// Hub is the subscriber side the bridge publishes to
type Hub interface {
	UpdateAircraft(aircraft []models.Aircraft)
	Status() hub.Status
	Stop(ctx context.Context) error
}

// Enricher annotates merged records with reference data
type Enricher interface {
	Enrich(aircraft []models.Aircraft)
}

// Config holds bridge configuration
type Config struct {
	Sources         []models.Source
	Link            dump1090.Config
	MaxAge          time.Duration
	CleanupInterval time.Duration
	StatusInterval  time.Duration
	Verbose         bool
}

// Status is the aggregate view served on /status
type Status struct {
	Sources       []dump1090.LinkStatus  `json:"sources"`
	Hub           hub.Status             `json:"hub"`
	TotalAircraft int                    `json:"totalAircraft"`
	Tasks         []scheduler.TaskStatus `json:"tasks"`
}

// Bridge fans the per-source aircraft tables into one table and publishes it
type Bridge struct {
	cfg       Config
	hub       Hub
	registry  Enricher
	links     []*dump1090.Link
	scheduler *scheduler.Scheduler

	dirty    atomic.Bool
	flushMu  sync.Mutex
	stopOnce sync.Once
	stopErr  error
}

// Option configures a Bridge
type Option func(*Bridge)

// WithRegistry enriches published snapshots
func WithRegistry(e Enricher) Option {
	return func(b *Bridge) { b.registry = e }
}

// New creates a bridge with one link per enabled source
func New(cfg Config, h Hub, opts ...Option) *Bridge {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Minute
	}

	b := &Bridge{cfg: cfg, hub: h}
	for _, opt := range opts {
		opt(b)
	}

	for _, src := range cfg.Sources {
		if !src.Enabled {
			slog.Info("Skipping disabled source", "source", src.DisplayName())
			continue
		}
		b.links = append(b.links, dump1090.NewLink(src, cfg.Link, b.handleEvent))
	}

	evictors := make([]tasks.Evictor, 0, len(b.links))
	statusers := make([]tasks.LinkStatuser, 0, len(b.links))
	for _, l := range b.links {
		evictors = append(evictors, l)
		statusers = append(statusers, l)
	}

	b.scheduler = scheduler.New(context.Background())
	b.scheduler.AddTask(tasks.NewEvictionSweep(evictors, cfg.MaxAge, cfg.CleanupInterval, cfg.Verbose, b.afterSweep))
	if cfg.Verbose {
		b.scheduler.AddTask(tasks.NewStatusReport(statusers, h, cfg.StatusInterval))
	}

	return b
}

// Start connects every source and starts the periodic tasks
func (b *Bridge) Start() {
	if len(b.links) == 0 {
		slog.Warn("No enabled sources configured, waiting without upstream data")
	}
	slog.Info("Starting bridge", "sources", len(b.links))

	for _, l := range b.links {
		l.Connect()
	}
	b.scheduler.Start()
}

// Stop cancels the periodic tasks, disconnects every source and stops the
// hub. Only the first call has any effect.
func (b *Bridge) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		slog.Info("Stopping bridge")
		b.scheduler.Stop()
		for _, l := range b.links {
			l.Disconnect()
		}
		b.stopErr = b.hub.Stop(ctx)
		slog.Info("Bridge stopped")
	})
	return b.stopErr
}

func (b *Bridge) Links() []*dump1090.Link {
	return b.links
}

// Snapshot merges every source's table. Sources later in configuration
// order win per field.
func (b *Bridge) Snapshot() []models.Aircraft {
	merged := make(map[string]*models.Aircraft)
	for _, l := range b.links {
		for _, ac := range l.Store().Snapshot() {
			if existing, ok := merged[ac.Hex]; ok {
				existing.Merge(ac)
				continue
			}
			rec := ac
			merged[ac.Hex] = &rec
		}
	}

	out := make([]models.Aircraft, 0, len(merged))
	for _, ac := range merged {
		out = append(out, *ac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex < out[j].Hex })

	if b.registry != nil {
		b.registry.Enrich(out)
	}
	return out
}

func (b *Bridge) Status() Status {
	sources := make([]dump1090.LinkStatus, 0, len(b.links))
	seen := make(map[string]struct{})
	for _, l := range b.links {
		sources = append(sources, l.Status())
		for _, ac := range l.Store().Snapshot() {
			seen[ac.Hex] = struct{}{}
		}
	}

	return Status{
		Sources:       sources,
		Hub:           b.hub.Status(),
		TotalAircraft: len(seen),
		Tasks:         b.scheduler.Status(),
	}
}

func (b *Bridge) handleEvent(ev dump1090.Event) {
	switch ev.Type {
	case dump1090.EventData:
		b.dirty.Store(true)
	case dump1090.EventBroadcast:
		b.flush()
	case dump1090.EventConnected:
		slog.Debug("Source connected", "source", ev.Source)
	case dump1090.EventClosed:
		// The link's ticker is gone; push what its last chunk changed.
		slog.Debug("Source closed", "source", ev.Source)
		b.flush()
	case dump1090.EventError:
		slog.Debug("Source error", "source", ev.Source, "error", ev.Err)
	}
}

func (b *Bridge) afterSweep(removed int) {
	if removed > 0 {
		b.dirty.Store(true)
	}
	b.flush()
}

// flush pushes the merged table to the hub if any source changed since the
// last push
func (b *Bridge) flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if !b.dirty.Swap(false) {
		return
	}
	b.hub.UpdateAircraft(b.Snapshot())
}
