package tasks

import (
	"context"
	"log/slog"
	"time"

	"beast_bridge/internal/dump1090"
	"beast_bridge/internal/hub"
)

// LinkStatuser reports one source's connection state
type LinkStatuser interface {
	Status() dump1090.LinkStatus
}

// HubStatuser reports subscriber counts
type HubStatuser interface {
	Status() hub.Status
}

// StatusReport periodically logs each source and the hub
type StatusReport struct {
	links    []LinkStatuser
	hub      HubStatuser
	interval time.Duration
}

func NewStatusReport(links []LinkStatuser, h HubStatuser, interval time.Duration) *StatusReport {
	return &StatusReport{links: links, hub: h, interval: interval}
}

func (t *StatusReport) Name() string {
	return "status_report"
}

func (t *StatusReport) Interval() time.Duration {
	return t.interval
}

func (t *StatusReport) Run(ctx context.Context) error {
	connected := 0
	for _, l := range t.links {
		st := l.Status()
		if st.Connected {
			connected++
		}
		slog.InfoContext(ctx, "Source status",
			"source", st.Name,
			"addr", st.Addr,
			"state", st.State,
			"aircraft", st.Aircraft,
		)
	}

	hs := t.hub.Status()
	slog.InfoContext(ctx, "Bridge status",
		"sources_connected", connected,
		"sources_total", len(t.links),
		"aircraft", hs.Aircraft,
		"clients", hs.Clients,
		"max_clients", hs.MaxClients,
	)
	return nil
}
