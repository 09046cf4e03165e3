package transport

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"agrosync/internal/events"

	"github.com/rs/zerolog"
)

// Monitor probes the remote health endpoint and publishes connectivity
// transitions on the event bus. It starts offline until the first
// successful probe.
type Monitor struct {
	healthURL string
	interval  time.Duration
	client    *http.Client
	bus       *events.EventBus
	online    atomic.Bool
	logger    *zerolog.Logger
}

func NewMonitor(baseURL, healthPath string, interval time.Duration, bus *events.EventBus, logger *zerolog.Logger) *Monitor {
	return &Monitor{
		healthURL: strings.TrimRight(baseURL, "/") + healthPath,
		interval:  interval,
		client:    &http.Client{Timeout: 5 * time.Second},
		bus:       bus,
		logger:    logger,
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline overrides the state and publishes the transition. Used by
// tests and by callers that learn about connectivity out of band.
func (m *Monitor) SetOnline(online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}
	if online {
		m.logger.Info().Msg("Connectivity restored")
		_ = m.bus.PublishJSON(events.EventConnectivityOnline, nil)
	} else {
		m.logger.Warn().Msg("Connectivity lost")
		_ = m.bus.PublishJSON(events.EventConnectivityOffline, nil)
	}
}

// Start probes until ctx is done. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.healthURL, nil)
	if err != nil {
		m.SetOnline(false)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.SetOnline(false)
		return
	}
	resp.Body.Close()

	m.SetOnline(resp.StatusCode < 500)
}
