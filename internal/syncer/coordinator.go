package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"agrosync/internal/events"
	"agrosync/internal/metrics"
	"agrosync/internal/models"
	"agrosync/internal/queue"
	"agrosync/internal/store"
	"agrosync/internal/transport"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Connectivity reports whether the remote endpoint is reachable.
type Connectivity interface {
	Online() bool
}

// FailedItem is one entry of a pass's failed-report.
type FailedItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
	Exhausted bool   `json:"exhausted"`
}

// Report summarizes one drain pass.
type Report struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Synced     []string     `json:"synced"`
	Failed     []FailedItem `json:"failed"`
	FailFast   bool         `json:"fail_fast"`
}

// Options tune the coordinator; zero values fall back to defaults.
type Options struct {
	Retry         RetryPolicy
	ItemDelay     time.Duration
	DrainInterval time.Duration
	StaleAfter    time.Duration
}

// Coordinator drains the sync queue against the remote endpoint.
// At most one drain pass runs at a time; a drain requested while one is
// active is dropped, not queued.
type Coordinator struct {
	queue     *queue.Queue
	store     *store.Store
	deliverer transport.Deliverer
	conn      Connectivity
	bus       *events.EventBus
	logger    *zerolog.Logger
	opts      Options

	draining     atomic.Bool
	failedPasses atomic.Int32

	mu     sync.Mutex
	mirror []models.QueueItem

	reportMu   sync.RWMutex
	lastReport *Report

	kicks chan struct{}
}

func NewCoordinator(q *queue.Queue, st *store.Store, d transport.Deliverer, conn Connectivity, bus *events.EventBus, opts Options, logger *zerolog.Logger) *Coordinator {
	if opts.Retry.MaxRetries == 0 {
		opts.Retry.MaxRetries = 3
	}
	if opts.Retry.Backoff == 0 {
		opts.Retry.Backoff = 5 * time.Second
	}
	if opts.ItemDelay == 0 {
		opts.ItemDelay = 500 * time.Millisecond
	}
	if opts.DrainInterval == 0 {
		opts.DrainInterval = 5 * time.Minute
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = time.Hour
	}

	return &Coordinator{
		queue:     q,
		store:     st,
		deliverer: d,
		conn:      conn,
		bus:       bus,
		logger:    logger,
		opts:      opts,
		kicks:     make(chan struct{}, 1),
	}
}

// Rehydrate loads pending items from storage into the in-memory mirror.
// Called once at startup.
func (c *Coordinator) Rehydrate(ctx context.Context) error {
	items, err := c.queue.LoadPending(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.mirror = items
	c.mu.Unlock()

	metrics.SetQueueDepth(len(items))
	c.logger.Info().Int("pending", len(items)).Msg("Sync queue rehydrated")
	return nil
}

// Enqueue records a mutation and kicks a drain.
func (c *Coordinator) Enqueue(ctx context.Context, d queue.Descriptor) (string, error) {
	id, err := c.queue.Enqueue(ctx, d)
	if err != nil {
		return "", err
	}

	item, err := c.queue.Get(ctx, id)
	if err == nil {
		c.mu.Lock()
		c.mirror = append(c.mirror, *item)
		metrics.SetQueueDepth(len(c.mirror))
		c.mu.Unlock()
	}

	c.RequestDrain()
	return id, nil
}

// Pending returns a copy of the in-memory mirror.
func (c *Coordinator) Pending() []models.QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.QueueItem(nil), c.mirror...)
}

// LastReport returns the report of the most recent completed pass.
func (c *Coordinator) LastReport() *Report {
	c.reportMu.RLock()
	defer c.reportMu.RUnlock()
	return c.lastReport
}

// RequestDrain asks the run loop for a drain. Non-blocking; a request
// arriving while a kick is already queued is dropped.
func (c *Coordinator) RequestDrain() {
	select {
	case c.kicks <- struct{}{}:
	default:
	}
}

// Run services drain triggers until ctx is done: explicit requests,
// connectivity-restored events, and a periodic timer conditional on queue
// depth or lastSync staleness.
func (c *Coordinator) Run(ctx context.Context) {
	c.bus.Subscribe(events.EventConnectivityOnline, func(*events.Event) error {
		c.RequestDrain()
		return nil
	})

	ticker := time.NewTicker(c.opts.DrainInterval)
	defer ticker.Stop()

	c.logger.Info().Msg("Sync coordinator started")
	defer c.logger.Info().Msg("Sync coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kicks:
			c.Drain(ctx)
		case <-ticker.C:
			if c.shouldPeriodicDrain(ctx) {
				c.Drain(ctx)
			}
		}
	}
}

func (c *Coordinator) shouldPeriodicDrain(ctx context.Context) bool {
	c.mu.Lock()
	depth := len(c.mirror)
	c.mu.Unlock()
	if depth > 0 {
		return true
	}

	last, err := c.store.LastSync(ctx)
	if err != nil {
		return true
	}
	return time.Since(last) > c.opts.StaleAfter
}

// Drain runs one delivery pass over the pending queue. No-op when a pass
// is already active, connectivity is absent, or the queue is empty.
// Returns the pass report, or nil when the pass did not run.
func (c *Coordinator) Drain(ctx context.Context) *Report {
	if !c.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer c.draining.Store(false)

	if !c.conn.Online() {
		c.logger.Debug().Msg("Drain skipped: offline")
		return nil
	}

	items := c.Pending()
	if len(items) == 0 {
		return nil
	}

	report := &Report{StartedAt: time.Now()}
	limiter := rate.NewLimiter(rate.Every(c.opts.ItemDelay), 1)

	for i := range items {
		item := items[i]

		if item.Attempts >= c.opts.Retry.MaxRetries {
			// Exhausted items stay pending for manual resync; they are
			// reported but no longer delivered.
			report.Failed = append(report.Failed, FailedItem{
				ID: item.ID, Type: item.Type, Attempts: item.Attempts,
				Error: item.LastError, Exhausted: true,
			})
			_ = c.bus.PublishJSON(events.EventItemFailed, events.ItemFailedPayload{
				ItemID: item.ID, Type: item.Type, Attempts: item.Attempts,
				LastError: item.LastError, Exhausted: true,
			})
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			break
		}

		item.Attempts++
		if err := c.queue.Update(ctx, item.ID, func(s *models.QueueItem) {
			s.Attempts = item.Attempts
		}); err != nil {
			// Bookkeeping is best-effort inside a pass.
			c.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to persist attempt count")
		}

		ack, err := c.deliverer.Deliver(ctx, &item)
		if err == nil {
			c.markSynced(ctx, &item, ack, report)
			continue
		}

		if stop := c.markFailed(ctx, &item, err, report); stop {
			break
		}
	}

	c.finishPass(ctx, report)
	return report
}

func (c *Coordinator) markSynced(ctx context.Context, item *models.QueueItem, ack *models.DeliveryAck, report *Report) {
	syncedAt := ack.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	if err := c.queue.Update(ctx, item.ID, func(s *models.QueueItem) {
		s.Status = models.StatusSynced
		s.SyncedAt = &syncedAt
		s.LastError = ""
	}); err != nil {
		c.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to persist synced status")
	}

	report.Synced = append(report.Synced, item.ID)
	metrics.IncSynced()
	c.logger.Debug().Str("id", item.ID).Str("server_id", ack.ServerID).Msg("Queue item synced")
}

// markFailed records a delivery failure and reports whether the pass
// should stop (transport-class failure).
func (c *Coordinator) markFailed(ctx context.Context, item *models.QueueItem, cause error, report *Report) bool {
	now := time.Now()
	if err := c.queue.Update(ctx, item.ID, func(s *models.QueueItem) {
		s.LastError = cause.Error()
		s.LastAttempt = &now
	}); err != nil {
		c.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to persist delivery error")
	}

	report.Failed = append(report.Failed, FailedItem{
		ID: item.ID, Type: item.Type, Attempts: item.Attempts, Error: cause.Error(),
	})
	metrics.IncFailed()
	_ = c.bus.PublishJSON(events.EventItemFailed, events.ItemFailedPayload{
		ItemID: item.ID, Type: item.Type, Attempts: item.Attempts, LastError: cause.Error(),
	})

	if transport.IsTransport(cause) {
		c.logger.Warn().Err(cause).Str("id", item.ID).Msg("Transport failure, aborting drain pass")
		report.FailFast = true
		return true
	}

	c.logger.Warn().Err(cause).Str("id", item.ID).Msg("Delivery rejected")
	return false
}

func (c *Coordinator) finishPass(ctx context.Context, report *Report) {
	report.FinishedAt = time.Now()

	// Drop synced items from the mirror; storage already holds their
	// synced status. The refresh afterwards picks up persisted attempt
	// counters for the remaining items.
	if len(report.Synced) > 0 {
		syncedSet := make(map[string]struct{}, len(report.Synced))
		for _, id := range report.Synced {
			syncedSet[id] = struct{}{}
		}
		c.mu.Lock()
		kept := c.mirror[:0]
		for _, it := range c.mirror {
			if _, ok := syncedSet[it.ID]; !ok {
				kept = append(kept, it)
			}
		}
		c.mirror = kept
		c.mu.Unlock()
	}
	c.refreshMirror(ctx)

	if len(report.Synced) > 0 || len(report.Failed) > 0 {
		_ = c.bus.PublishJSON(events.EventSyncCompleted, events.SyncSummaryPayload{
			Synced:     len(report.Synced),
			Failed:     len(report.Failed),
			FailFast:   report.FailFast,
			FinishedAt: report.FinishedAt,
		})
	}

	switch {
	case report.FailFast:
		metrics.IncDrain("fail_fast")
	case len(report.Failed) > 0:
		metrics.IncDrain("partial")
	default:
		metrics.IncDrain("ok")
	}

	// A fail-fast pass never arms the retry timer: the remote is down and
	// timed re-drains would burn attempts against it while the monitor's
	// view is still stale. The connectivity-restored event and the periodic
	// tick are the recovery paths. Exhausted items alone never arm the
	// timer either; they are not delivered again until an operator
	// intervenes.
	retryable := false
	if !report.FailFast {
		for _, f := range report.Failed {
			if !f.Exhausted {
				retryable = true
				break
			}
		}
	}
	if retryable {
		passes := int(c.failedPasses.Add(1))
		delay := c.opts.Retry.NextBackoff(passes)
		time.AfterFunc(delay, c.RequestDrain)
		c.logger.Info().Dur("backoff", delay).Int("failed", len(report.Failed)).Msg("Retry pass scheduled")
	} else {
		c.failedPasses.Store(0)
	}

	if err := c.store.SetLastSync(ctx, report.FinishedAt); err != nil {
		c.logger.Error().Err(err).Msg("Failed to persist lastSync")
	}

	c.reportMu.Lock()
	c.lastReport = report
	c.reportMu.Unlock()

	c.logger.Info().
		Int("synced", len(report.Synced)).
		Int("failed", len(report.Failed)).
		Bool("fail_fast", report.FailFast).
		Msg("Drain pass finished")
}

// refreshMirror re-reads persisted attempt counters and error fields so
// the next pass sees up-to-date state.
func (c *Coordinator) refreshMirror(ctx context.Context) {
	items, err := c.queue.LoadPending(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to refresh queue mirror")
		return
	}
	c.mu.Lock()
	c.mirror = items
	metrics.SetQueueDepth(len(items))
	c.mu.Unlock()
}
