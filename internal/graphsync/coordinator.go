package graphsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ontoloom/ontoloom/internal/schema"
	"go.uber.org/zap"

	"github.com/ontoloom/ontoloom/internal/domain"
)

const (
	// DefaultDebounce is how long the coordinator waits after the last
	// change event before syncing. Every new event restarts the window so a
	// burst of edits produces one sync.
	DefaultDebounce = 2 * time.Second

	// busyRetryDelay reschedules a due sync that found another one running.
	busyRetryDelay = 1 * time.Second

	// maxRecentErrors bounds the error history kept for status reporting.
	maxRecentErrors = 5

	syncTimeout = 60 * time.Second
)

// ErrSyncInProgress is returned by ForceSync when a sync is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncError is one failed sync attempt kept for status reporting.
type SyncError struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	Syncing      bool        `json:"syncing"`
	PendingEvent bool        `json:"pending_event"`
	LastSyncAt   *time.Time  `json:"last_sync_at,omitempty"`
	LastVersion  string      `json:"last_version,omitempty"`
	RecentErrors []SyncError `json:"recent_errors,omitempty"`
}

// Coordinator listens for schema change events and debounces them into graph
// sync runs. One sync runs at a time; a sync that comes due while another is
// running is retried shortly after instead of dropped.
type Coordinator struct {
	exporter *Exporter
	manager  *schema.Manager
	notifier domain.SchemaNotifier
	logger   *zap.Logger
	debounce time.Duration

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.Mutex
	syncing      bool
	pendingEvent bool
	lastSyncAt   *time.Time
	lastVersion  string
	recentErrors []SyncError
}

// NewCoordinator creates a sync coordinator. notifier may be nil, in which
// case only ForceSync triggers work.
func NewCoordinator(exporter *Exporter, manager *schema.Manager, notifier domain.SchemaNotifier, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		exporter: exporter,
		manager:  manager,
		notifier: notifier,
		logger:   logger,
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
	}
}

// SetDebounce overrides the debounce window, used by tests.
func (c *Coordinator) SetDebounce(d time.Duration) {
	if d > 0 {
		c.debounce = d
	}
}

// Start subscribes to schema change events and runs the debounce loop in a
// background goroutine.
func (c *Coordinator) Start() error {
	if c.notifier == nil {
		c.logger.Info("sync coordinator started without change notifications")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.notifier.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to schema changes: %w", err)
	}
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, events)
	}()

	c.logger.Info("sync coordinator started", zap.Duration("debounce", c.debounce))
	return nil
}

// Stop cancels the subscription and waits for the loop to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("sync coordinator stopped")
}

func (c *Coordinator) run(ctx context.Context, events <-chan domain.SchemaChangeEvent) {
	var timer *time.Timer
	var due <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			c.setPending(true)
			c.logger.Debug("schema change event",
				zap.String("op", event.Op),
				zap.String("version", event.Version))
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(c.debounce)
			due = timer.C

		case <-due:
			due = nil
			if !c.trySync(ctx) {
				// Another sync is running; try again shortly rather than
				// dropping the event.
				timer = time.NewTimer(busyRetryDelay)
				due = timer.C
			}

		case <-c.stopCh:
			return
		}
	}
}

// trySync runs one sync unless another is already running.
func (c *Coordinator) trySync(ctx context.Context) bool {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return false
	}
	c.syncing = true
	c.mu.Unlock()

	syncCtx, cancelSync := context.WithTimeout(ctx, syncTimeout)
	report, err := c.syncOnce(syncCtx)
	cancelSync()

	c.finish(report, err)
	return true
}

// syncOnce reloads the schema from the remote store, then exports it to the
// graph. The reload runs first so a remotely edited schema is what gets
// exported.
func (c *Coordinator) syncOnce(ctx context.Context) (*ExportReport, error) {
	if err := c.manager.Reload(ctx); err != nil {
		return nil, fmt.Errorf("reload schema: %w", err)
	}
	return c.exporter.Export(ctx)
}

// ForceSync runs one sync immediately, bypassing the debounce window. It is
// single-flight: a concurrent sync yields ErrSyncInProgress.
//
// Unlike event-driven syncs, ForceSync exports the in-memory schema without a
// remote reload first: a reload could silently drop mutations made while the
// remote store was unreachable, and callers forcing a sync want exactly the
// schema they are looking at pushed to the graph.
func (c *Coordinator) ForceSync(ctx context.Context) (*ExportReport, error) {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	c.syncing = true
	c.mu.Unlock()

	report, err := c.exporter.Export(ctx)
	c.finish(report, err)
	return report, err
}

func (c *Coordinator) finish(report *ExportReport, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncing = false
	now := time.Now().UTC()
	if err != nil {
		c.recentErrors = append(c.recentErrors, SyncError{At: now, Message: err.Error()})
		if len(c.recentErrors) > maxRecentErrors {
			c.recentErrors = c.recentErrors[len(c.recentErrors)-maxRecentErrors:]
		}
		c.logger.Error("graph sync failed", zap.Error(err))
		return
	}
	c.pendingEvent = false
	c.lastSyncAt = &now
	c.lastVersion = report.Version
}

func (c *Coordinator) setPending(v bool) {
	c.mu.Lock()
	c.pendingEvent = v
	c.mu.Unlock()
}

// Status snapshots coordinator state for the control API.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Syncing:      c.syncing,
		PendingEvent: c.pendingEvent,
		LastVersion:  c.lastVersion,
	}
	if c.lastSyncAt != nil {
		at := *c.lastSyncAt
		status.LastSyncAt = &at
	}
	status.RecentErrors = append([]SyncError{}, c.recentErrors...)
	return status
}

// NeedsSync reports whether the graph lags the current schema version.
func (c *Coordinator) NeedsSync(ctx context.Context) (bool, error) {
	return c.exporter.NeedsSync(ctx)
}
