package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"heatbridge/internal/dewarmte"
)

const (
	// DefaultInterval is the period between refresh cycles
	DefaultInterval = time.Minute
	// DefaultTimeout bounds one whole refresh cycle
	DefaultTimeout = 30 * time.Second
)

// ErrRefreshInProgress is returned when a refresh is requested while
// a cycle is still running. Ticks hitting this are skipped, never
// queued: two concurrent cycles would interleave token and snapshot
// writes.
var ErrRefreshInProgress = errors.New("refresh cycle already running")

// UpdateFailedError wraps whatever caused a refresh cycle to fail.
// The previously published snapshot stays untouched.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("error communicating with API: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// Client is the slice of the DeWarmte API client the coordinator needs
type Client interface {
	EnsureAuthenticated(ctx context.Context) error
	GetDevices(ctx context.Context) ([]dewarmte.Product, error)
	GetOutdoorTemperature(ctx context.Context) (*float64, error)
	GetInsights(ctx context.Context, deviceID string) (*dewarmte.Insights, error)
}

// Notifier receives edge-triggered cycle health transitions
type Notifier interface {
	CycleFailed(err error)
	CycleRecovered()
}

// Coordinator runs one bounded, ordered, all-or-nothing refresh cycle
// per schedule tick and publishes the result atomically.
type Coordinator struct {
	client       Client
	interval     time.Duration
	timeout      time.Duration
	withInsights bool
	logger       *slog.Logger
	notifier     Notifier
	listeners    []func(dewarmte.Snapshot)
	stopChan     chan struct{}
	refreshing   atomic.Bool

	mu          sync.RWMutex
	snapshot    dewarmte.Snapshot
	lastSuccess bool
	lastRefresh time.Time
	lastErr     error
}

// Options tunes a Coordinator; zero values fall back to defaults
type Options struct {
	Interval     time.Duration
	Timeout      time.Duration
	WithInsights bool
}

// New creates a new coordinator around the given client
func New(client Client, opts Options, logger *slog.Logger) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client:       client,
		interval:     opts.Interval,
		timeout:      opts.Timeout,
		withInsights: opts.WithInsights,
		logger:       logger.With("component", "coordinator"),
		stopChan:     make(chan struct{}),
		snapshot:     dewarmte.Snapshot{},
		lastSuccess:  true,
	}
}

// SetNotifier registers the cycle health notifier. Must be called
// before Start.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// AddListener registers a callback invoked with each successfully
// published snapshot. Must be called before Start.
func (c *Coordinator) AddListener(fn func(dewarmte.Snapshot)) {
	c.listeners = append(c.listeners, fn)
}

// Start begins the periodic refresh loop
func (c *Coordinator) Start() {
	c.logger.Info("coordinator started", "interval", c.interval.String())
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(context.Background()); err != nil {
				if errors.Is(err, ErrRefreshInProgress) {
					c.logger.Debug("previous cycle still running, tick skipped")
				}
				// Cycle failures are already logged and reported
				// inside Refresh; the loop keeps ticking.
			}
		case <-c.stopChan:
			c.logger.Info("coordinator stopped")
			return
		}
	}
}

// Stop stops the periodic refresh loop
func (c *Coordinator) Stop() {
	close(c.stopChan)
}

// Refresh runs one full refresh cycle: authenticate, fetch, merge,
// publish. On any failure the previous snapshot is retained and an
// UpdateFailedError wrapping the cause is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer c.refreshing.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	snapshot, err := c.fetch(ctx)
	if err != nil {
		wrapped := &UpdateFailedError{Err: err}

		c.mu.Lock()
		wasHealthy := c.lastSuccess
		c.lastSuccess = false
		c.lastErr = wrapped
		c.mu.Unlock()

		c.logger.Error("refresh cycle failed", "error", err, "duration", time.Since(started).String())
		if wasHealthy && c.notifier != nil {
			c.notifier.CycleFailed(wrapped)
		}
		return wrapped
	}

	c.mu.Lock()
	wasHealthy := c.lastSuccess
	c.snapshot = snapshot
	c.lastSuccess = true
	c.lastRefresh = time.Now()
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Debug("refresh cycle completed",
		"devices", len(snapshot),
		"duration", time.Since(started).String())

	if !wasHealthy && c.notifier != nil {
		c.notifier.CycleRecovered()
	}
	for _, fn := range c.listeners {
		fn(snapshot)
	}
	return nil
}

// fetch performs the ordered data calls of one cycle and merges the
// results into a fresh snapshot. Any error aborts the whole cycle;
// no partial snapshot is ever returned.
func (c *Coordinator) fetch(ctx context.Context) (dewarmte.Snapshot, error) {
	if err := c.client.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	products, err := c.client.GetDevices(ctx)
	if err != nil {
		return nil, err
	}

	// One outdoor reading is shared across all devices this cycle.
	outdoorTemp, err := c.client.GetOutdoorTemperature(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make(dewarmte.Snapshot, len(products))
	for _, product := range products {
		device := dewarmte.Device{
			ID:          product.ID,
			Nickname:    product.Nickname,
			Model:       product.Model,
			Status:      product.Status,
			OutdoorTemp: outdoorTemp,
		}

		if c.withInsights {
			insights, err := c.client.GetInsights(ctx, product.ID)
			if err != nil {
				return nil, err
			}
			device.Insights = insights
		}

		snapshot[product.ID] = device
	}
	return snapshot, nil
}

// Snapshot returns the most recently published snapshot. Callers must
// treat it as immutable.
func (c *Coordinator) Snapshot() dewarmte.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastUpdateSuccess reports whether the most recent cycle succeeded
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// LastRefresh returns the completion time of the last successful cycle
func (c *Coordinator) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// LastError returns the failure of the most recent cycle, or nil
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}
