package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"tagsync/internal/logging"
)

// Coalescer runs at most one reconciliation per key at a time. Triggers that
// arrive while a run is in flight collapse into a single trailing run, which
// uses the most recently supplied function.
type Coalescer struct {
	mu      sync.Mutex
	pending map[string]*slot
	wg      sync.WaitGroup
	logger  *slog.Logger
}

type slot struct {
	rerun bool
	next  func(context.Context) error
}

// NewCoalescer returns an empty coalescer.
func NewCoalescer(logger *slog.Logger) *Coalescer {
	return &Coalescer{
		pending: make(map[string]*slot),
		logger:  logging.NewComponentLogger(logger, "coalescer"),
	}
}

// Trigger schedules fn for key. It reports whether a new run started; false
// means the trigger was folded into the run already in flight.
func (c *Coalescer) Trigger(ctx context.Context, key string, fn func(context.Context) error) bool {
	c.mu.Lock()
	if s, ok := c.pending[key]; ok {
		s.rerun = true
		s.next = fn
		c.mu.Unlock()
		return false
	}
	c.pending[key] = &slot{}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.loop(ctx, key, fn)
	return true
}

func (c *Coalescer) loop(ctx context.Context, key string, fn func(context.Context) error) {
	defer c.wg.Done()
	for {
		if ctx.Err() == nil {
			if err := fn(ctx); err != nil {
				c.logger.Debug("coalesced run failed",
					logging.String(logging.FieldDocument, key),
					logging.Error(err),
				)
			}
		}

		c.mu.Lock()
		s := c.pending[key]
		if !s.rerun || ctx.Err() != nil {
			delete(c.pending, key)
			c.mu.Unlock()
			return
		}
		fn = s.next
		s.rerun = false
		s.next = nil
		c.mu.Unlock()
	}
}

// InFlight reports whether key has a run in progress.
func (c *Coalescer) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Wait blocks until every scheduled run has finished.
func (c *Coalescer) Wait() {
	c.wg.Wait()
}
