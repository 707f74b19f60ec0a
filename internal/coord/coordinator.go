// Package coord provides background refresh scheduling for fedline.
package coord

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/fedline/internal/logging"
	"github.com/abelbrown/fedline/internal/ui"
)

// DefaultInterval is the time between automatic refreshes.
const DefaultInterval = 5 * time.Minute

// Sender delivers messages to the program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Coordinator asks the program to refresh on a fixed interval. It never
// touches the engine itself: the refresh runs on the program's writer loop,
// which skips the tick when a refresh is already in flight.
// Uses context cancellation as the ONLY stop mechanism.
type Coordinator struct {
	interval time.Duration
	send     Sender // may be nil in tests
	wg       sync.WaitGroup
}

// New creates a Coordinator. A non-positive interval uses DefaultInterval.
func New(interval time.Duration, send Sender) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{interval: interval, send: send}
}

// Interval returns the refresh period.
func (c *Coordinator) Interval() time.Duration { return c.interval }

// Start begins the background ticker. The first tick fires one interval
// from now; the initial load is the program's own job.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick()
			}
		}
	}()
}

func (c *Coordinator) tick() {
	logging.Debug("coord: refresh tick", "interval", c.interval)
	if c.send != nil {
		c.send.Send(ui.RefreshTick{})
	}
}

// Wait blocks until the background goroutine exits.
// Call after canceling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
