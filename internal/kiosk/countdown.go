package kiosk

import (
	"fmt"
	"sync"
	"time"

	"github.com/smukkama/metarmap-console/internal/timer"
)

// CountdownTaskID is the scheduler ID of the idle countdown tick
const CountdownTaskID = "kiosk-countdown"

// Countdown counts an idle window down once per tick and fires onExpire
// exactly once when it reaches zero
type Countdown struct {
	scheduler *timer.Scheduler
	duration  time.Duration
	tick      time.Duration
	onExpire  func()

	mu          sync.Mutex
	remaining   time.Duration
	running     bool
	gen         uint64
	expirations int
}

// NewCountdown creates a stopped countdown
func NewCountdown(scheduler *timer.Scheduler, duration, tick time.Duration, onExpire func()) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	if duration < tick {
		duration = tick
	}
	return &Countdown{
		scheduler: scheduler,
		duration:  duration,
		tick:      tick,
		onExpire:  onExpire,
		remaining: duration,
	}
}

// Restart cancels any pending tick and starts a full interval
func (c *Countdown) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scheduler.Cancel(CountdownTaskID)
	c.gen++
	c.remaining = c.duration
	c.running = true

	gen := c.gen
	if err := c.scheduler.Every(CountdownTaskID, c.tick, func() { c.advance(gen) }); err != nil {
		c.running = false
		return fmt.Errorf("failed to start countdown: %w", err)
	}
	return nil
}

// Stop halts the countdown without firing onExpire
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scheduler.Cancel(CountdownTaskID)
	c.gen++
	c.running = false
}

// Tick advances the running countdown by one tick
func (c *Countdown) Tick() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.advance(gen)
}

// advance ignores ticks from a series that has since been restarted or stopped
func (c *Countdown) advance(gen uint64) {
	c.mu.Lock()
	if !c.running || gen != c.gen {
		c.mu.Unlock()
		return
	}

	c.remaining -= c.tick
	if c.remaining > 0 {
		c.mu.Unlock()
		return
	}

	c.remaining = 0
	c.running = false
	c.gen++
	c.expirations++
	c.scheduler.Cancel(CountdownTaskID)
	onExpire := c.onExpire
	c.mu.Unlock()

	if onExpire != nil {
		onExpire()
	}
}

// Remaining returns the time left
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether the countdown is ticking
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Duration returns the full idle window
func (c *Countdown) Duration() time.Duration {
	return c.duration
}

// Expirations returns how many times the countdown reached zero
func (c *Countdown) Expirations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expirations
}

// Display renders the time left as m:ss
func (c *Countdown) Display() string {
	return FormatRemaining(c.Remaining())
}

// FormatRemaining renders a duration as m:ss, rounding partial seconds up
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
