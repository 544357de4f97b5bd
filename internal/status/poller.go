package status

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smukkama/metarmap-console/internal/events"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/state"
	"github.com/smukkama/metarmap-console/internal/timer"
)

// PollTaskID is the scheduler ID of the recurring poll
const PollTaskID = "weather-status-poll"

// Source is the slice of the backend the poller reads
type Source interface {
	WeatherStatus(ctx context.Context) (*protocol.WeatherStatus, error)
	WeatherData(ctx context.Context) (protocol.WeatherData, error)
}

// MarkerLoader receives a full marker reload
type MarkerLoader interface {
	LoadAirports(data protocol.WeatherData) []string
}

// Options configures a Poller
type Options struct {
	Interval         time.Duration
	DefaultThreshold float64
	Location         *time.Location
	SessionID        string
	RequestTimeout   time.Duration
}

// Poller checks weather freshness on a fixed interval and reloads the
// markers after every parsable status
type Poller struct {
	source    Source
	markers   MarkerLoader
	scheduler *timer.Scheduler
	publisher events.Publisher
	store     state.Store
	opts      Options

	inFlight atomic.Bool
	now      func() time.Time

	mu        sync.RWMutex
	last      Freshness
	hasLast   bool
	polls     int
	dropped   int
	reloadErr error
}

// NewPoller creates a poller. publisher and store may be nil.
func NewPoller(source Source, markers MarkerLoader, scheduler *timer.Scheduler, publisher events.Publisher, store state.Store, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.DefaultThreshold <= 0 {
		opts.DefaultThreshold = DefaultThreshold
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Poller{
		source:    source,
		markers:   markers,
		scheduler: scheduler,
		publisher: publisher,
		store:     store,
		opts:      opts,
		now:       time.Now,
	}
}

// Start arms the recurring poll. Calling it again replaces the series, so
// there is never more than one active interval.
func (p *Poller) Start() error {
	if err := p.scheduler.Every(PollTaskID, p.opts.Interval, p.tick); err != nil {
		return fmt.Errorf("failed to start weather poll: %w", err)
	}
	log.Printf("Weather status poll every %v", p.opts.Interval)
	return nil
}

// Stop cancels the recurring poll
func (p *Poller) Stop() {
	p.scheduler.Cancel(PollTaskID)
}

func (p *Poller) tick() {
	timeout := p.opts.RequestTimeout
	if timeout <= 0 {
		timeout = p.opts.Interval
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p.Poll(ctx)
}

// Poll runs one status check. It returns false without doing anything when
// another poll is still outstanding.
func (p *Poller) Poll(ctx context.Context) (Freshness, bool) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return Freshness{}, false
	}
	defer p.inFlight.Store(false)

	ws, err := p.source.WeatherStatus(ctx)
	now := p.now()

	var f Freshness
	if err != nil {
		log.Printf("Error fetching weather status: %v", err)
		f = Stale(now, p.opts.DefaultThreshold, err)
	} else {
		f = Evaluate(ws, now, p.opts.DefaultThreshold, p.opts.Location)
		if f.Err != nil {
			log.Printf("Weather status unusable: %v", f.Err)
		}
	}

	if err == nil && !f.UpdatedAt.IsZero() {
		p.reload(ctx)
	}

	p.record(ctx, f)
	return f, true
}

// reload replaces every marker with the current weather data. A failure
// keeps the markers already on the map.
func (p *Poller) reload(ctx context.Context) {
	data, err := p.source.WeatherData(ctx)

	p.mu.Lock()
	p.reloadErr = err
	p.mu.Unlock()

	if err != nil {
		log.Printf("Error updating airport markers: %v", err)
		return
	}

	loaded := p.markers.LoadAirports(data)
	events.Emit(ctx, p.publisher, p.opts.SessionID, protocol.EventMarkersLoaded, protocol.MarkersPayload{
		Loaded:  len(loaded),
		Skipped: len(data) - len(loaded),
	})
}

func (p *Poller) record(ctx context.Context, f Freshness) {
	p.mu.Lock()
	changed := !p.hasLast || p.last.Fresh != f.Fresh || p.last.LastUpdated != f.LastUpdated
	p.last = f
	p.hasLast = true
	p.polls++
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.SetFreshness(ctx, f.Payload()); err != nil {
			log.Printf("Failed to save freshness: %v", err)
		}
	}
	if changed {
		events.Emit(ctx, p.publisher, p.opts.SessionID, protocol.EventFreshnessChanged, f.Payload())
	}
}

// Last returns the most recent result; ok is false before the first poll
func (p *Poller) Last() (Freshness, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.hasLast
}

// Stats returns statistics about the poller
func (p *Poller) Stats() PollerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PollerStats{
		Polls:    p.polls,
		Dropped:  p.dropped,
		InFlight: p.inFlight.Load(),
		Running:  p.scheduler.Pending(PollTaskID),
	}
	if p.reloadErr != nil {
		stats.LastReloadError = p.reloadErr.Error()
	}
	return stats
}

// PollerStats contains statistics about the poller
type PollerStats struct {
	Polls           int    `json:"polls"`
	Dropped         int    `json:"dropped"`
	InFlight        bool   `json:"in_flight"`
	Running         bool   `json:"running"`
	LastReloadError string `json:"last_reload_error,omitempty"`
}
