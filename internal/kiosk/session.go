package kiosk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/metarmap-console/internal/events"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/selection"
	"github.com/smukkama/metarmap-console/internal/timer"
)

// Backend is the slice of the device backend the reset sequence calls
type Backend interface {
	ResetKiosk(ctx context.Context) error
	UpdateWeather(ctx context.Context) (*protocol.Result, error)
}

// MapResetter restores the unfiltered map
type MapResetter interface {
	ResetMap()
}

// Message kinds
const (
	MessageSuccess = "success"
	MessageError   = "error"
)

// Message is a transient status line shown to the kiosk user
type Message struct {
	Text      string    `json:"text"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Options configures a Session
type Options struct {
	SessionID       string
	IdleDuration    time.Duration
	TickInterval    time.Duration
	MessageLifetime time.Duration
	ResetTimeout    time.Duration
}

// Session is one kiosk display: its filter engine, its map and the idle
// countdown that brings both back to normal operation
type Session struct {
	ID string

	backend   Backend
	engine    *selection.Engine
	mapView   MapResetter
	publisher events.Publisher
	countdown *Countdown
	opts      Options
	now       func() time.Time

	// serializes reset sequences so an expiry and a button press never overlap
	resetMu sync.Mutex

	mu      sync.Mutex
	message Message
	resets  int
}

// NewSession wires a kiosk session. publisher may be nil.
func NewSession(backend Backend, engine *selection.Engine, mapView MapResetter, scheduler *timer.Scheduler, publisher events.Publisher, opts Options) *Session {
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}
	if opts.IdleDuration <= 0 {
		opts.IdleDuration = 600 * time.Second
	}
	if opts.MessageLifetime <= 0 {
		opts.MessageLifetime = 5 * time.Second
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}

	s := &Session{
		ID:        opts.SessionID,
		backend:   backend,
		engine:    engine,
		mapView:   mapView,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
	s.countdown = NewCountdown(scheduler, opts.IdleDuration, opts.TickInterval, s.expire)
	return s
}

// Start begins the idle countdown
func (s *Session) Start() error {
	log.Printf("Kiosk session %s started, idle reset after %v", s.ID, s.countdown.Duration())
	return s.countdown.Restart()
}

// Stop halts the idle countdown
func (s *Session) Stop() {
	s.countdown.Stop()
}

// Countdown exposes the idle countdown
func (s *Session) Countdown() *Countdown {
	return s.countdown
}

func (s *Session) expire() {
	log.Printf("Kiosk idle window elapsed, resetting")
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ResetTimeout)
	defer cancel()
	s.Reset(ctx)
}

// Reset returns the kiosk to normal operation: the backend is reset and
// refreshed, then inputs, previews and the map are cleared. If the backend
// fails the displayed state is kept. The countdown restarts either way.
func (s *Session) Reset(ctx context.Context) error {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	err := s.backend.ResetKiosk(ctx)
	if err == nil {
		_, err = s.backend.UpdateWeather(ctx)
	}

	payload := map[string]string{}
	if err != nil {
		log.Printf("Kiosk reset failed: %v", err)
		s.ShowMessage(fmt.Sprintf("Failed to reset: %v", err), MessageError)
		payload["error"] = err.Error()
	} else {
		s.engine.Clear()
		s.engine.Forget(ctx)
		s.mapView.ResetMap()
		s.ShowMessage("Reset to normal operation", MessageSuccess)

		s.mu.Lock()
		s.resets++
		s.mu.Unlock()
	}

	if restartErr := s.countdown.Restart(); restartErr != nil {
		log.Printf("Failed to restart countdown: %v", restartErr)
	}

	events.Emit(ctx, s.publisher, s.ID, protocol.EventKioskReset, payload)
	return err
}

// Apply submits the current selection; success restarts the idle countdown
func (s *Session) Apply(ctx context.Context) (*selection.ApplyResult, error) {
	result, err := s.engine.Apply(ctx)
	if err != nil {
		s.ShowMessage(err.Error(), MessageError)
		return nil, err
	}

	if restartErr := s.countdown.Restart(); restartErr != nil {
		log.Printf("Failed to restart countdown: %v", restartErr)
	}
	s.ShowMessage("Filters applied successfully", MessageSuccess)
	return result, nil
}

// ShowMessage sets the status line for the configured lifetime
func (s *Session) ShowMessage(text, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = Message{Text: text, Kind: kind, ExpiresAt: s.now().Add(s.opts.MessageLifetime)}
}

// CurrentMessage returns the status line while it is still showing
func (s *Session) CurrentMessage() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.message.Text == "" || !s.now().Before(s.message.ExpiresAt) {
		return Message{}, false
	}
	return s.message, true
}

// Resets returns the number of completed reset sequences
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
