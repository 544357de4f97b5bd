package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/smukkama/metarmap-console/internal/backend"
	"github.com/smukkama/metarmap-console/internal/database"
	"github.com/smukkama/metarmap-console/internal/events"
	"github.com/smukkama/metarmap-console/internal/kiosk"
	"github.com/smukkama/metarmap-console/internal/mapview"
	"github.com/smukkama/metarmap-console/internal/selection"
	"github.com/smukkama/metarmap-console/internal/state"
	"github.com/smukkama/metarmap-console/internal/status"
)

// Journal reads the persisted event history
type Journal interface {
	RecentEvents(ctx context.Context, limit int, eventType string) ([]*database.EventRecord, error)
	GetAppliedSelection(ctx context.Context, sessionID string) (*database.AppliedSelection, error)
}

// Deps are the components a display surface exposes. Kiosk, LogTail and
// LEDTest are optional; without them their routes are not mounted.
type Deps struct {
	SessionID string
	Backend   *backend.Client
	Maps      *mapview.Holder
	Poller    *status.Poller
	Engine    *selection.Engine
	Kiosk     *kiosk.Session
	Recent    *events.Buffer
	Journal   Journal
	Store     state.Store
	Hub       *Hub
	LogTail   *LogTail
	LEDTest   *LEDTest
	Publisher events.Publisher
}

// Server is the local HTTP surface of a display
type Server struct {
	deps       Deps
	httpServer *http.Server
}

// NewServer creates a server listening on addr
func NewServer(addr string, deps Deps) *Server {
	s := &Server{deps: deps}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	router.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	router.Route("/api", func(r chi.Router) {
		r.Get("/map", s.getMap)
		r.Post("/map/view", s.setMapView)
		r.Get("/status", s.getStatus)
		r.Post("/status/poll", s.pollStatus)
		r.Get("/state", s.getState)
		r.Get("/events", s.listEvents)
		r.Post("/weather/update", s.updateWeather)

		if s.deps.Engine != nil {
			r.Route("/selection", func(r chi.Router) {
				r.Get("/preview", s.getPreview)
				r.Post("/conditions", s.setCondition)
				r.Post("/manual", s.setManual)
				r.Post("/apply", s.applySelection)
			})
		}
		if s.deps.Kiosk != nil {
			r.Route("/kiosk", func(r chi.Router) {
				r.Post("/reset", s.resetKiosk)
				r.Get("/countdown", s.getCountdown)
			})
		}
		if s.deps.LogTail != nil {
			r.Mount("/admin", s.adminRoutes())
		}
	})

	if s.deps.Hub != nil {
		router.Handle("/ws", s.deps.Hub)
	}

	return router
}

// Start begins serving in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	log.Printf("HTTP server listening on %s", listener.Addr())
	return nil
}

// Shutdown stops accepting requests and waits for the ones in flight
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
