package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smukkama/metarmap-console/internal/backend"
	"github.com/smukkama/metarmap-console/internal/httpx"
	"github.com/smukkama/metarmap-console/internal/protocol"
)

// adminRoutes proxies the settings console controls to the device backend
func (s *Server) adminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Route("/services/{name}", func(r chi.Router) {
		r.Get("/status", s.serviceStatus)
		r.Post("/control/{action}", s.controlService)
		r.Get("/logs", s.serviceLogs)
		r.Post("/logs/tail", s.startLogTail)
		r.Delete("/logs/tail", s.stopLogTail)
	})

	r.Get("/networks", s.scanNetworks)
	r.Post("/networks/connect", s.connectNetwork)
	r.Get("/updates", s.checkForUpdates)
	r.Post("/updates/apply", s.proxyResult(s.deps.Backend.ApplyUpdate))
	r.Post("/shutdown", s.proxyResult(s.deps.Backend.Shutdown))
	r.Post("/restart", s.proxyResult(s.deps.Backend.Restart))
	r.Get("/timezones", s.timezones)
	r.Post("/timezone", s.setTimezone)

	r.Post("/leds/test", s.testLEDs)
	r.Post("/leds/off", s.proxyResult(s.deps.Backend.TurnOffLEDs))
	r.Post("/leds/test-service/start", s.proxyResult(s.deps.Backend.StartLEDTestService))
	r.Post("/leds/test-service/stop", s.proxyResult(s.deps.Backend.StopLEDTestService))

	if s.deps.LEDTest != nil {
		r.Get("/leds/auto-test", s.ledTestState)
		r.Post("/leds/auto-test/start", s.startLEDTest)
		r.Post("/leds/auto-test/next", s.nextLEDTest)
		r.Post("/leds/auto-test/stop", s.stopLEDTest)
	}

	return r
}

// backendError maps a backend failure onto the console response
func backendError(w http.ResponseWriter, err error) {
	var statusErr *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrUnknownService):
		httpx.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backend.ErrUnknownAction):
		httpx.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrLEDTestNotRunning):
		httpx.Error(w, http.StatusConflict, err.Error())
	case errors.As(err, &statusErr) && statusErr.Message != "":
		httpx.Error(w, http.StatusBadGateway, statusErr.Message)
	default:
		httpx.Error(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) proxyResult(call func(ctx context.Context) (*protocol.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := call(r.Context())
		if err != nil {
			backendError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, result)
	}
}

func (s *Server) serviceStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Backend.ServiceStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) controlService(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Backend.ControlService(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "action"))
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// serviceLogs serves the tailed copy when a tail is running and fetches
// directly otherwise
func (s *Server) serviceLogs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if tailed, ok := s.deps.LogTail.Latest(name); ok && tailed.Active {
		httpx.WriteJSON(w, http.StatusOK, tailed)
		return
	}

	result, err := s.deps.Backend.ServiceLogs(r.Context(), name)
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, TailedLogs{Service: name, Logs: result.Logs})
}

func (s *Server) startLogTail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.deps.LogTail.Start(name); err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"service": name, "active": true})
}

func (s *Server) stopLogTail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.deps.LogTail.Stop(name)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"service": name, "active": false})
}

func (s *Server) scanNetworks(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Backend.ScanNetworks(r.Context())
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) connectNetwork(w http.ResponseWriter, r *http.Request) {
	var payload protocol.ConnectNetworkRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.SSID == "" {
		httpx.Error(w, http.StatusBadRequest, "ssid is required")
		return
	}

	result, err := s.deps.Backend.ConnectNetwork(r.Context(), payload)
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) checkForUpdates(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Backend.CheckForUpdates(r.Context())
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) timezones(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Backend.Timezones(r.Context())
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) setTimezone(w http.ResponseWriter, r *http.Request) {
	var payload protocol.SetTimezoneRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(payload.Timezone) == "" {
		httpx.Error(w, http.StatusBadRequest, "timezone is required")
		return
	}

	result, err := s.deps.Backend.SetTimezone(r.Context(), payload.Timezone)
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) testLEDs(w http.ResponseWriter, r *http.Request) {
	var payload protocol.LEDTestRequest
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := payload.Validate(); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := backend.ConvertColor(payload.Color, payload.ColorOrder); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Backend.TestLEDs(r.Context(), payload)
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) ledTestState(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.deps.LEDTest.State())
}

// startLEDTest accepts an optional range body; an empty body lights the whole strip
func (s *Server) startLEDTest(w http.ResponseWriter, r *http.Request) {
	var rng LEDTestRange
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &rng); err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}
	if rng.StartPixel != nil && rng.EndPixel != nil && *rng.EndPixel < *rng.StartPixel {
		httpx.Error(w, http.StatusBadRequest, "end pixel is before start pixel")
		return
	}
	st, err := s.deps.LEDTest.Start(r.Context(), rng)
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) nextLEDTest(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.LEDTest.Next(r.Context())
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) stopLEDTest(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.LEDTest.Stop(r.Context())
	if err != nil {
		backendError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}
