package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/smukkama/metarmap-console/internal/database"
	"github.com/smukkama/metarmap-console/internal/events"
	"github.com/smukkama/metarmap-console/internal/httpx"
	"github.com/smukkama/metarmap-console/internal/kiosk"
	"github.com/smukkama/metarmap-console/internal/mapview"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/selection"
	"github.com/smukkama/metarmap-console/internal/state"
	"github.com/smukkama/metarmap-console/internal/status"
)

type mapResponse struct {
	View    mapview.View        `json:"view"`
	Colors  mapview.ColorConfig `json:"colors"`
	Markers []mapview.Marker    `json:"markers"`
	Visible []string            `json:"visible"`
	Stats   mapview.Stats       `json:"stats"`
}

func (s *Server) currentMap(w http.ResponseWriter) *mapview.Map {
	m := s.deps.Maps.Current()
	if m == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "map not initialized")
	}
	return m
}

func (s *Server) getMap(w http.ResponseWriter, r *http.Request) {
	m := s.currentMap(w)
	if m == nil {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mapResponse{
		View:    m.View(),
		Colors:  m.Colors(),
		Markers: m.Markers(),
		Visible: m.Visible(),
		Stats:   m.Stats(),
	})
}

func (s *Server) setMapView(w http.ResponseWriter, r *http.Request) {
	m := s.currentMap(w)
	if m == nil {
		return
	}

	var payload struct {
		Center protocol.LatLon `json:"center"`
		Zoom   int             `json:"zoom"`
		Save   bool            `json:"save"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if err := m.SetView(payload.Center, payload.Zoom); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	view := m.View()
	if payload.Save {
		saved, err := m.SaveView(r.Context(), s.deps.Backend)
		if err != nil {
			httpx.Error(w, http.StatusBadGateway, err.Error())
			return
		}
		view = saved
		events.Emit(r.Context(), s.deps.Publisher, s.deps.SessionID, protocol.EventMapViewSaved, saved)
	}

	httpx.WriteJSON(w, http.StatusOK, view)
}

type statusResponse struct {
	Available bool               `json:"available"`
	Indicator string             `json:"indicator"`
	Freshness *status.Freshness  `json:"freshness,omitempty"`
	Error     string             `json:"error,omitempty"`
	Poller    status.PollerStats `json:"poller"`
}

func (s *Server) statusBody(f status.Freshness, ok bool) statusResponse {
	resp := statusResponse{Available: ok, Indicator: "red", Poller: s.deps.Poller.Stats()}
	if ok {
		resp.Indicator = f.Indicator()
		resp.Freshness = &f
		if f.Err != nil {
			resp.Error = f.Err.Error()
		}
	}
	return resp
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	f, ok := s.deps.Poller.Last()
	httpx.WriteJSON(w, http.StatusOK, s.statusBody(f, ok))
}

func (s *Server) pollStatus(w http.ResponseWriter, r *http.Request) {
	f, ran := s.deps.Poller.Poll(r.Context())
	if !ran {
		httpx.Error(w, http.StatusConflict, "a status check is already in progress")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.statusBody(f, true))
}

// stateResponse is the shared display state plus the journaled selection
type stateResponse struct {
	*state.DisplayState
	Journaled *database.AppliedSelection `json:"journaled_selection,omitempty"`
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{DisplayState: &state.DisplayState{}}
	if s.deps.Store != nil {
		snapshot, err := state.Snapshot(r.Context(), s.deps.Store)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to read display state")
			return
		}
		resp.DisplayState = snapshot
	}

	if s.deps.Journal != nil {
		sel, err := s.deps.Journal.GetAppliedSelection(r.Context(), s.deps.SessionID)
		if err != nil {
			log.Printf("Failed to read journaled selection: %v", err)
		}
		resp.Journaled = sel
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := httpx.IntQuery(r, "limit", 50)
	eventType := r.URL.Query().Get("type")

	if s.deps.Journal == nil {
		recent := []*protocol.Event{}
		if s.deps.Recent != nil {
			recent = s.deps.Recent.Recent(limit, protocol.EventType(eventType))
		}
		httpx.WriteJSON(w, http.StatusOK, recent)
		return
	}

	records, err := s.deps.Journal.RecentEvents(r.Context(), limit, eventType)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	result := make([]*protocol.Event, len(records))
	for i, rec := range records {
		result[i] = rec.Event()
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) updateWeather(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Backend.UpdateWeather(r.Context())
	if err != nil {
		httpx.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) getPreview(w http.ResponseWriter, r *http.Request) {
	if preview := s.deps.Engine.LastPreview(); preview != nil {
		httpx.WriteJSON(w, http.StatusOK, preview)
		return
	}
	preview, err := s.deps.Engine.ComputePreview(r.Context())
	s.writePreview(w, preview, err)
}

func (s *Server) setCondition(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Condition string `json:"condition"`
		Enabled   bool   `json:"enabled"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	condition, err := selection.ParseCondition(payload.Condition)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	preview, err := s.deps.Engine.SetCondition(r.Context(), condition, payload.Enabled)
	s.writePreview(w, preview, err)
}

func (s *Server) setManual(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	preview, err := s.deps.Engine.SetManual(r.Context(), payload.Text)
	s.writePreview(w, preview, err)
}

// writePreview still returns the partial preview when the snapshot failed;
// its Error field carries the message
func (s *Server) writePreview(w http.ResponseWriter, preview selection.Preview, err error) {
	if err != nil && preview.Error == "" {
		preview.Error = err.Error()
	}
	httpx.WriteJSON(w, http.StatusOK, preview)
}

type applyResponse struct {
	Result  *selection.ApplyResult `json:"result,omitempty"`
	Message string                 `json:"message"`
}

func (s *Server) applySelection(w http.ResponseWriter, r *http.Request) {
	var (
		result *selection.ApplyResult
		err    error
	)
	if s.deps.Kiosk != nil {
		result, err = s.deps.Kiosk.Apply(r.Context())
	} else {
		result, err = s.deps.Engine.Apply(r.Context())
	}

	if err != nil {
		var validationErr *selection.ValidationError
		if errors.As(err, &validationErr) {
			httpx.Error(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		httpx.Error(w, http.StatusBadGateway, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, applyResponse{Result: result, Message: "Filters applied successfully"})
}

func (s *Server) resetKiosk(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Kiosk.Reset(r.Context()); err != nil {
		httpx.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Reset to normal operation"})
}

type countdownResponse struct {
	RemainingSeconds int            `json:"remaining_seconds"`
	Display          string         `json:"display"`
	Running          bool           `json:"running"`
	Message          *kiosk.Message `json:"message,omitempty"`
}

func (s *Server) getCountdown(w http.ResponseWriter, r *http.Request) {
	countdown := s.deps.Kiosk.Countdown()
	resp := countdownResponse{
		RemainingSeconds: int(countdown.Remaining().Seconds()),
		Display:          countdown.Display(),
		Running:          countdown.Running(),
	}
	if msg, ok := s.deps.Kiosk.CurrentMessage(); ok {
		resp.Message = &msg
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
