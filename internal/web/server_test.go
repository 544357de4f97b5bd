package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/metarmap-console/internal/backend"
	"github.com/smukkama/metarmap-console/internal/database"
	"github.com/smukkama/metarmap-console/internal/events"
	"github.com/smukkama/metarmap-console/internal/kiosk"
	"github.com/smukkama/metarmap-console/internal/mapview"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/selection"
	"github.com/smukkama/metarmap-console/internal/state"
	"github.com/smukkama/metarmap-console/internal/status"
	"github.com/smukkama/metarmap-console/internal/timer"
	"github.com/smukkama/metarmap-console/pkg/config"
)

// fakeDevice answers the device backend endpoints the console uses
type fakeDevice struct {
	mu          sync.Mutex
	applied     []protocol.ApplyFiltersRequest
	resets      int
	savedView   *protocol.MapSettings
	failApply   bool
	lastUpdated string
	controls    []string
	ledColors   []string
	ledCalls    []string
}

func (f *fakeDevice) handler() http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/weather-status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		write(w, protocol.WeatherStatus{Success: true, LastUpdated: f.lastUpdated})
	})
	mux.HandleFunc("/get-weather-data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"KSEA": {"latitude": 47.45, "longitude": -122.31, "flt_cat": "VFR", "site": "Seattle", "raw_observation": "KSEA 121853Z"},
			"KPDX": {"latitude": 45.59, "longitude": -122.6, "flt_cat": "IFR"},
			"KXXX": {"flt_cat": "VFR"}
		}`))
	})
	mux.HandleFunc("/map-settings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var settings protocol.MapSettings
			json.NewDecoder(r.Body).Decode(&settings)
			f.mu.Lock()
			f.savedView = &settings
			f.mu.Unlock()
			write(w, protocol.Result{Success: true})
			return
		}
		write(w, protocol.MapSettings{Center: []float64{47, -122}, Zoom: 6})
	})
	mux.HandleFunc("/kiosk/condition-airports", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"windy": {"KPDX": {"wind_speed": 30}}, "snowy": {}, "lightning": {}}`))
	})
	mux.HandleFunc("/kiosk/apply-filters", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.ApplyFiltersRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failApply {
			w.WriteHeader(http.StatusInternalServerError)
			write(w, map[string]string{"error": "LED strip busy"})
			return
		}
		f.applied = append(f.applied, req)
		write(w, protocol.ApplyFiltersResponse{Count: len(req.ManualAirports) + len(req.Filters)})
	})
	mux.HandleFunc("/kiosk/reset", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.resets++
		f.mu.Unlock()
		write(w, protocol.Result{Success: true})
	})
	mux.HandleFunc("/update-weather", func(w http.ResponseWriter, r *http.Request) {
		write(w, protocol.Result{Status: "success", Message: "Weather updated"})
	})
	mux.HandleFunc("/service/status/metar", func(w http.ResponseWriter, r *http.Request) {
		write(w, protocol.ServiceStatus{Status: "active", Message: "running"})
	})
	mux.HandleFunc("/service/logs/metar", func(w http.ResponseWriter, r *http.Request) {
		write(w, protocol.ServiceLogs{Success: true, Logs: "metar updated"})
	})
	mux.HandleFunc("/service/control/metar/stop", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.controls = append(f.controls, "metar/stop")
		f.mu.Unlock()
		write(w, protocol.ServiceControlResult{Success: true})
	})
	mux.HandleFunc("/test-leds", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.LEDTestRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.ledColors = append(f.ledColors, req.Color)
		f.mu.Unlock()
		write(w, protocol.Result{Success: true})
	})
	for _, path := range []string{"/led-test-service/start", "/led-test-service/stop", "/turn-off-leds"} {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.ledCalls = append(f.ledCalls, path)
			f.mu.Unlock()
			write(w, protocol.Result{Success: true})
		})
	}
	return mux
}

type testEnv struct {
	device    *fakeDevice
	server    *httptest.Server
	scheduler *timer.Scheduler
	buffer    *events.Buffer
	session   *kiosk.Session
	store     *state.MemoryStore
	maps      *mapview.Holder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	device := &fakeDevice{lastUpdated: time.Now().Add(-2 * time.Minute).Format("2006-01-02 15:04:05")}
	deviceServer := httptest.NewServer(device.handler())
	t.Cleanup(deviceServer.Close)

	client := backend.NewClient(&config.BackendConfig{BaseURL: deviceServer.URL, RequestTimeout: 2 * time.Second})
	scheduler := timer.NewScheduler()
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	buffer := events.NewBuffer(50)
	store := state.NewMemoryStore()
	maps := mapview.NewHolder()
	m := maps.InitializeFromSettings(context.Background(), client, "airport-map", mapview.ColorsFromLegend(config.DefaultLegend()))

	poller := status.NewPoller(client, m, scheduler, buffer, store, status.Options{SessionID: "kiosk-1"})
	engine := selection.NewEngine(client, m, buffer, store, selection.Options{SessionID: "kiosk-1"})
	session := kiosk.NewSession(client, engine, m, scheduler, buffer, kiosk.Options{
		SessionID:    "kiosk-1",
		IdleDuration: time.Minute,
	})

	srv := NewServer("127.0.0.1:0", Deps{
		SessionID: "kiosk-1",
		Backend:   client,
		Maps:      maps,
		Poller:    poller,
		Engine:    engine,
		Kiosk:     session,
		Recent:    buffer,
		Store:     store,
		LogTail:   NewLogTail(client, scheduler, 50*time.Millisecond),
		LEDTest:   NewLEDTest(client, config.DefaultLegend()),
		Publisher: buffer,
	})
	server := httptest.NewServer(srv.Routes())
	t.Cleanup(server.Close)

	return &testEnv{
		device:    device,
		server:    server,
		scheduler: scheduler,
		buffer:    buffer,
		session:   session,
		store:     store,
		maps:      maps,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]string
	if code := env.do(t, http.MethodGet, "/api/health", "", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("Unexpected health body %v", body)
	}
}

func TestServer_PollLoadsMarkers(t *testing.T) {
	env := newTestEnv(t)

	var st statusResponse
	if code := env.do(t, http.MethodPost, "/api/status/poll", "", &st); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if st.Indicator != "green" {
		t.Errorf("Expected green indicator for a 2 minute old update, got %s (%s)", st.Indicator, st.Error)
	}

	var m mapResponse
	env.do(t, http.MethodGet, "/api/map", "", &m)
	if len(m.Markers) != 2 {
		t.Fatalf("Expected 2 markers (one record has no coordinates), got %d", len(m.Markers))
	}
	if m.View.Zoom != 6 {
		t.Errorf("Expected zoom from saved settings, got %d", m.View.Zoom)
	}

	snapshot, _ := state.Snapshot(context.Background(), env.store)
	if snapshot.Freshness == nil || !snapshot.Freshness.Fresh {
		t.Errorf("Expected fresh state to be recorded, got %+v", snapshot.Freshness)
	}
}

func TestServer_StatusBeforeFirstPoll(t *testing.T) {
	env := newTestEnv(t)

	var st statusResponse
	env.do(t, http.MethodGet, "/api/status", "", &st)
	if st.Available || st.Indicator != "red" {
		t.Errorf("Expected unavailable red status, got %+v", st)
	}
}

func TestServer_SelectionFlow(t *testing.T) {
	env := newTestEnv(t)

	var preview selection.Preview
	code := env.do(t, http.MethodPost, "/api/selection/conditions", `{"condition": "windy", "enabled": true}`, &preview)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	env.do(t, http.MethodPost, "/api/selection/manual", `{"text": "ksea, kpdx"}`, &preview)
	if preview.Total != 2 {
		t.Errorf("Expected 2 airports after dedupe, got %d (%v)", preview.Total, preview.Codes)
	}

	var applied applyResponse
	if code := env.do(t, http.MethodPost, "/api/selection/apply", "", &applied); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if applied.Result == nil || applied.Result.Reset {
		t.Fatalf("Expected a non-reset result, got %+v", applied.Result)
	}

	env.device.mu.Lock()
	defer env.device.mu.Unlock()
	if len(env.device.applied) != 1 {
		t.Fatalf("Expected one apply request, got %d", len(env.device.applied))
	}
	if got := env.device.applied[0].Filters; len(got) != 1 || got[0] != "windy" {
		t.Errorf("Expected windy filter, got %v", got)
	}
}

func TestServer_PollKeepsAppliedSelection(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/status/poll", "", nil)

	env.do(t, http.MethodPost, "/api/selection/manual", `{"text": "KPDX"}`, nil)
	if code := env.do(t, http.MethodPost, "/api/selection/apply", "", nil); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/status/poll", "", nil); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}

	var m mapResponse
	env.do(t, http.MethodGet, "/api/map", "", &m)
	var visible []string
	for _, marker := range m.Markers {
		if marker.Visible {
			visible = append(visible, marker.Code)
		}
	}
	if len(m.Markers) != 2 || len(visible) != 1 || visible[0] != "KPDX" {
		t.Errorf("Expected only KPDX visible after the next poll, got %v of %d markers", visible, len(m.Markers))
	}
}

func TestServer_ApplyRejectsInvalidCodes(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/selection/manual", `{"text": "KSEA ABCD"}`, nil)

	var body map[string]string
	code := env.do(t, http.MethodPost, "/api/selection/apply", "", &body)
	if code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", code)
	}
	if !strings.Contains(body["error"], "ABCD") {
		t.Errorf("Expected invalid code in message, got %s", body["error"])
	}

	env.device.mu.Lock()
	defer env.device.mu.Unlock()
	if len(env.device.applied) != 0 {
		t.Error("Nothing should reach the backend when a code is invalid")
	}
}

func TestServer_ApplyBackendFailure(t *testing.T) {
	env := newTestEnv(t)
	env.device.failApply = true

	env.do(t, http.MethodPost, "/api/selection/manual", `{"text": "KSEA"}`, nil)

	var body map[string]string
	if code := env.do(t, http.MethodPost, "/api/selection/apply", "", &body); code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", code)
	}
	if !strings.Contains(body["error"], "LED strip busy") {
		t.Errorf("Expected backend message, got %s", body["error"])
	}
}

func TestServer_UnknownCondition(t *testing.T) {
	env := newTestEnv(t)

	if code := env.do(t, http.MethodPost, "/api/selection/conditions", `{"condition": "foggy", "enabled": true}`, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", code)
	}
}

func TestServer_KioskResetAndCountdown(t *testing.T) {
	env := newTestEnv(t)

	if code := env.do(t, http.MethodPost, "/api/kiosk/reset", "", nil); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}

	var cd countdownResponse
	env.do(t, http.MethodGet, "/api/kiosk/countdown", "", &cd)
	if !cd.Running || cd.Display != "1:00" {
		t.Errorf("Expected a full running countdown, got %+v", cd)
	}
	if cd.Message == nil || cd.Message.Kind != kiosk.MessageSuccess {
		t.Errorf("Expected success message, got %+v", cd.Message)
	}

	var recent []*protocol.Event
	env.do(t, http.MethodGet, "/api/events?type=kiosk_reset", "", &recent)
	if len(recent) != 1 {
		t.Errorf("Expected one kiosk_reset event, got %d", len(recent))
	}
}

func TestServer_SaveMapView(t *testing.T) {
	env := newTestEnv(t)

	var view mapview.View
	code := env.do(t, http.MethodPost, "/api/map/view", `{"center": {"lat": 40.1, "lon": -105.2}, "zoom": 8, "save": true}`, &view)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if view.Zoom != 8 {
		t.Errorf("Expected zoom 8, got %d", view.Zoom)
	}

	env.device.mu.Lock()
	saved := env.device.savedView
	env.device.mu.Unlock()
	if saved == nil || saved.Zoom != 8 || saved.Center[0] != 40.1 {
		t.Errorf("Expected view saved on the device, got %+v", saved)
	}

	if code := env.do(t, http.MethodPost, "/api/map/view", `{"center": {"lat": 95, "lon": 0}, "zoom": 8}`, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for latitude out of range, got %d", code)
	}
}

func TestServer_AdminProxy(t *testing.T) {
	env := newTestEnv(t)

	var st protocol.ServiceStatus
	if code := env.do(t, http.MethodGet, "/api/admin/services/metar/status", "", &st); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if st.Status != "active" {
		t.Errorf("Expected active, got %s", st.Status)
	}

	if code := env.do(t, http.MethodGet, "/api/admin/services/sshd/status", "", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown service, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/admin/services/metar/control/reload", "", nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown action, got %d", code)
	}

	code := env.do(t, http.MethodPost, "/api/admin/leds/test", `{"color": "#FF8000", "color_order": "GRB", "start_pixel": 5, "end_pixel": 2}`, nil)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 for reversed pixel range, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/admin/leds/test", `{"color": "red"}`, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a color that is not hex, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/admin/timezone", `{"timezone": " "}`, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty timezone, got %d", code)
	}
}

func TestServer_LEDAutoTest(t *testing.T) {
	env := newTestEnv(t)
	legend := config.DefaultLegend()

	if code := env.do(t, http.MethodPost, "/api/admin/leds/auto-test/next", "", nil); code != http.StatusConflict {
		t.Errorf("Expected 409 before start, got %d", code)
	}

	var st LEDTestState
	if code := env.do(t, http.MethodPost, "/api/admin/leds/auto-test/start", "", &st); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !st.Running || st.Current == nil || st.Current.Name != "Red" || !st.StoppedWeather {
		t.Fatalf("Expected running test on Red with weather stopped, got %+v", st)
	}

	for i := 0; i < 9; i++ {
		env.do(t, http.MethodPost, "/api/admin/leds/auto-test/next", "", &st)
	}
	if st.Current == nil || st.Current.Name != "Snow" || st.Current.Color != legend.Snowy {
		t.Errorf("Expected Snow as the last step, got %+v", st.Current)
	}
	env.do(t, http.MethodPost, "/api/admin/leds/auto-test/next", "", &st)
	if st.Current == nil || st.Current.Name != "Red" {
		t.Errorf("Expected cycle to wrap to Red, got %+v", st.Current)
	}

	if code := env.do(t, http.MethodPost, "/api/admin/leds/auto-test/stop", "", &st); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if st.Running || st.Current != nil {
		t.Errorf("Expected stopped test, got %+v", st)
	}

	env.device.mu.Lock()
	defer env.device.mu.Unlock()
	if len(env.device.controls) != 1 || env.device.controls[0] != "metar/stop" {
		t.Errorf("Expected the metar service stopped once, got %v", env.device.controls)
	}
	wantCalls := []string{"/led-test-service/start", "/led-test-service/stop", "/turn-off-leds"}
	if strings.Join(env.device.ledCalls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("Expected %v, got %v", wantCalls, env.device.ledCalls)
	}
	if len(env.device.ledColors) != 11 || env.device.ledColors[8] != legend.Lightning {
		t.Errorf("Expected 11 colors with lightning ninth, got %v", env.device.ledColors)
	}
}

func TestServer_LogTailRoutes(t *testing.T) {
	env := newTestEnv(t)

	if code := env.do(t, http.MethodPost, "/api/admin/services/metar/logs/tail", "", nil); code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", code)
	}
	time.Sleep(100 * time.Millisecond)

	var tailed TailedLogs
	env.do(t, http.MethodGet, "/api/admin/services/metar/logs", "", &tailed)
	if !tailed.Active || tailed.Logs != "metar updated" {
		t.Errorf("Expected active tail with logs, got %+v", tailed)
	}

	env.do(t, http.MethodDelete, "/api/admin/services/metar/logs/tail", "", nil)
	if env.scheduler.Pending(tailTaskID("metar")) {
		t.Error("Expected tail task cancelled")
	}
}

type fakeJournal struct {
	selections map[string]*database.AppliedSelection
}

func (f *fakeJournal) RecentEvents(ctx context.Context, limit int, eventType string) ([]*database.EventRecord, error) {
	return nil, nil
}

func (f *fakeJournal) GetAppliedSelection(ctx context.Context, sessionID string) (*database.AppliedSelection, error) {
	return f.selections[sessionID], nil
}

func TestServer_StateIncludesJournaledSelection(t *testing.T) {
	store := state.NewMemoryStore()
	store.SetSelection(context.Background(), protocol.SelectionPayload{Filters: []string{"major"}, Count: 12})
	journal := &fakeJournal{selections: map[string]*database.AppliedSelection{
		"kiosk-1": {SessionID: "kiosk-1", Filters: []string{"major"}, Codes: []string{"KATL"}, Count: 12},
	}}

	server := httptest.NewServer(NewServer("127.0.0.1:0", Deps{
		SessionID: "kiosk-1",
		Store:     store,
		Journal:   journal,
	}).Routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Selection *protocol.SelectionPayload `json:"selection"`
		Journaled *database.AppliedSelection `json:"journaled_selection"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if body.Selection == nil || body.Selection.Count != 12 {
		t.Errorf("Expected shared selection, got %+v", body.Selection)
	}
	if body.Journaled == nil || len(body.Journaled.Codes) != 1 || body.Journaled.Codes[0] != "KATL" {
		t.Errorf("Expected journaled selection, got %+v", body.Journaled)
	}
}
