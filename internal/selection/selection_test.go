package selection

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/smukkama/metarmap-console/internal/events"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/state"
)

func TestValidateManualCodes(t *testing.T) {
	tests := []struct {
		input   string
		valid   []string
		invalid []string
	}{
		{"kAbc, kdef KGHI", []string{"KABC", "KDEF", "KGHI"}, []string{}},
		{"ABCD", []string{}, []string{"ABCD"}},
		{"KAB1 kjfk", []string{"KJFK"}, []string{"KAB1"}},
		{"  ,, ", []string{}, []string{}},
		{"KJFK KJFK", []string{"KJFK", "KJFK"}, []string{}},
		{"KJF KJFKX KSEA", []string{"KSEA"}, []string{}},
		{"KBOS\nKORD\tKDEN", []string{"KBOS", "KORD", "KDEN"}, []string{}},
	}

	for _, tt := range tests {
		got := ValidateManualCodes(tt.input)
		if !reflect.DeepEqual(got.Valid, tt.valid) {
			t.Errorf("ValidateManualCodes(%q).Valid = %v, want %v", tt.input, got.Valid, tt.valid)
		}
		if !reflect.DeepEqual(got.Invalid, tt.invalid) {
			t.Errorf("ValidateManualCodes(%q).Invalid = %v, want %v", tt.input, got.Invalid, tt.invalid)
		}
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Invalid: []string{"ABCD", "K123"}}
	want := "Invalid airport code format: ABCD, K123. Must be K followed by 3 letters."
	if err.Error() != want {
		t.Errorf("Got %q, want %q", err.Error(), want)
	}
}

func TestCondition_SnapshotKey(t *testing.T) {
	if Snow.SnapshotKey() != "snowy" {
		t.Errorf("Expected snowy, got %s", Snow.SnapshotKey())
	}
	if Windy.SnapshotKey() != "windy" {
		t.Errorf("Expected windy, got %s", Windy.SnapshotKey())
	}
	if c, err := ParseCondition(" Lightning "); err != nil || c != Lightning {
		t.Errorf("ParseCondition = %v, %v", c, err)
	}
	if _, err := ParseCondition("foggy"); err == nil {
		t.Error("Expected error for unknown condition")
	}
}

type mockSource struct {
	snapshot  protocol.ConditionAirports
	snapErr   error
	count     int
	applyErr  error
	mu        sync.Mutex
	snapCalls int
	requests  []protocol.ApplyFiltersRequest

	// when set, a snapshot fetch signals fetching and waits for release
	fetching chan struct{}
	release  chan struct{}
}

func (m *mockSource) ConditionAirports(ctx context.Context) (protocol.ConditionAirports, error) {
	if m.release != nil {
		m.fetching <- struct{}{}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapCalls++
	return m.snapshot, m.snapErr
}

func (m *mockSource) ApplyFilters(ctx context.Context, req protocol.ApplyFiltersRequest) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.count, m.applyErr
}

type mockSelector struct {
	visible []string
	resets  int
	updates int
}

func (m *mockSelector) UpdateSelection(codes []string) {
	m.updates++
	m.visible = append([]string(nil), codes...)
}

func (m *mockSelector) ResetMap() {
	m.resets++
	m.visible = nil
}

func snapshot() protocol.ConditionAirports {
	return protocol.ConditionAirports{
		"windy":     {"KORD": json.RawMessage(`{"wind": 30}`), "KBOS": json.RawMessage(`{}`)},
		"lightning": {},
		"snowy":     {"KDEN": json.RawMessage(`{}`)},
	}
}

func newTestEngine(src *mockSource, sel *mockSelector) (*Engine, *events.Buffer, *state.MemoryStore) {
	buf := events.NewBuffer(20)
	store := state.NewMemoryStore()
	return NewEngine(src, sel, buf, store, Options{SessionID: "test"}), buf, store
}

func TestEngine_SlowPreviewDoesNotOverwriteNewerInputs(t *testing.T) {
	src := &mockSource{
		snapshot: snapshot(),
		fetching: make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	e, _, _ := newTestEngine(src, &mockSelector{})
	ctx := context.Background()

	done := make(chan Preview)
	go func() {
		preview, _ := e.SetCondition(ctx, Windy, true)
		done <- preview
	}()
	<-src.fetching

	if _, err := e.SetCondition(ctx, Windy, false); err != nil {
		t.Fatalf("SetCondition failed: %v", err)
	}
	close(src.release)
	stale := <-done

	if len(stale.Codes) == 0 {
		t.Fatal("Expected the slow preview to carry windy airports")
	}
	last := e.LastPreview()
	if last == nil || len(last.Codes) != 0 {
		t.Errorf("Expected the preview for the newer inputs to stay, got %+v", last)
	}

	e.Clear()
	if e.LastPreview() != nil {
		t.Error("Expected no preview after Clear")
	}
}

func TestEngine_PreviewDeduplicates(t *testing.T) {
	src := &mockSource{snapshot: snapshot()}
	e, _, _ := newTestEngine(src, &mockSelector{})
	ctx := context.Background()

	e.SetCondition(ctx, Major, true)
	preview, err := e.SetManual(ctx, "katl, kbos")
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}

	// KATL is both in the preset and entered manually
	if preview.Total != len(e.MajorAirports())+1 {
		t.Errorf("Expected deduplicated total %d, got %d", len(e.MajorAirports())+1, preview.Total)
	}
	if src.snapCalls != 0 {
		t.Error("Major-only preview must not fetch the condition snapshot")
	}
}

func TestEngine_PreviewConditions(t *testing.T) {
	src := &mockSource{snapshot: snapshot()}
	e, _, _ := newTestEngine(src, &mockSelector{})
	ctx := context.Background()

	e.SetCondition(ctx, Windy, true)
	e.SetCondition(ctx, Lightning, true)
	preview, err := e.SetCondition(ctx, Snow, true)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}

	if len(preview.Conditions) != 3 {
		t.Fatalf("Expected 3 condition previews, got %d", len(preview.Conditions))
	}
	windy := preview.Conditions[0]
	if windy.Condition != Windy || windy.Text != "KBOS, KORD" {
		t.Errorf("Unexpected windy preview %+v", windy)
	}
	if preview.Conditions[1].Text != NoneText {
		t.Errorf("Expected None for lightning, got %q", preview.Conditions[1].Text)
	}
	if !reflect.DeepEqual(preview.Conditions[2].Codes, []string{"KDEN"}) {
		t.Errorf("Expected snow to read the snowy key, got %v", preview.Conditions[2].Codes)
	}
	if preview.Total != 3 {
		t.Errorf("Expected total 3, got %d", preview.Total)
	}
	if src.snapCalls != 3 {
		t.Errorf("Expected a fresh snapshot per recompute, got %d fetches", src.snapCalls)
	}
	if len(src.requests) != 0 {
		t.Error("Preview must not apply anything")
	}
}

func TestEngine_PreviewSnapshotFailure(t *testing.T) {
	src := &mockSource{snapErr: errors.New("timeout")}
	e, _, _ := newTestEngine(src, &mockSelector{})
	ctx := context.Background()

	e.SetManual(ctx, "KBOS")
	preview, err := e.SetCondition(ctx, Windy, true)
	if err == nil {
		t.Fatal("Expected snapshot error")
	}
	if preview.Total != 1 || preview.Error == "" {
		t.Errorf("Expected partial preview with error, got %+v", preview)
	}
}

func TestEngine_ApplySuccess(t *testing.T) {
	src := &mockSource{snapshot: snapshot(), count: 4}
	sel := &mockSelector{}
	e, buf, store := newTestEngine(src, sel)
	ctx := context.Background()

	e.SetCondition(ctx, Windy, true)
	e.SetManual(ctx, "kden kbos")

	result, err := e.Apply(ctx)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Count != 4 {
		t.Errorf("Expected server count 4, got %d", result.Count)
	}

	req := src.requests[0]
	if !reflect.DeepEqual(req.Filters, []string{"windy"}) || len(req.MajorAirports) != 0 {
		t.Errorf("Unexpected request %+v", req)
	}
	if !reflect.DeepEqual(req.ManualAirports, []string{"KDEN", "KBOS"}) {
		t.Errorf("Unexpected manual airports %v", req.ManualAirports)
	}
	if !reflect.DeepEqual(sel.visible, []string{"KBOS", "KDEN", "KORD"}) {
		t.Errorf("Expected map to show the union, got %v", sel.visible)
	}

	if saved, _ := store.GetSelection(ctx); saved == nil || saved.Count != 4 {
		t.Errorf("Expected selection saved, got %+v", saved)
	}
	if len(buf.Recent(0, protocol.EventSelectionApplied)) != 1 {
		t.Error("Expected selection_applied event")
	}
	if e.Applied() == nil {
		t.Error("Expected applied selection recorded")
	}
}

func TestEngine_ApplyMajorSendsPreset(t *testing.T) {
	src := &mockSource{count: 12}
	e, _, _ := newTestEngine(src, &mockSelector{})
	ctx := context.Background()

	e.SetCondition(ctx, Major, true)
	if _, err := e.Apply(ctx); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !reflect.DeepEqual(src.requests[0].MajorAirports, e.MajorAirports()) {
		t.Errorf("Expected preset in request, got %v", src.requests[0].MajorAirports)
	}
}

func TestEngine_ApplyInvalidBlocks(t *testing.T) {
	src := &mockSource{count: 1}
	sel := &mockSelector{visible: []string{"KATL"}}
	e, buf, _ := newTestEngine(src, sel)
	ctx := context.Background()

	e.SetManual(ctx, "KBOS ABCD K12X")
	_, err := e.Apply(ctx)

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}
	if !reflect.DeepEqual(vErr.Invalid, []string{"ABCD", "K12X"}) {
		t.Errorf("Expected every offending token, got %v", vErr.Invalid)
	}
	if !strings.Contains(err.Error(), "ABCD, K12X") {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if len(src.requests) != 0 {
		t.Error("Nothing may be sent when validation fails")
	}
	if sel.updates != 0 || !reflect.DeepEqual(sel.visible, []string{"KATL"}) {
		t.Error("Map changed after a rejected selection")
	}
	if len(buf.Recent(0, protocol.EventSelectionRejected)) != 1 {
		t.Error("Expected selection_rejected event")
	}
}

func TestEngine_ApplyNetworkFailureLeavesMap(t *testing.T) {
	src := &mockSource{snapshot: snapshot(), applyErr: errors.New("connection reset")}
	sel := &mockSelector{visible: []string{"KATL", "KORD"}}
	e, _, store := newTestEngine(src, sel)
	ctx := context.Background()

	e.SetCondition(ctx, Windy, true)
	if _, err := e.Apply(ctx); err == nil {
		t.Fatal("Expected apply error")
	}

	if sel.updates != 0 || sel.resets != 0 {
		t.Error("Map changed after a failed apply")
	}
	if !reflect.DeepEqual(sel.visible, []string{"KATL", "KORD"}) {
		t.Errorf("Visible markers changed: %v", sel.visible)
	}
	if saved, _ := store.GetSelection(ctx); saved != nil {
		t.Error("Failed apply must not be saved")
	}
}

func TestEngine_ApplySnapshotFailureSendsNothing(t *testing.T) {
	src := &mockSource{snapErr: errors.New("timeout")}
	sel := &mockSelector{}
	e, _, _ := newTestEngine(src, sel)
	ctx := context.Background()

	e.SetCondition(ctx, Lightning, true)
	if _, err := e.Apply(ctx); err == nil {
		t.Fatal("Expected error")
	}
	if len(src.requests) != 0 || sel.updates != 0 {
		t.Error("Nothing may be applied without the condition snapshot")
	}
}

func TestEngine_ApplyEmptyResets(t *testing.T) {
	src := &mockSource{count: 0}
	sel := &mockSelector{visible: []string{"KATL"}}
	e, _, _ := newTestEngine(src, sel)

	result, err := e.Apply(context.Background())
	if err != nil {
		t.Fatalf("Empty selection must be accepted: %v", err)
	}
	if !result.Reset || sel.resets != 1 {
		t.Error("Expected empty selection to reset the map")
	}
	if len(src.requests) != 1 {
		t.Error("Expected empty selection to still reach the backend")
	}
	if e.Applied() != nil {
		t.Error("Reset selection must not be recorded as applied")
	}
}

func TestEngine_Clear(t *testing.T) {
	src := &mockSource{snapshot: snapshot()}
	e, _, _ := newTestEngine(src, &mockSelector{})
	ctx := context.Background()

	e.SetCondition(ctx, Windy, true)
	e.SetManual(ctx, "KBOS")
	e.Clear()

	in := e.Inputs()
	if len(in.Conditions) != 0 || in.Manual != "" {
		t.Errorf("Expected cleared inputs, got %+v", in)
	}
	if e.LastPreview() != nil {
		t.Error("Expected preview cleared")
	}
}
