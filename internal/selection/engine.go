package selection

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/smukkama/metarmap-console/internal/events"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/state"
	"github.com/smukkama/metarmap-console/pkg/config"
)

// NoneText is shown for an active condition that matches no airport
const NoneText = "None"

// Source is the slice of the backend the engine talks to
type Source interface {
	ConditionAirports(ctx context.Context) (protocol.ConditionAirports, error)
	ApplyFilters(ctx context.Context, req protocol.ApplyFiltersRequest) (int, error)
}

// Selector is the part of the map an applied selection drives
type Selector interface {
	UpdateSelection(codes []string)
	ResetMap()
}

// Inputs are the current checkbox and text field values
type Inputs struct {
	Conditions []Condition `json:"conditions"`
	Manual     string      `json:"manual"`
}

// ConditionPreview lists the airports one active condition would light
type ConditionPreview struct {
	Condition Condition `json:"condition"`
	Codes     []string  `json:"codes"`
	Text      string    `json:"text"`
}

// Preview is what the current inputs would select. Computing it never
// changes anything on the backend.
type Preview struct {
	Conditions []ConditionPreview `json:"conditions"`
	Major      []string           `json:"major"`
	Manual     []string           `json:"manual"`
	Invalid    []string           `json:"invalid,omitempty"`
	Codes      []string           `json:"codes"`
	Total      int                `json:"total"`
	Error      string             `json:"error,omitempty"`
}

// ApplyResult is a selection the backend accepted
type ApplyResult struct {
	Filters []string `json:"filters"`
	Codes   []string `json:"codes"`
	Count   int      `json:"count"`
	Reset   bool     `json:"reset"`
}

// Options configures an Engine
type Options struct {
	MajorAirports []string
	SessionID     string
}

// Engine combines the filter checkboxes, the major preset and manual codes
// into one airport selection
type Engine struct {
	source    Source
	selector  Selector
	publisher events.Publisher
	store     state.Store
	major     []string
	sessionID string

	mu         sync.Mutex
	conditions map[Condition]bool
	manual     string
	preview    *Preview
	applied    *ApplyResult
	// inputGen advances on every input change; a preview built for an
	// older generation is not stored
	inputGen uint64

	// serializes Apply so two submissions never race on the map
	applyMu sync.Mutex
}

// NewEngine creates an engine. publisher and store may be nil.
func NewEngine(source Source, selector Selector, publisher events.Publisher, store state.Store, opts Options) *Engine {
	major := opts.MajorAirports
	if len(major) == 0 {
		major = config.DefaultMajorAirports
	}
	return &Engine{
		source:     source,
		selector:   selector,
		publisher:  publisher,
		store:      store,
		major:      append([]string(nil), major...),
		sessionID:  opts.SessionID,
		conditions: make(map[Condition]bool),
	}
}

// MajorAirports returns the preset applied by the major filter
func (e *Engine) MajorAirports() []string {
	return append([]string(nil), e.major...)
}

// Inputs returns the current inputs
func (e *Engine) Inputs() Inputs {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputsLocked()
}

func (e *Engine) inputsLocked() Inputs {
	in := Inputs{Conditions: []Condition{}, Manual: e.manual}
	for _, c := range Conditions {
		if e.conditions[c] {
			in.Conditions = append(in.Conditions, c)
		}
	}
	return in
}

// SetCondition toggles one filter and recomputes the preview
func (e *Engine) SetCondition(ctx context.Context, c Condition, on bool) (Preview, error) {
	e.mu.Lock()
	if on {
		e.conditions[c] = true
	} else {
		delete(e.conditions, c)
	}
	e.inputGen++
	e.mu.Unlock()

	return e.ComputePreview(ctx)
}

// SetManual replaces the manual code text and recomputes the preview
func (e *Engine) SetManual(ctx context.Context, text string) (Preview, error) {
	e.mu.Lock()
	e.manual = text
	e.inputGen++
	e.mu.Unlock()

	return e.ComputePreview(ctx)
}

// ComputePreview builds the preview for the current inputs. The condition
// snapshot is fetched fresh whenever a weather condition is active; if that
// fetch fails the preview still carries the major and manual lists. The
// preview is only kept as LastPreview if the inputs did not change while it
// was being built.
func (e *Engine) ComputePreview(ctx context.Context) (Preview, error) {
	e.mu.Lock()
	in := e.inputsLocked()
	gen := e.inputGen
	e.mu.Unlock()

	preview, err := e.build(ctx, in)

	e.mu.Lock()
	if e.inputGen == gen {
		e.preview = &preview
	}
	e.mu.Unlock()

	return preview, err
}

func (e *Engine) build(ctx context.Context, in Inputs) (Preview, error) {
	manual := ValidateManualCodes(in.Manual)
	preview := Preview{
		Conditions: []ConditionPreview{},
		Major:      []string{},
		Manual:     manual.Valid,
		Invalid:    manual.Invalid,
	}

	var snapshot protocol.ConditionAirports
	var fetchErr error
	for _, c := range in.Conditions {
		if c.Weather() {
			snapshot, fetchErr = e.source.ConditionAirports(ctx)
			break
		}
	}
	if fetchErr != nil {
		log.Printf("Error fetching condition airports: %v", fetchErr)
		fetchErr = fmt.Errorf("failed to fetch condition airports: %w", fetchErr)
		preview.Error = fetchErr.Error()
	}

	union := make(map[string]bool)
	for _, c := range in.Conditions {
		if !c.Weather() {
			preview.Major = append(preview.Major, e.major...)
			continue
		}
		if fetchErr != nil {
			continue
		}

		codes := snapshot.Codes(c.SnapshotKey())
		sort.Strings(codes)
		preview.Conditions = append(preview.Conditions, ConditionPreview{
			Condition: c,
			Codes:     codes,
			Text:      ListText(codes),
		})
		for _, code := range codes {
			union[code] = true
		}
	}

	for _, code := range preview.Major {
		union[code] = true
	}
	for _, code := range preview.Manual {
		union[code] = true
	}

	preview.Codes = make([]string, 0, len(union))
	for code := range union {
		preview.Codes = append(preview.Codes, code)
	}
	sort.Strings(preview.Codes)
	preview.Total = len(preview.Codes)

	return preview, fetchErr
}

// ListText renders a code list for a preview panel
func ListText(codes []string) string {
	if len(codes) == 0 {
		return NoneText
	}
	return strings.Join(codes, ", ")
}

// LastPreview returns the most recent preview, or nil after Clear
func (e *Engine) LastPreview() *Preview {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.preview == nil {
		return nil
	}
	cp := *e.preview
	return &cp
}

// Applied returns the selection currently on the map, or nil when unfiltered
func (e *Engine) Applied() *ApplyResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applied == nil {
		return nil
	}
	cp := *e.applied
	return &cp
}

// Apply submits the current inputs. Any invalid manual code rejects the whole
// selection with a *ValidationError before anything is sent. The map only
// changes after the backend confirms; an empty selection resets it.
func (e *Engine) Apply(ctx context.Context) (*ApplyResult, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	in := e.Inputs()
	filters := make([]string, len(in.Conditions))
	for i, c := range in.Conditions {
		filters[i] = string(c)
	}

	manual := ValidateManualCodes(in.Manual)
	if len(manual.Invalid) > 0 {
		err := &ValidationError{Invalid: manual.Invalid}
		e.reject(ctx, filters, manual.Invalid, err)
		return nil, err
	}

	preview, err := e.build(ctx, in)
	if err != nil {
		e.reject(ctx, filters, nil, err)
		return nil, err
	}

	req := protocol.ApplyFiltersRequest{
		Filters:        filters,
		MajorAirports:  []string{},
		ManualAirports: manual.Valid,
	}
	for _, c := range in.Conditions {
		if c == Major {
			req.MajorAirports = e.MajorAirports()
		}
	}

	count, err := e.source.ApplyFilters(ctx, req)
	if err != nil {
		err = fmt.Errorf("failed to apply filters: %w", err)
		e.reject(ctx, filters, nil, err)
		return nil, err
	}

	result := &ApplyResult{Filters: filters, Codes: preview.Codes, Count: count}
	if len(filters) == 0 && len(manual.Valid) == 0 {
		result.Reset = true
		e.selector.ResetMap()
	} else {
		e.selector.UpdateSelection(preview.Codes)
	}

	e.mu.Lock()
	if result.Reset {
		e.applied = nil
	} else {
		cp := *result
		e.applied = &cp
	}
	e.mu.Unlock()

	payload := protocol.SelectionPayload{Filters: filters, Codes: result.Codes, Count: count}
	if e.store != nil {
		var storeErr error
		if result.Reset {
			storeErr = e.store.ClearSelection(ctx)
		} else {
			storeErr = e.store.SetSelection(ctx, payload)
		}
		if storeErr != nil {
			log.Printf("Failed to save applied selection: %v", storeErr)
		}
	}
	events.Emit(ctx, e.publisher, e.sessionID, protocol.EventSelectionApplied, payload)

	log.Printf("Filters applied: %v, %d airports", filters, count)
	return result, nil
}

func (e *Engine) reject(ctx context.Context, filters, invalid []string, err error) {
	log.Printf("Selection rejected: %v", err)
	events.Emit(ctx, e.publisher, e.sessionID, protocol.EventSelectionRejected, protocol.SelectionPayload{
		Filters: filters,
		Invalid: invalid,
		Error:   err.Error(),
	})
}

// Clear empties every input and the preview. The map is left alone.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conditions = make(map[Condition]bool)
	e.manual = ""
	e.preview = nil
	e.inputGen++
}

// Forget drops the record of the applied selection after a reset
func (e *Engine) Forget(ctx context.Context) {
	e.mu.Lock()
	e.applied = nil
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.ClearSelection(ctx); err != nil {
			log.Printf("Failed to clear shared selection: %v", err)
		}
	}
}
