package protocol

import (
	"encoding/json"
	"sort"
	"testing"
)

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		in   string
		want FlightCategory
	}{
		{"VFR", CategoryVFR},
		{"mvfr", CategoryMVFR},
		{" Ifr ", CategoryIFR},
		{"LIFR", CategoryLIFR},
		{"", CategoryMissing},
		{"SVFR", CategoryMissing},
	}

	for _, tt := range tests {
		if got := NormalizeCategory(tt.in); got != tt.want {
			t.Errorf("NormalizeCategory(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWeatherData_Decode(t *testing.T) {
	raw := `{"KSEA": {"latitude": 47.45, "longitude": -122.31, "flt_cat": "VFR"}, "KXXX": {"flt_cat": null}}`

	var data WeatherData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !data["KSEA"].HasCoordinates() {
		t.Error("Expected KSEA to have coordinates")
	}
	if data["KXXX"].HasCoordinates() {
		t.Error("Expected KXXX without coordinates")
	}
}

func TestResult_OK(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`{"success": true}`, true},
		{`{"status": "success"}`, true},
		{`{"success": false, "error": "busy"}`, false},
		{`{"status": "error"}`, false},
	}

	for _, tt := range tests {
		var r Result
		if err := json.Unmarshal([]byte(tt.raw), &r); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if r.OK() != tt.want {
			t.Errorf("%s: OK() = %v, want %v", tt.raw, r.OK(), tt.want)
		}
	}
}

func TestConditionAirports_Codes(t *testing.T) {
	var c ConditionAirports
	raw := `{"windy": {"KPDX": {"wind_speed": 30}, "KSEA": {}}, "snowy": {}}`
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	codes := c.Codes("windy")
	sort.Strings(codes)
	if len(codes) != 2 || codes[0] != "KPDX" || codes[1] != "KSEA" {
		t.Errorf("Unexpected windy codes %v", codes)
	}
	if len(c.Codes("snowy")) != 0 || len(c.Codes("lightning")) != 0 {
		t.Error("Expected empty and absent keys to yield no codes")
	}
}

func TestMapSettings_CenterPoint(t *testing.T) {
	if _, ok := (MapSettings{Center: []float64{1}}).CenterPoint(); ok {
		t.Error("Expected a one-element center to be rejected")
	}
	p, ok := (MapSettings{Center: []float64{47, -122}}).CenterPoint()
	if !ok || p.Lat != 47 || p.Lon != -122 {
		t.Errorf("Unexpected center %+v", p)
	}
}

func TestLEDTestRequest_Validate(t *testing.T) {
	intp := func(i int) *int { return &i }

	tests := []struct {
		name    string
		req     LEDTestRequest
		wantErr bool
	}{
		{"whole strip", LEDTestRequest{Color: "#ff0000"}, false},
		{"range", LEDTestRequest{Color: "#ff0000", StartPixel: intp(2), EndPixel: intp(5)}, false},
		{"no color", LEDTestRequest{}, true},
		{"negative start", LEDTestRequest{Color: "#ff0000", StartPixel: intp(-1)}, true},
		{"reversed", LEDTestRequest{Color: "#ff0000", StartPixel: intp(5), EndPixel: intp(2)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvent_EncodeDecode(t *testing.T) {
	event, err := NewEvent("kiosk-1", EventSelectionApplied, SelectionPayload{Filters: []string{"windy"}, Count: 3})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if event.ID == "" || event.At.IsZero() {
		t.Error("Expected event to be stamped")
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	var payload SelectionPayload
	if err := json.Unmarshal(decoded.Payload, &payload); err != nil {
		t.Fatalf("Payload unmarshal failed: %v", err)
	}
	if decoded.Type != EventSelectionApplied || payload.Count != 3 {
		t.Errorf("Unexpected decoded event %+v / %+v", decoded, payload)
	}

	if _, err := DecodeEvent([]byte("{")); err == nil {
		t.Error("Expected error for truncated JSON")
	}
}
