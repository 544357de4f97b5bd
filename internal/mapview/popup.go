package mapview

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/smukkama/metarmap-console/internal/protocol"
)

const popupTemplate = `<div class="airport-popup">
<strong>{{.Code}}</strong>
<div class="site">{{.Site}}</div>
<div class="category" style="color: {{.Color}}">{{.Category}}</div>
<div class="metar">{{.Raw}}</div>
</div>`

var popupTmpl = template.Must(template.New("popup").Parse(popupTemplate))

type popupData struct {
	Code     string
	Site     string
	Category protocol.FlightCategory
	Color    template.CSS
	Raw      string
}

// RenderPopup renders the marker popup for one airport. Site and raw METAR
// fall back to placeholders when the record leaves them blank.
func RenderPopup(code string, record protocol.AirportRecord, color string) (string, error) {
	data := popupData{
		Code:     code,
		Site:     strings.TrimSpace(record.Site),
		Category: protocol.NormalizeCategory(record.FlightCategory),
		Color:    template.CSS(color),
		Raw:      strings.TrimSpace(record.RawObservation),
	}
	if data.Site == "" {
		data.Site = "Unknown location"
	}
	if data.Raw == "" {
		data.Raw = "Not available"
	}

	var buf bytes.Buffer
	if err := popupTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
