package mapview

import (
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/pkg/config"
)

// ColorConfig maps each flight category to a display color. Lightning and
// Snowy are legend-only; markers never take them.
type ColorConfig struct {
	VFR       string `json:"vfr"`
	MVFR      string `json:"mvfr"`
	IFR       string `json:"ifr"`
	LIFR      string `json:"lifr"`
	Missing   string `json:"missing"`
	Lightning string `json:"lightning"`
	Snowy     string `json:"snowy"`
}

// ColorsFromLegend takes the display colors out of the legend file
func ColorsFromLegend(l config.Legend) ColorConfig {
	return ColorConfig{
		VFR:       l.VFR,
		MVFR:      l.MVFR,
		IFR:       l.IFR,
		LIFR:      l.LIFR,
		Missing:   l.Missing,
		Lightning: l.Lightning,
		Snowy:     l.Snowy,
	}
}

// ColorFor is case-insensitive; empty or unknown categories get the missing color
func (c ColorConfig) ColorFor(category string) string {
	switch protocol.NormalizeCategory(category) {
	case protocol.CategoryVFR:
		return c.VFR
	case protocol.CategoryMVFR:
		return c.MVFR
	case protocol.CategoryIFR:
		return c.IFR
	case protocol.CategoryLIFR:
		return c.LIFR
	default:
		return c.Missing
	}
}
