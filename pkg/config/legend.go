package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Legend holds the display colors rendered next to the map and the
// "major airports" preset used by the kiosk filters.
type Legend struct {
	VFR       string   `yaml:"vfr"`
	MVFR      string   `yaml:"mvfr"`
	IFR       string   `yaml:"ifr"`
	LIFR      string   `yaml:"lifr"`
	Missing   string   `yaml:"missing"`
	Lightning string   `yaml:"lightning"`
	Snowy     string   `yaml:"snowy"`
	Major     []string `yaml:"major_airports"`
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// DefaultMajorAirports is the preset applied by the "major" filter.
var DefaultMajorAirports = []string{
	"KATL", "KLAX", "KDFW", "KORD", "KDEN",
	"KJFK", "KSFO", "KLAS", "KMIA", "KPHX",
	"KLGA", "KSEA",
}

// DefaultLegend mirrors the colors the LED map ships with.
func DefaultLegend() Legend {
	major := make([]string, len(DefaultMajorAirports))
	copy(major, DefaultMajorAirports)

	return Legend{
		VFR:       "#00ff00",
		MVFR:      "#0000ff",
		IFR:       "#ff0000",
		LIFR:      "#ff00ff",
		Missing:   "#ffa500",
		Lightning: "#ffffff",
		Snowy:     "#87ceeb",
		Major:     major,
	}
}

// LoadLegend reads a YAML legend file over the defaults. A missing file is
// not an error; the defaults are returned unchanged.
func LoadLegend(path string) (Legend, error) {
	legend := DefaultLegend()
	if path == "" {
		return legend, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return legend, nil
	}
	if err != nil {
		return legend, fmt.Errorf("failed to read legend file: %w", err)
	}

	if err := yaml.Unmarshal(data, &legend); err != nil {
		return legend, fmt.Errorf("failed to parse legend file %s: %w", path, err)
	}

	for i, code := range legend.Major {
		legend.Major[i] = strings.ToUpper(strings.TrimSpace(code))
	}

	if err := legend.Validate(); err != nil {
		return DefaultLegend(), fmt.Errorf("invalid legend file %s: %w", path, err)
	}
	return legend, nil
}

// Validate requires every color to be #rrggbb; they are rendered unescaped
// into marker popups
func (l Legend) Validate() error {
	colors := []struct{ name, value string }{
		{"vfr", l.VFR},
		{"mvfr", l.MVFR},
		{"ifr", l.IFR},
		{"lifr", l.LIFR},
		{"missing", l.Missing},
		{"lightning", l.Lightning},
		{"snowy", l.Snowy},
	}
	for _, c := range colors {
		if !hexColor.MatchString(c.value) {
			return fmt.Errorf("%s color %q is not #rrggbb", c.name, c.value)
		}
	}
	return nil
}

// Save writes the legend back as YAML
func (l Legend) Save(path string) error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
