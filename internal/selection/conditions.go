package selection

import (
	"fmt"
	"strings"
)

// Condition is one kiosk filter checkbox
type Condition string

const (
	Windy     Condition = "windy"
	Lightning Condition = "lightning"
	Snow      Condition = "snow"
	Major     Condition = "major"
)

// Conditions lists every filter in display order
var Conditions = []Condition{Windy, Lightning, Snow, Major}

// ParseCondition accepts a filter name, case-insensitively
func ParseCondition(s string) (Condition, error) {
	c := Condition(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Conditions {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// Weather reports whether the condition is answered by the backend snapshot
func (c Condition) Weather() bool {
	return c != Major
}

// SnapshotKey is the key of the condition in /kiosk/condition-airports
func (c Condition) SnapshotKey() string {
	if c == Snow {
		return "snowy"
	}
	return string(c)
}
