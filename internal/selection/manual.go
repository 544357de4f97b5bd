package selection

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	separators = regexp.MustCompile(`[\s,]+`)
	codeFormat = regexp.MustCompile(`^K[A-Z]{3}$`)
)

// ManualCodes is the result of validating the free-text airport field
type ManualCodes struct {
	Valid   []string `json:"valid"`
	Invalid []string `json:"invalid"`
}

// ValidateManualCodes splits text on whitespace and commas, uppercases each
// token and keeps only 4-character tokens. Those are then partitioned by the
// K + 3 letters format. Order and duplicates are preserved.
func ValidateManualCodes(text string) ManualCodes {
	result := ManualCodes{Valid: []string{}, Invalid: []string{}}

	for _, token := range separators.Split(strings.ToUpper(text), -1) {
		if utf8.RuneCountInString(token) != 4 {
			continue
		}
		if codeFormat.MatchString(token) {
			result.Valid = append(result.Valid, token)
		} else {
			result.Invalid = append(result.Invalid, token)
		}
	}
	return result
}

// ValidationError blocks an apply; it lists every offending token
type ValidationError struct {
	Invalid []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Invalid airport code format: %s. Must be K followed by 3 letters.", strings.Join(e.Invalid, ", "))
}
