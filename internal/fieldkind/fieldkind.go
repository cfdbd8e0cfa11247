// Package fieldkind maps the free-text column type labels reported by a
// backend onto the small, closed set of input widgets the explorer renders.
package fieldkind

import "strings"

type Kind int

const (
	Text Kind = iota
	Checkbox
	Number
	Datetime
	Multiline
)

var names = map[Kind]string{
	Text:      "text",
	Checkbox:  "checkbox",
	Number:    "number",
	Datetime:  "datetime",
	Multiline: "multiline-text",
}

func (k Kind) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return "text"
}

// Default is the value an untouched field of this kind holds.
func (k Kind) Default() any {
	if k == Checkbox {
		return false
	}
	return ""
}

var numericMarkers = []string{"int", "num", "decimal", "double", "float"}

// Classify picks the widget for a type label. Rules are checked in a fixed
// order: boolean, numeric, date/time, long text, then plain text.
func Classify(label string) Kind {
	lower := strings.ToLower(label)

	switch {
	case strings.Contains(lower, "bool"):
		return Checkbox
	case containsAny(lower, numericMarkers):
		return Number
	case strings.Contains(lower, "date") || strings.Contains(lower, "time"):
		return Datetime
	case strings.Contains(lower, "text") && !strings.Contains(lower, "varchar"):
		return Multiline
	default:
		return Text
	}
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
