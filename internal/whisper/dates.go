package whisper

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the memoir date label format, "DD MMM YYYY" (e.g. "07 Mar 2024").
const DateLayout = "02 Jan 2006"

// lenient layouts accepted from the generator, normalized to DateLayout.
var dateLayouts = []string{
	DateLayout,
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01-02",
}

// FormatDate renders t as a memoir date label.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NormalizeDate parses a generator-supplied date label and re-renders it as
// DateLayout. A blank label becomes today's date.
func NormalizeDate(label string, now time.Time) (string, error) {
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return FormatDate(now), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, label); err == nil {
			return FormatDate(t), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q (want DD MMM YYYY)", label)
}
