// Package normalize turns loosely keyed spreadsheet rows into typed records.
//
// Rows arrive with inconsistent keys ("Fecha", " fecha ", "requestDate",
// "request_date") and values that may be strings, numbers, booleans or
// nested objects. Every key is folded (trimmed, lower-cased, diacritics
// stripped) and each target field probes an ordered alias list, taking the
// first present non-nil value. Coercion never fails: missing or malformed
// values degrade to zero values.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RawRecord is one untyped row as delivered by a store.
type RawRecord map[string]any

// AliasTable maps a target field to the keys that may carry it, in probe order.
type AliasTable map[string][]string

// FoldKey trims, lower-cases and strips diacritics so "Observación " and
// "observacion" compare equal.
func FoldKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, k)
	if err != nil {
		return k
	}
	return folded
}

// view is a RawRecord re-keyed by folded key. Earlier writers win.
type view map[string]any

func newView(rec RawRecord) view {
	v := make(view, len(rec))
	v.merge(rec)
	return v
}

func (v view) merge(rec map[string]any) {
	for k, val := range rec {
		fk := FoldKey(k)
		if _, exists := v[fk]; !exists {
			v[fk] = val
		}
	}
}

// probe returns the first present non-nil value among aliases.
func (v view) probe(aliases []string) (any, bool) {
	for _, a := range aliases {
		if val, ok := v[FoldKey(a)]; ok && val != nil {
			return val, true
		}
	}
	return nil, false
}

func (v view) str(aliases []string) string {
	val, _ := v.probe(aliases)
	return String(val)
}

// -- Coercion --

// String renders v as trimmed text. Integral floats print without a decimal
// point so numeric DNIs survive a spreadsheet round trip.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		if b, err := json.Marshal(x); err == nil {
			return string(b)
		}
		return ""
	}
}

// Float parses v as a number, 0 when it is not one.
func Float(v any) float64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	return 0
}

// Int truncates Float(v).
func Int(v any) int {
	return int(Float(v))
}

// Bool is true only for a native true or the case-insensitive text "true".
func Bool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(strings.TrimSpace(x), "true")
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	time.RFC1123Z,
	time.RFC1123,
}

// Time parses v as an instant. Naive layouts are read as UTC; numbers are
// spreadsheet serial dates.
func Time(v any) (time.Time, bool) {
	return TimeIn(v, time.UTC)
}

// TimeIn is Time with naive layouts and serial dates read as wall-clock
// time in loc. Layouts carrying a zone or offset keep it.
func TimeIn(v any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case float64, int, int64, json.Number:
		f := Float(x)
		if f <= 0 {
			return time.Time{}, false
		}
		return serialToTime(f, loc), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		// JavaScript Date#toString appends a zone name in parentheses.
		if i := strings.Index(s, " ("); i > 0 {
			s = s[:i]
		}
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// TimePtr is Time returning nil for absent or unparseable values.
func TimePtr(v any) *time.Time {
	return TimePtrIn(v, time.UTC)
}

// TimePtrIn is TimeIn returning nil for absent or unparseable values.
func TimePtrIn(v any, loc *time.Location) *time.Time {
	t, ok := TimeIn(v, loc)
	if !ok {
		return nil
	}
	return &t
}

func serialToTime(f float64, loc *time.Location) time.Time {
	days := math.Floor(f)
	secs := int(math.Round((f - days) * 86400))
	return time.Date(1899, 12, 30+int(days), 0, 0, secs, 0, loc)
}

var (
	datePrefixRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
	clockRe      = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// DateString returns v as YYYY-MM-DD in UTC. Values that do not parse fall
// back to a leading YYYY-MM-DD, then to the trimmed raw text.
func DateString(v any) string {
	if v == nil {
		return ""
	}
	if t, ok := Time(v); ok {
		return t.UTC().Format("2006-01-02")
	}
	s := String(v)
	if m := datePrefixRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// ClockString returns v as HH:MM in loc. Fractions of a day (spreadsheet
// time cells) are converted directly; text falls back to its first H:MM.
func ClockString(v any, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if x >= 0 && x < 1 {
			mins := int(math.Round(x * 1440))
			return formatClock(mins/60, mins%60)
		}
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return ""
		}
		// Bare clock text must not go through the date parser.
		if m := clockRe.FindStringSubmatch(s); m != nil && len(s) <= 8 {
			h, _ := strconv.Atoi(m[1])
			mm, _ := strconv.Atoi(m[2])
			return formatClock(h, mm)
		}
	}
	if t, ok := Time(v); ok {
		t = t.In(loc)
		return formatClock(t.Hour(), t.Minute())
	}
	s := String(v)
	if m := clockRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		return formatClock(h, mm)
	}
	return s
}

func formatClock(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}
