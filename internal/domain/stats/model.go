package stats

import (
	"fmt"
	"strings"
	"time"
)

// Window is the reporting period selected on the dashboard.
type Window string

const (
	Window7d  Window = "7d"
	Window30d Window = "30d"
	Window90d Window = "90d"
	WindowAll Window = "all"
)

// DefaultWindow is used when no window is requested.
const DefaultWindow = Window30d

// TopTypes caps the sample-type distribution.
const TopTypes = 10

// DelayAlertPercentage is the delay rate above which the dashboard flags the
// period.
const DelayAlertPercentage = 20

// ParseWindow accepts 7d, 30d, 90d and all. An empty string yields
// DefaultWindow.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return DefaultWindow, nil
	case Window7d, Window30d, Window90d, WindowAll:
		return w, nil
	}
	return "", fmt.Errorf("unknown window %q, want 7d, 30d, 90d or all", s)
}

// Days returns the window length; 0 for WindowAll.
func (w Window) Days() int {
	switch w {
	case Window7d:
		return 7
	case Window30d:
		return 30
	case Window90d:
		return 90
	}
	return 0
}

// Cutoff returns the earliest request date inside the window, relative to
// now. ok is false for WindowAll.
func (w Window) Cutoff(now time.Time) (cutoff time.Time, ok bool) {
	n := w.Days()
	if n == 0 {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -n), true
}

// TypeCount is one row of the sample-type distribution.
type TypeCount struct {
	SampleType string `json:"sample_type"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// Stats summarizes turnaround punctuality over a set of sample requests.
type Stats struct {
	Window          Window      `json:"window"`
	Total           int         `json:"total"`
	Delivered       int         `json:"delivered"`
	Delayed         int         `json:"delayed"`
	OnTime          int         `json:"on_time"`
	Pending         int         `json:"pending"`
	DelayPercentage int         `json:"delay_percentage"`
	DelayAlert      bool        `json:"delay_alert"`
	SampleTypes     []TypeCount `json:"sample_types"`
}
