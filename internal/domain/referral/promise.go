package referral

import "time"

// PromisedDate advances from start one calendar day at a time until
// businessDays non-Sunday days have been counted. Saturdays count. The
// time of day is carried over from start.
func PromisedDate(start time.Time, businessDays int) time.Time {
	d := start
	for counted := 0; counted < businessDays; {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Sunday {
			counted++
		}
	}
	return d
}
