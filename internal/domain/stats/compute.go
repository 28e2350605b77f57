package stats

import (
	"math"
	"sort"
	"time"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
)

// FilterByWindow keeps the requests made on or after the window cutoff.
// now is not modified.
func FilterByWindow(reqs []*referral.SampleRequest, w Window, now time.Time) []*referral.SampleRequest {
	cutoff, ok := w.Cutoff(now)
	if !ok {
		return reqs
	}
	out := make([]*referral.SampleRequest, 0, len(reqs))
	for _, sr := range reqs {
		if sr != nil && !sr.RequestDate.Before(cutoff) {
			out = append(out, sr)
		}
	}
	return out
}

// Delivered reports whether sr has both a result and a promise to measure it
// against.
func Delivered(sr *referral.SampleRequest) bool {
	return sr.HasResult() && sr.PromisedDate != nil
}

// Delayed reports whether a delivered result was uploaded strictly after its
// promised date. Delivery at the promised instant is on time.
func Delayed(sr *referral.SampleRequest) bool {
	if !Delivered(sr) || sr.ResultUploadDate == nil {
		return false
	}
	return sr.ResultUploadDate.After(*sr.PromisedDate)
}

// Compute aggregates reqs. It never fails; an empty input yields zero counts.
func Compute(reqs []*referral.SampleRequest) Stats {
	s := Stats{SampleTypes: []TypeCount{}}
	counts := make(map[string]int)

	for _, sr := range reqs {
		if sr == nil {
			continue
		}
		s.Total++
		counts[sr.Patient.SampleType]++
		if !Delivered(sr) {
			continue
		}
		s.Delivered++
		if Delayed(sr) {
			s.Delayed++
		}
	}

	s.OnTime = s.Delivered - s.Delayed
	s.Pending = s.Total - s.Delivered
	s.DelayPercentage = percent(s.Delayed, s.Delivered)
	s.DelayAlert = s.DelayPercentage > DelayAlertPercentage

	for name, n := range counts {
		s.SampleTypes = append(s.SampleTypes, TypeCount{
			SampleType: name,
			Count:      n,
			Percentage: percent(n, s.Total),
		})
	}
	sort.Slice(s.SampleTypes, func(i, j int) bool {
		a, b := s.SampleTypes[i], s.SampleTypes[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.SampleType < b.SampleType
	})
	if len(s.SampleTypes) > TopTypes {
		s.SampleTypes = s.SampleTypes[:TopTypes]
	}
	return s
}

// ComputeWindow filters reqs by w and aggregates the result.
func ComputeWindow(reqs []*referral.SampleRequest, w Window, now time.Time) Stats {
	s := Compute(FilterByWindow(reqs, w, now))
	s.Window = w
	return s
}

// percent rounds half up; 0 when whole is 0.
func percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Floor(float64(part)*100/float64(whole) + 0.5))
}
