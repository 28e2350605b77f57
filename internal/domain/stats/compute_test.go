package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
)

var now = time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

func sample(sampleType string, requested time.Time) *referral.SampleRequest {
	return &referral.SampleRequest{
		ID:          fmt.Sprintf("%s-%d", sampleType, requested.Unix()),
		Patient:     referral.Patient{SampleType: sampleType},
		RequestDate: requested,
		Status:      referral.StatusPending,
	}
}

func delivered(sampleType string, promised, uploaded time.Time) *referral.SampleRequest {
	sr := sample(sampleType, promised.AddDate(0, 0, -5))
	sr.Status = referral.StatusAccepted
	sr.PromisedDate = &promised
	sr.ResultURL = "https://example.org/r.pdf"
	sr.ResultUploadDate = &uploaded
	return sr
}

func TestParseWindow(t *testing.T) {
	tests := map[string]Window{"": Window30d, "7d": Window7d, " 90D ": Window90d, "all": WindowAll}
	for in, want := range tests {
		got, err := ParseWindow(in)
		if err != nil || got != want {
			t.Errorf("ParseWindow(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseWindow("1y"); err == nil {
		t.Error("expected error for 1y")
	}
}

func TestCompute_Empty(t *testing.T) {
	for _, in := range [][]*referral.SampleRequest{nil, {}} {
		s := Compute(in)
		if s.Total != 0 || s.Delivered != 0 || s.DelayPercentage != 0 || s.DelayAlert {
			t.Errorf("expected zero stats, got %+v", s)
		}
		if s.SampleTypes == nil || len(s.SampleTypes) != 0 {
			t.Errorf("expected empty distribution, got %v", s.SampleTypes)
		}
	}
}

func TestCompute_DelayBoundary(t *testing.T) {
	promised := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	late := delivered("Coprocultivo", promised, promised.Add(time.Second))
	exact := delivered("Coprocultivo", promised, promised)
	early := delivered("Coprocultivo", promised, promised.Add(-time.Hour))

	if !Delayed(late) {
		t.Error("upload after promise should be delayed")
	}
	if Delayed(exact) {
		t.Error("upload at the promised instant is on time")
	}

	s := Compute([]*referral.SampleRequest{late, exact, early})
	if s.Delivered != 3 || s.Delayed != 1 || s.OnTime != 2 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.DelayPercentage != 33 {
		t.Errorf("expected 33%%, got %d", s.DelayPercentage)
	}
	if !s.DelayAlert {
		t.Error("33% should raise the delay alert")
	}
}

func TestCompute_Counts(t *testing.T) {
	promised := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	noPromise := sample("Urocultivo", now)
	noPromise.ResultURL = "https://example.org/r.pdf"

	reqs := []*referral.SampleRequest{
		delivered("Urocultivo", promised, promised.Add(48*time.Hour)),
		delivered("Urocultivo", promised, promised),
		sample("Urocultivo", now),
		noPromise,
		sample("Coprocultivo", now),
		nil,
	}
	s := Compute(reqs)
	if s.Total != 5 {
		t.Errorf("total = %d", s.Total)
	}
	if s.Delivered != 2 || s.Pending != 3 {
		t.Errorf("delivered %d pending %d", s.Delivered, s.Pending)
	}
	if s.DelayPercentage != 50 {
		t.Errorf("delay = %d", s.DelayPercentage)
	}
	if len(s.SampleTypes) != 2 {
		t.Fatalf("expected 2 types, got %v", s.SampleTypes)
	}
	if s.SampleTypes[0] != (TypeCount{"Urocultivo", 4, 80}) {
		t.Errorf("unexpected first row %+v", s.SampleTypes[0])
	}
	if s.SampleTypes[1] != (TypeCount{"Coprocultivo", 1, 20}) {
		t.Errorf("unexpected second row %+v", s.SampleTypes[1])
	}
}

func TestCompute_TopTen(t *testing.T) {
	var reqs []*referral.SampleRequest
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("Tipo %02d", i)
		for j := 0; j <= i%3; j++ {
			reqs = append(reqs, sample(name, now.Add(-time.Duration(j)*time.Hour)))
		}
	}
	s := Compute(reqs)
	if len(s.SampleTypes) != TopTypes {
		t.Fatalf("expected %d rows, got %d", TopTypes, len(s.SampleTypes))
	}
	for i := 1; i < len(s.SampleTypes); i++ {
		a, b := s.SampleTypes[i-1], s.SampleTypes[i]
		if a.Count < b.Count || (a.Count == b.Count && a.SampleType > b.SampleType) {
			t.Fatalf("rows out of order at %d: %+v then %+v", i, a, b)
		}
	}
	if s.SampleTypes[0].SampleType != "Tipo 02" {
		t.Errorf("ties should break by name, got %s first", s.SampleTypes[0].SampleType)
	}
}

func TestFilterByWindow_InclusiveCutoff(t *testing.T) {
	cutoff := now.AddDate(0, 0, -30)
	atCutoff := sample("A", cutoff)
	justBefore := sample("B", cutoff.Add(-time.Nanosecond))
	recent := sample("C", now)

	got := FilterByWindow([]*referral.SampleRequest{atCutoff, justBefore, recent}, Window30d, now)
	if len(got) != 2 || got[0] != atCutoff || got[1] != recent {
		t.Errorf("unexpected filter result %v", got)
	}
}

func TestFilterByWindow_DoesNotMutateNow(t *testing.T) {
	n := now
	FilterByWindow([]*referral.SampleRequest{sample("A", now)}, Window7d, n)
	if !n.Equal(now) {
		t.Error("now was modified")
	}
}

func TestFilterByWindow_All(t *testing.T) {
	old := sample("A", time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))
	if got := FilterByWindow([]*referral.SampleRequest{old}, WindowAll, now); len(got) != 1 {
		t.Errorf("all window should keep everything, got %d", len(got))
	}
}

func TestComputeWindow(t *testing.T) {
	reqs := []*referral.SampleRequest{
		sample("A", now.AddDate(0, 0, -3)),
		sample("A", now.AddDate(0, 0, -10)),
		sample("B", now.AddDate(0, 0, -60)),
	}
	tests := []struct {
		w     Window
		total int
	}{
		{Window7d, 1},
		{Window30d, 2},
		{Window90d, 3},
		{WindowAll, 3},
	}
	for _, tt := range tests {
		s := ComputeWindow(reqs, tt.w, now)
		if s.Total != tt.total || s.Window != tt.w {
			t.Errorf("%s: total %d window %s", tt.w, s.Total, s.Window)
		}
	}
}
