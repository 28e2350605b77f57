package referral

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryRepository_CreateListUpdate(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRepository()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	seed := []struct {
		id   string
		days int
	}{{"old", 0}, {"new", 2}, {"mid", 1}}
	for _, s := range seed {
		if _, err := r.Create(ctx, &SampleRequest{ID: s.id, RequestDate: base.AddDate(0, 0, s.days), Status: StatusPending}); err != nil {
			t.Fatalf("create %s: %v", s.id, err)
		}
	}

	items, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(items); got[0] != "new" || got[1] != "mid" || got[2] != "old" {
		t.Errorf("expected newest first, got %v", got)
	}

	promised := base.AddDate(0, 0, 5)
	if err := r.UpdateStatus(ctx, &SampleRequest{ID: "mid", Status: StatusAccepted, PromisedDate: &promised, Patient: Patient{Name: "ignored"}}); err != nil {
		t.Fatal(err)
	}
	items, _ = r.List(ctx)
	mid := items[1]
	if mid.Status != StatusAccepted || mid.PromisedDate == nil || !mid.PromisedDate.Equal(promised) {
		t.Errorf("update not applied: %+v", mid)
	}
	if mid.Patient.Name != "" {
		t.Error("UpdateStatus must not touch patient data")
	}
}

func TestInMemoryRepository_Errors(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRepository()

	if _, err := r.Create(ctx, &SampleRequest{}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for empty id, got %v", err)
	}
	if _, err := r.Create(ctx, &SampleRequest{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, &SampleRequest{ID: "a"}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for duplicate, got %v", err)
	}
	if err := r.UpdateStatus(ctx, &SampleRequest{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
