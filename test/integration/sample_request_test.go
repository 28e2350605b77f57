package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/db"
)

func TestMigrator_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(pool, db.Embedded(), "")
	n, err := m.Up(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second Up should apply nothing, got %d, %v", n, err)
	}
	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range statuses {
		if !st.Applied || st.AppliedAt == nil {
			t.Errorf("migration %s not applied", st.Name)
		}
	}
}

func TestRepoPG_Lifecycle(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	thursday := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	svc := referral.NewService(referral.NewRepoPG(pool),
		referral.WithClock(func() time.Time { return thursday }))

	created, err := svc.CreateRequest(ctx, referral.Patient{
		DNI: "30123456", Name: "Ana Gómez", Age: 30, Sex: referral.SexFemale,
		SampleType: "Urocultivo", UrineCultureMethod: "chorro medio",
		PresumptiveDiagnosis: "ITU",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	accepted, err := svc.Decide(ctx, created.ID, referral.DecisionAccept)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if _, err := svc.AttachResult(ctx, created.ID, "https://files.example/informe.pdf"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	items, err := referral.NewRepoPG(pool).List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 row, got %d", len(items))
	}
	got := items[0]
	if got.Status != referral.StatusAccepted || got.Patient.Sex != referral.SexFemale {
		t.Errorf("unexpected row %+v", got)
	}
	if got.PromisedDate == nil || !got.PromisedDate.Equal(*accepted.PromisedDate) {
		t.Errorf("promised date = %v, want %v", got.PromisedDate, accepted.PromisedDate)
	}
	if got.ResultURL != "https://files.example/informe.pdf" || got.ResultUploadDate == nil {
		t.Errorf("result not stored: %+v", got)
	}
}

func TestRepoPG_DuplicateAndMissing(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := referral.NewRepoPG(pool)
	sr := &referral.SampleRequest{
		ID: "dup", RequestDate: time.Now().UTC().Truncate(time.Microsecond), Status: referral.StatusPending,
		Patient: referral.Patient{DNI: "1", Name: "A", Sex: referral.SexOther, SampleType: "Coprocultivo"},
	}
	if _, err := repo.Create(ctx, sr); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create(ctx, sr); !errors.Is(err, referral.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for duplicate id, got %v", err)
	}
	sr.ID = "missing"
	if err := repo.UpdateStatus(ctx, sr); !errors.Is(err, referral.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadScheduleOverrides(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	if _, err := pool.Exec(ctx, `INSERT INTO sample_type_schedule (sample_type, days) VALUES ('urocultivo', 3), ('Hemocultivo', 7)`); err != nil {
		t.Fatal(err)
	}
	table, err := referral.LoadScheduleOverrides(ctx, pool, referral.DefaultSchedule())
	if err != nil {
		t.Fatal(err)
	}
	if table.Days("Urocultivo") != 3 || table.Days("Hemocultivo") != 7 {
		t.Errorf("overrides not applied: %v", table.Entries())
	}
	if table.Days("Coprocultivo") != referral.DefaultSchedule().Days("Coprocultivo") {
		t.Error("built-in entries must survive")
	}
}
