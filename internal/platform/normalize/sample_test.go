package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
)

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func assertSampleEqual(t *testing.T, got, want referral.SampleRequest) {
	t.Helper()
	if got.ID != want.ID {
		t.Errorf("ID = %q, want %q", got.ID, want.ID)
	}
	if got.Patient != want.Patient {
		t.Errorf("Patient = %+v, want %+v", got.Patient, want.Patient)
	}
	if !got.RequestDate.Equal(want.RequestDate) {
		t.Errorf("RequestDate = %v, want %v", got.RequestDate, want.RequestDate)
	}
	if got.Status != want.Status {
		t.Errorf("Status = %s, want %s", got.Status, want.Status)
	}
	if !equalTimePtr(got.ArrivalDate, want.ArrivalDate) {
		t.Errorf("ArrivalDate = %v, want %v", got.ArrivalDate, want.ArrivalDate)
	}
	if !equalTimePtr(got.PromisedDate, want.PromisedDate) {
		t.Errorf("PromisedDate = %v, want %v", got.PromisedDate, want.PromisedDate)
	}
	if got.ResultURL != want.ResultURL {
		t.Errorf("ResultURL = %q, want %q", got.ResultURL, want.ResultURL)
	}
	if !equalTimePtr(got.ResultUploadDate, want.ResultUploadDate) {
		t.Errorf("ResultUploadDate = %v, want %v", got.ResultUploadDate, want.ResultUploadDate)
	}
}

func sampleFixture() referral.SampleRequest {
	art := time.FixedZone("ART", -3*3600)
	req := time.Date(2024, 3, 7, 9, 15, 30, 123000000, art)
	arrival := time.Date(2024, 3, 7, 11, 0, 0, 0, art)
	promised := referral.PromisedDate(arrival, 6)
	upload := time.Date(2024, 3, 13, 16, 45, 0, 0, art)
	return referral.SampleRequest{
		ID: "7d4f2f0e-0c57-4b5e-9b0a-3f1f4c1d2e3a",
		Patient: referral.Patient{
			DNI:                  "30123456",
			Name:                 "Juana Pérez",
			Age:                  42,
			Sex:                  referral.SexFemale,
			SampleType:           referral.UrineCulture,
			UrineCultureMethod:   "chorro medio",
			PresumptiveDiagnosis: "ITU",
			Background:           "diabetes",
			Observations:         "ayuno",
		},
		RequestDate:      req,
		Status:           referral.StatusAccepted,
		ArrivalDate:      &arrival,
		PromisedDate:     &promised,
		ResultURL:        "blob://results/x/abc-informe.pdf",
		ResultUploadDate: &upload,
	}
}

func TestToSample_CanonicalIsIdempotent(t *testing.T) {
	want := sampleFixture()
	assertSampleEqual(t, ToSample(FromSample(want)), want)
}

func TestToSample_CanonicalSurvivesJSON(t *testing.T) {
	want := sampleFixture()
	data, err := json.Marshal(FromSample(want))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rec RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assertSampleEqual(t, ToSample(rec), want)
}

func TestToSample_PendingWithoutOptionalFields(t *testing.T) {
	want := referral.SampleRequest{
		ID:          "s-1",
		Patient:     referral.Patient{DNI: "1", Name: "A", Sex: referral.SexOther, SampleType: "Coprocultivo", PresumptiveDiagnosis: "N/A"},
		RequestDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:      referral.StatusPending,
	}
	rec := FromSample(want)
	if _, ok := rec[KeyPromisedDate]; ok {
		t.Error("pending record should not carry a promised date")
	}
	if rec[KeyReceived] != "PENDIENTE" {
		t.Errorf("expected legacy PENDIENTE, got %v", rec[KeyReceived])
	}
	assertSampleEqual(t, ToSample(rec), want)
}

func TestToSample_FlatSpanishSheetRow(t *testing.T) {
	rec := RawRecord{
		" ID ":             "abc",
		"DNI":              float64(30123456),
		"Paciente":         " Juan Gómez ",
		"Edad":             "67",
		"Sexo":             "Masculino",
		"Tipo Muestra":     "Coprocultivo",
		"Observación":      "urgente",
		"Fecha Solicitud":  "05/03/2024 14:30",
		"Recibido":         "SI",
		"Fecha Llegada":    "2024-03-05T18:00:00.000Z",
		"Promesa":          "2024-03-09T18:00:00.000Z",
		"Diagnóstico":      "GEA",
		"Antecedentes":     "",
		"Columna Ignorada": 123,
	}
	sr := ToSample(rec)

	if sr.ID != "abc" {
		t.Errorf("ID = %q", sr.ID)
	}
	if sr.Patient.DNI != "30123456" {
		t.Errorf("DNI = %q", sr.Patient.DNI)
	}
	if sr.Patient.Name != "Juan Gómez" {
		t.Errorf("Name = %q", sr.Patient.Name)
	}
	if sr.Patient.Age != 67 {
		t.Errorf("Age = %d", sr.Patient.Age)
	}
	if sr.Patient.Sex != referral.SexMale {
		t.Errorf("Sex = %s", sr.Patient.Sex)
	}
	if sr.Patient.Observations != "urgente" {
		t.Errorf("Observations = %q", sr.Patient.Observations)
	}
	if sr.Patient.PresumptiveDiagnosis != "GEA" {
		t.Errorf("PresumptiveDiagnosis = %q", sr.Patient.PresumptiveDiagnosis)
	}
	if sr.Status != referral.StatusAccepted {
		t.Errorf("Status = %s", sr.Status)
	}
	if !sr.RequestDate.Equal(time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("RequestDate = %v", sr.RequestDate)
	}
	if sr.ArrivalDate == nil || sr.PromisedDate == nil {
		t.Fatalf("expected arrival and promise, got %v %v", sr.ArrivalDate, sr.PromisedDate)
	}
}

func TestToSample_StatusPrecedence(t *testing.T) {
	tests := []struct {
		name string
		rec  RawRecord
		want referral.Status
	}{
		{"status wins", RawRecord{"status": "Rejected", "received": "SI"}, referral.StatusRejected},
		{"legacy yes", RawRecord{"received": "SI"}, referral.StatusAccepted},
		{"legacy no", RawRecord{"received": "NO"}, referral.StatusRejected},
		{"legacy pending", RawRecord{"received": "PENDIENTE"}, referral.StatusPending},
		{"empty status falls back", RawRecord{"status": "", "received": "NO"}, referral.StatusRejected},
		{"nothing", RawRecord{}, referral.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToSample(tt.rec).Status; got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestToSample_MalformedDegrades(t *testing.T) {
	rec := RawRecord{
		"id":           "x",
		"patient":      "not an object",
		"age":          "unknown",
		"requestDate":  "yesterday",
		"promisedDate": "later",
		"resultUrl":    nil,
	}
	sr := ToSample(rec)
	if sr.Patient.Age != 0 {
		t.Errorf("expected age 0, got %d", sr.Patient.Age)
	}
	if !sr.RequestDate.IsZero() {
		t.Errorf("expected zero request date, got %v", sr.RequestDate)
	}
	if sr.PromisedDate != nil {
		t.Errorf("expected nil promise, got %v", sr.PromisedDate)
	}
	if sr.ResultURL != "" {
		t.Errorf("expected empty result url, got %q", sr.ResultURL)
	}
}

func TestStatusFields(t *testing.T) {
	sr := sampleFixture()
	rec := StatusFields(sr)
	if rec[KeyStatus] != "Accepted" || rec[KeyReceived] != "SI" {
		t.Errorf("unexpected status fields %v", rec)
	}
	if _, ok := rec[KeyPatient]; ok {
		t.Error("status update must not carry patient data")
	}
	got, ok := Time(rec[KeyPromisedDate])
	if !ok || !got.Equal(*sr.PromisedDate) {
		t.Errorf("promised date = %v", rec[KeyPromisedDate])
	}
}

func TestToTimeLog(t *testing.T) {
	art := time.FixedZone("ART", -3*3600)
	rec := RawRecord{
		"ID":            "42",
		"Fecha":         "2024-03-05T03:00:00.000Z",
		"Nombre":        "  Ana Ruiz ",
		" Ingreso":      "1899-12-30T11:00:00.000Z",
		"Egreso":        "17:30",
		" total_horas":  "6,5",
		"TipoDia":       "hábil",
		"Feriado":       "TRUE",
		"Observación":   "llegó tarde",
		"fecha_carga":   "2024-03-05T20:00:00Z",
		"sin relevanci": 1,
	}
	tl := ToTimeLog(rec, art)

	want := TimeLog{
		ID:           "42",
		Date:         "2024-03-05",
		EmployeeName: "Ana Ruiz",
		EntryTime:    "08:00",
		ExitTime:     "17:30",
		TotalHours:   6.5,
		DayType:      "hábil",
		Holiday:      true,
		Observation:  "llegó tarde",
		UploadedAt:   "2024-03-05T20:00:00Z",
	}
	if tl != want {
		t.Errorf("ToTimeLog =\n%+v\nwant\n%+v", tl, want)
	}
}

func TestToTimeLog_Empty(t *testing.T) {
	tl := ToTimeLog(RawRecord{"feriado": "si"}, nil)
	if tl.Holiday {
		t.Error("only \"true\" marks a holiday")
	}
	if tl.Date != "" || tl.EntryTime != "" || tl.TotalHours != 0 {
		t.Errorf("expected zero values, got %+v", tl)
	}
}

func TestApplyStatusFields(t *testing.T) {
	base := sampleFixture()
	base.Status = referral.StatusPending
	base.ArrivalDate, base.PromisedDate, base.ResultUploadDate = nil, nil, nil
	base.ResultURL = ""

	got := ApplyStatusFields(base, RawRecord{
		"received":      "SI",
		"promised_date": "2024-03-14T14:00:00Z",
		"ignored":       "x",
	})
	if got.Status != referral.StatusAccepted {
		t.Errorf("status = %s", got.Status)
	}
	if got.PromisedDate == nil || !got.PromisedDate.Equal(time.Date(2024, 3, 14, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("promised = %v", got.PromisedDate)
	}
	if got.ArrivalDate != nil || got.ResultURL != "" {
		t.Error("absent fields must stay untouched")
	}
	if got.Patient != base.Patient {
		t.Error("patient must not change")
	}

	got = ApplyStatusFields(got, RawRecord{"status": "Rejected", "received": "SI"})
	if got.Status != referral.StatusRejected {
		t.Errorf("status should win over received, got %s", got.Status)
	}
}

func TestFlatten(t *testing.T) {
	flat := Flatten(FromSample(sampleFixture()))
	if _, ok := flat[KeyPatient]; ok {
		t.Error("patient object should be removed")
	}
	if flat[KeyDNI] != "30123456" || flat[KeyID] == nil {
		t.Errorf("unexpected flat record %v", flat)
	}
	assertSampleEqual(t, ToSample(flat), sampleFixture())
}

func TestToSampleIn_NaiveCellsAreLabTime(t *testing.T) {
	art := time.FixedZone("ART", -3*3600)
	rec := RawRecord{
		"ID":              "s-9",
		"Fecha Solicitud": "07/03/2024 22:00",
		"Recibido":        "SI",
		"Fecha Llegada":   "09/03/2024 22:00",
		"Promesa":         "2024-03-11T01:00:00.000Z",
	}
	sr := ToSampleIn(rec, art)

	if want := time.Date(2024, 3, 7, 22, 0, 0, 0, art); !sr.RequestDate.Equal(want) {
		t.Errorf("RequestDate = %v, want %v", sr.RequestDate, want)
	}
	if sr.ArrivalDate == nil || sr.ArrivalDate.Weekday() != time.Saturday {
		t.Errorf("ArrivalDate = %v, want a Saturday in lab time", sr.ArrivalDate)
	}
	if sr.PromisedDate == nil || !sr.PromisedDate.Equal(time.Date(2024, 3, 10, 22, 0, 0, 0, art)) {
		t.Errorf("zoned PromisedDate must keep its instant, got %v", sr.PromisedDate)
	}

	updated := ApplyStatusFieldsIn(sr, RawRecord{"fecha subida": "12/03/2024 09:30"}, art)
	if updated.ResultUploadDate == nil || !updated.ResultUploadDate.Equal(time.Date(2024, 3, 12, 9, 30, 0, 0, art)) {
		t.Errorf("ResultUploadDate = %v", updated.ResultUploadDate)
	}
}
