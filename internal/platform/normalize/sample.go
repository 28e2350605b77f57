package normalize

import (
	"time"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
)

// Canonical keys written by FromSample. Patient fields live under a nested
// "patient" object; flat rows carrying the same fields are also accepted.
const (
	KeyID               = "id"
	KeyPatient          = "patient"
	KeyDNI              = "dni"
	KeyName             = "name"
	KeyAge              = "age"
	KeySex              = "sex"
	KeySampleType       = "sampleType"
	KeyUrineMethod      = "urocultivoMethod"
	KeyDiagnosis        = "presumptiveDiagnosis"
	KeyBackground       = "background"
	KeyObservations     = "observations"
	KeyRequestDate      = "requestDate"
	KeyStatus           = "status"
	KeyReceived         = "received"
	KeyArrivalDate      = "arrivalDate"
	KeyPromisedDate     = "promisedDate"
	KeyResultURL        = "resultUrl"
	KeyResultUploadDate = "resultUploadDate"
)

// SampleAliases lists the keys each SampleRequest field may arrive under.
// Spreadsheet headers are Spanish; API payloads use camelCase or snake_case.
var SampleAliases = AliasTable{
	KeyID:               {"id", "sampleId", "sample_id", "id muestra"},
	KeyDNI:              {"dni", "patientDni", "patient_dni", "documento"},
	KeyName:             {"name", "patientName", "patient_name", "paciente", "nombre"},
	KeyAge:              {"age", "patientAge", "edad"},
	KeySex:              {"sex", "patientSex", "sexo"},
	KeySampleType:       {"sampleType", "sample_type", "tipo muestra", "tipo de muestra", "tipo_muestra"},
	KeyUrineMethod:      {"urocultivoMethod", "urineCultureMethod", "urine_culture_method", "metodo urocultivo", "método"},
	KeyDiagnosis:        {"presumptiveDiagnosis", "presumptive_diagnosis", "diagnóstico presuntivo", "diagnostico"},
	KeyBackground:       {"background", "antecedentes"},
	KeyObservations:     {"observations", "observaciones", "observación", "obs"},
	KeyRequestDate:      {"requestDate", "request_date", "fecha solicitud", "fecha", "createdAt", "created_at", "timestamp"},
	KeyStatus:           {"status", "estado"},
	KeyReceived:         {"received", "recibido"},
	KeyArrivalDate:      {"arrivalDate", "arrival_date", "fecha llegada", "fecha recepción"},
	KeyPromisedDate:     {"promisedDate", "promised_date", "promesa", "fecha promesa"},
	KeyResultURL:        {"resultUrl", "result_url", "resultado", "informe"},
	KeyResultUploadDate: {"resultUploadDate", "result_upload_date", "subido en", "fecha subida"},
}

// ToSample maps a row onto a SampleRequest. It never fails; a row missing a
// field yields that field's zero value. Status comes from "status" when
// present, otherwise from the legacy "received" code. Dates without a zone
// are read as UTC.
func ToSample(rec RawRecord) referral.SampleRequest {
	return ToSampleIn(rec, time.UTC)
}

// ToSampleIn is ToSample reading dates without a zone as wall-clock time in
// loc, as spreadsheet cells typed by the lab are.
func ToSampleIn(rec RawRecord, loc *time.Location) referral.SampleRequest {
	v := newView(rec)
	switch nested := v[FoldKey(KeyPatient)].(type) {
	case map[string]any:
		v.merge(nested)
	case RawRecord:
		v.merge(nested)
	}
	a := SampleAliases

	sr := referral.SampleRequest{
		ID: v.str(a[KeyID]),
		Patient: referral.Patient{
			DNI:                  v.str(a[KeyDNI]),
			Name:                 v.str(a[KeyName]),
			Sex:                  referral.ParseSex(v.str(a[KeySex])),
			SampleType:           v.str(a[KeySampleType]),
			UrineCultureMethod:   v.str(a[KeyUrineMethod]),
			PresumptiveDiagnosis: v.str(a[KeyDiagnosis]),
			Background:           v.str(a[KeyBackground]),
			Observations:         v.str(a[KeyObservations]),
		},
		ResultURL: v.str(a[KeyResultURL]),
	}
	if age, ok := v.probe(a[KeyAge]); ok {
		sr.Patient.Age = Int(age)
	}
	if raw, ok := v.probe(a[KeyRequestDate]); ok {
		sr.RequestDate, _ = TimeIn(raw, loc)
	}
	if raw, ok := v.probe(a[KeyStatus]); ok && String(raw) != "" {
		sr.Status = referral.ParseStatus(String(raw))
	} else {
		sr.Status = referral.ParseStatus(v.str(a[KeyReceived]))
	}
	if raw, ok := v.probe(a[KeyArrivalDate]); ok {
		sr.ArrivalDate = TimePtrIn(raw, loc)
	}
	if raw, ok := v.probe(a[KeyPromisedDate]); ok {
		sr.PromisedDate = TimePtrIn(raw, loc)
	}
	if raw, ok := v.probe(a[KeyResultUploadDate]); ok {
		sr.ResultUploadDate = TimePtrIn(raw, loc)
	}
	return sr
}

// FromSample renders the canonical wire record for sr. ToSample(FromSample(sr))
// yields sr again, with times equal under time.Time.Equal.
func FromSample(sr referral.SampleRequest) RawRecord {
	patient := map[string]any{
		KeyDNI:          sr.Patient.DNI,
		KeyName:         sr.Patient.Name,
		KeyAge:          sr.Patient.Age,
		KeySex:          sr.Patient.Sex.Label(),
		KeySampleType:   sr.Patient.SampleType,
		KeyDiagnosis:    sr.Patient.PresumptiveDiagnosis,
		KeyBackground:   sr.Patient.Background,
		KeyObservations: sr.Patient.Observations,
	}
	if sr.Patient.UrineCultureMethod != "" {
		patient[KeyUrineMethod] = sr.Patient.UrineCultureMethod
	}

	rec := RawRecord{
		KeyID:       sr.ID,
		KeyPatient:  patient,
		KeyStatus:   string(sr.Status),
		KeyReceived: sr.Status.Legacy(),
	}
	if !sr.RequestDate.IsZero() {
		rec[KeyRequestDate] = formatTime(sr.RequestDate)
	}
	putTime(rec, KeyArrivalDate, sr.ArrivalDate)
	putTime(rec, KeyPromisedDate, sr.PromisedDate)
	putTime(rec, KeyResultUploadDate, sr.ResultUploadDate)
	if sr.ResultURL != "" {
		rec[KeyResultURL] = sr.ResultURL
	}
	return rec
}

// StatusFields renders the lifecycle fields written by an update.
func StatusFields(sr referral.SampleRequest) RawRecord {
	rec := RawRecord{
		KeyStatus:   string(sr.Status),
		KeyReceived: sr.Status.Legacy(),
	}
	putTime(rec, KeyArrivalDate, sr.ArrivalDate)
	putTime(rec, KeyPromisedDate, sr.PromisedDate)
	putTime(rec, KeyResultUploadDate, sr.ResultUploadDate)
	if sr.ResultURL != "" {
		rec[KeyResultURL] = sr.ResultURL
	}
	return rec
}

func putTime(rec RawRecord, key string, t *time.Time) {
	if t != nil && !t.IsZero() {
		rec[key] = formatTime(*t)
	}
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// ApplyStatusFields overlays the lifecycle fields present in rec onto sr.
// Absent fields keep their current value; a present but unparseable date
// clears the field.
func ApplyStatusFields(sr referral.SampleRequest, rec RawRecord) referral.SampleRequest {
	return ApplyStatusFieldsIn(sr, rec, time.UTC)
}

// ApplyStatusFieldsIn is ApplyStatusFields reading zone-less dates in loc.
func ApplyStatusFieldsIn(sr referral.SampleRequest, rec RawRecord, loc *time.Location) referral.SampleRequest {
	v := newView(rec)
	a := SampleAliases

	if raw, ok := v.probe(a[KeyStatus]); ok && String(raw) != "" {
		sr.Status = referral.ParseStatus(String(raw))
	} else if raw, ok := v.probe(a[KeyReceived]); ok && String(raw) != "" {
		sr.Status = referral.ParseStatus(String(raw))
	}
	if raw, ok := v.probe(a[KeyArrivalDate]); ok {
		sr.ArrivalDate = TimePtrIn(raw, loc)
	}
	if raw, ok := v.probe(a[KeyPromisedDate]); ok {
		sr.PromisedDate = TimePtrIn(raw, loc)
	}
	if raw, ok := v.probe(a[KeyResultURL]); ok {
		sr.ResultURL = String(raw)
	}
	if raw, ok := v.probe(a[KeyResultUploadDate]); ok {
		sr.ResultUploadDate = TimePtrIn(raw, loc)
	}
	return sr
}

// Flatten lifts the nested patient object of a canonical record to the top
// level, for stores with one column per field.
func Flatten(rec RawRecord) RawRecord {
	out := make(RawRecord, len(rec)+8)
	for k, val := range rec {
		if k == KeyPatient {
			continue
		}
		out[k] = val
	}
	var nested map[string]any
	switch p := rec[KeyPatient].(type) {
	case map[string]any:
		nested = p
	case RawRecord:
		nested = p
	}
	for k, val := range nested {
		if _, exists := out[k]; !exists {
			out[k] = val
		}
	}
	return out
}
