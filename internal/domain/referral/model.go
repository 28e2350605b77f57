package referral

import (
	"strings"
	"time"
)

// Sex is the patient's sex as recorded on the referral form.
type Sex string

const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
	SexOther  Sex = "Other"
)

// ParseSex accepts the English values and the Spanish labels used by the
// clinic forms. Unknown values map to SexOther.
func ParseSex(s string) Sex {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "masculino", "m":
		return SexMale
	case "female", "femenino", "f":
		return SexFemale
	default:
		return SexOther
	}
}

// Label returns the Spanish display label used in reports.
func (s Sex) Label() string {
	switch s {
	case SexMale:
		return "Masculino"
	case SexFemale:
		return "Femenino"
	default:
		return "Otro"
	}
}

// Status is the lifecycle state of a SampleRequest.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
)

// ParseStatus accepts canonical values and the legacy sheet codes
// (PENDIENTE, SI, NO). Anything unrecognized is treated as pending.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accepted", "si", "sí", "yes":
		return StatusAccepted
	case "rejected", "no":
		return StatusRejected
	default:
		return StatusPending
	}
}

// Legacy returns the code the spreadsheet backend historically stored in its
// "received" column.
func (s Status) Legacy() string {
	switch s {
	case StatusAccepted:
		return "SI"
	case StatusRejected:
		return "NO"
	default:
		return "PENDIENTE"
	}
}

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Decision is the central lab's verdict on a pending referral.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision returns ok=false for anything that is not an accept or reject.
func ParseDecision(s string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "accepted", "si", "sí", "yes":
		return DecisionAccept, true
	case "reject", "rejected", "no":
		return DecisionReject, true
	}
	return "", false
}

// DefaultDiagnosis is stored when the clinic leaves the diagnosis blank.
const DefaultDiagnosis = "N/A"

// Patient carries the identity and clinical context of one specimen.
type Patient struct {
	DNI                  string `json:"dni"`
	Name                 string `json:"name"`
	Age                  int    `json:"age"`
	Sex                  Sex    `json:"sex"`
	SampleType           string `json:"sample_type"`
	UrineCultureMethod   string `json:"urine_culture_method,omitempty"`
	PresumptiveDiagnosis string `json:"presumptive_diagnosis"`
	Background           string `json:"background"`
	Observations         string `json:"observations"`
}

// SampleRequest is one referral from a derived lab to the central lab.
type SampleRequest struct {
	ID               string     `json:"id"`
	Patient          Patient    `json:"patient"`
	RequestDate      time.Time  `json:"request_date"`
	Status           Status     `json:"status"`
	ArrivalDate      *time.Time `json:"arrival_date,omitempty"`
	PromisedDate     *time.Time `json:"promised_date,omitempty"`
	ResultURL        string     `json:"result_url,omitempty"`
	ResultUploadDate *time.Time `json:"result_upload_date,omitempty"`
}

// Clone returns a deep copy so callers can mutate the result without touching
// cached state.
func (sr *SampleRequest) Clone() *SampleRequest {
	if sr == nil {
		return nil
	}
	c := *sr
	c.ArrivalDate = cloneTime(sr.ArrivalDate)
	c.PromisedDate = cloneTime(sr.PromisedDate)
	c.ResultUploadDate = cloneTime(sr.ResultUploadDate)
	return &c
}

// HasResult reports whether a result artifact has been attached.
func (sr *SampleRequest) HasResult() bool {
	return sr.ResultURL != ""
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
