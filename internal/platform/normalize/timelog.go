package normalize

import "time"

// TimeLog is one employee attendance row. The service only reads this shape;
// it does not manage attendance.
type TimeLog struct {
	ID           string  `json:"id"`
	Date         string  `json:"date"`
	EmployeeName string  `json:"employee_name"`
	EntryTime    string  `json:"entry_time"`
	ExitTime     string  `json:"exit_time"`
	TotalHours   float64 `json:"total_hours"`
	DayType      string  `json:"day_type"`
	Holiday      bool    `json:"holiday"`
	Observation  string  `json:"observation"`
	UploadedAt   string  `json:"uploaded_at"`
}

// TimeLogAliases lists the attendance sheet columns per field.
var TimeLogAliases = AliasTable{
	"id":           {"id"},
	"date":         {"fecha", "date"},
	"employeeName": {"nombre", "employeeName", "employee_name", "empleado"},
	"entryTime":    {"ingreso", "in", "entryTime", "entry_time"},
	"exitTime":     {"egreso", "egress", "out", "exitTime", "exit_time"},
	"totalHours":   {"total_horas", "totalHoras", "totalHours", "total_hours"},
	"dayType":      {"tipo_dia", "tipodia", "dayType", "day_type"},
	"holiday":      {"feriado", "isHoliday", "holiday"},
	"observation":  {"observaciones", "observación", "observation"},
	"uploadedAt":   {"fecha_carga", "timestamp", "uploadedAt"},
}

// ToTimeLog maps an attendance row. Clock times are rendered in loc (UTC when
// nil); the date is always YYYY-MM-DD or the cleaned raw text.
func ToTimeLog(rec RawRecord, loc *time.Location) TimeLog {
	v := newView(rec)
	a := TimeLogAliases

	tl := TimeLog{
		ID:           v.str(a["id"]),
		EmployeeName: v.str(a["employeeName"]),
		DayType:      v.str(a["dayType"]),
		Observation:  v.str(a["observation"]),
		UploadedAt:   v.str(a["uploadedAt"]),
	}
	if raw, ok := v.probe(a["date"]); ok {
		tl.Date = DateString(raw)
	}
	if raw, ok := v.probe(a["entryTime"]); ok {
		tl.EntryTime = ClockString(raw, loc)
	}
	if raw, ok := v.probe(a["exitTime"]); ok {
		tl.ExitTime = ClockString(raw, loc)
	}
	if raw, ok := v.probe(a["totalHours"]); ok {
		tl.TotalHours = Float(raw)
	}
	if raw, ok := v.probe(a["holiday"]); ok {
		tl.Holiday = Bool(raw)
	}
	return tl
}
