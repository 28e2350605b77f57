package referral

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UrineCulture is the catalog name of the only sample type that requires a
// collection method.
const UrineCulture = "Urocultivo"

// DefaultBusinessDays applies to sample types missing from the table.
const DefaultBusinessDays = 1

// UrineCultureMethods lists the collection methods offered on the intake form.
var UrineCultureMethods = []string{
	"chorro medio",
	"punción de sonda",
	"nefrostomia",
	"punción suprabica",
	"cateterismo intermitente",
}

var builtinSchedule = map[string]int{
	UrineCulture:                            6,
	"Exudado Faringeo (Faringitis)":         3,
	"Flujo Vaginal":                         4,
	"Micoplasmas genitales":                 4,
	"Exudado Endocervical":                  4,
	"Exudado Uretral":                       4,
	"Micosis superificial":                  15,
	"Espermocultivo":                        4,
	"Primer chorro":                         4,
	"Varios cirugia":                        7,
	"Parasitológico directo":                5,
	"Parasitológico seriado":                5,
	"Coprocultivo":                          4,
	"Toxina clostridium":                    1,
	"Antigeno de Rotavirus/Adenovirus":      1,
	"Hisopado nasal (Portacion SAU)":        4,
	"Hisopado axilar (Portacion SAU)":       4,
	"Hisopado inguinal (Portacion SAU)":     4,
	"Hisopado faringeo (Portacion SAU)":     4,
	"Hisopado balanoprepucial":              4,
	"Hisopado vaginal/anal (Portacion EGB)": 3,
	"Baciloscopia directa":                  1,
	"Cultivo de micobacterias":              60,
	"Identificación por MALDI-TOF":          1,
	"Sensibilidad VITEK":                    2,
	"Antígeno INFLU A/INFLU B":              1,
	"Antígeno COVID":                        1,
	"Antígeno Streptococcus pyogenes":       1,
}

// typeAliases maps folded alternative names onto catalog names.
var typeAliases = map[string]string{
	"urine culture": UrineCulture,
}

// IsUrineCulture reports whether sampleType names the urine culture.
func IsUrineCulture(sampleType string) bool {
	return canonicalType(sampleType) == UrineCulture
}

func canonicalType(sampleType string) string {
	t := strings.TrimSpace(sampleType)
	if alias, ok := typeAliases[strings.ToLower(t)]; ok {
		return alias
	}
	if strings.EqualFold(t, UrineCulture) {
		return UrineCulture
	}
	return t
}

// ScheduleTable maps a sample type to the business days the lab needs before
// promising a result. It is immutable once built.
type ScheduleTable struct {
	days   map[string]int
	folded map[string]int
}

// NewScheduleTable builds a table from entries. Every entry must be at least
// one day.
func NewScheduleTable(entries map[string]int) (ScheduleTable, error) {
	t := ScheduleTable{
		days:   make(map[string]int, len(entries)),
		folded: make(map[string]int, len(entries)),
	}
	for name, n := range entries {
		name = strings.TrimSpace(name)
		if name == "" {
			return ScheduleTable{}, fmt.Errorf("schedule: empty sample type name")
		}
		if n < 1 {
			return ScheduleTable{}, fmt.Errorf("schedule: %q must be at least 1 day, got %d", name, n)
		}
		t.days[name] = n
		t.folded[strings.ToLower(name)] = n
	}
	return t, nil
}

// DefaultSchedule returns the lab's built-in turnaround table.
func DefaultSchedule() ScheduleTable {
	t, _ := NewScheduleTable(builtinSchedule)
	return t
}

// Days returns the business-day offset for sampleType, DefaultBusinessDays
// when the type is unknown.
func (t ScheduleTable) Days(sampleType string) int {
	name := canonicalType(sampleType)
	if n, ok := t.days[name]; ok {
		return n
	}
	if n, ok := t.folded[strings.ToLower(name)]; ok {
		return n
	}
	return DefaultBusinessDays
}

// Known reports whether sampleType is in the table.
func (t ScheduleTable) Known(sampleType string) bool {
	name := canonicalType(sampleType)
	_, ok := t.folded[strings.ToLower(name)]
	return ok
}

// Promise computes the promised delivery instant for a sample of the given
// type received at start.
func (t ScheduleTable) Promise(start time.Time, sampleType string) time.Time {
	return PromisedDate(start, t.Days(sampleType))
}

// Types returns the catalog names in alphabetical order.
func (t ScheduleTable) Types() []string {
	out := make([]string, 0, len(t.days))
	for name := range t.days {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Entries returns a copy of the table.
func (t ScheduleTable) Entries() map[string]int {
	out := make(map[string]int, len(t.days))
	for k, v := range t.days {
		out[k] = v
	}
	return out
}

type scheduleFile struct {
	Replace     bool           `yaml:"replace"`
	SampleTypes map[string]int `yaml:"sample_types"`
}

// LoadScheduleFile reads a YAML override of the form
//
//	replace: false
//	sample_types:
//	  Urocultivo: 5
//
// Entries are merged over the built-in table unless replace is true.
func LoadScheduleFile(path string) (ScheduleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScheduleTable{}, fmt.Errorf("read schedule file: %w", err)
	}
	return ParseSchedule(data)
}

// ParseSchedule parses the YAML document described in LoadScheduleFile.
func ParseSchedule(data []byte) (ScheduleTable, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return ScheduleTable{}, fmt.Errorf("parse schedule file: %w", err)
	}
	merged := make(map[string]int, len(builtinSchedule)+len(f.SampleTypes))
	if !f.Replace {
		for k, v := range builtinSchedule {
			merged[k] = v
		}
	}
	for k, v := range f.SampleTypes {
		merged = overrideEntry(merged, k, v)
	}
	return NewScheduleTable(merged)
}

// overrideEntry sets name to days, replacing any entry that differs from
// name only by case.
func overrideEntry(entries map[string]int, name string, days int) map[string]int {
	for existing := range entries {
		if strings.EqualFold(existing, strings.TrimSpace(name)) {
			delete(entries, existing)
		}
	}
	entries[name] = days
	return entries
}
