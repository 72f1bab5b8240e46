package schema

import "fmt"

// Mirrored table names. The store creates one local table per name, all
// sharing the generic record envelope columns.
const (
	TableJobs            = "jobs"
	TableAttendance      = "attendance"
	TableAccomplishments = "accomplishments"
	TableReports         = "reports"
	TableProfile         = "profile"
)

// tables lists every mirrored table in schema-creation order.
var tables = []string{
	TableJobs,
	TableAttendance,
	TableAccomplishments,
	TableReports,
	TableProfile,
}

// Tables returns the names of all mirrored tables.
func Tables() []string {
	out := make([]string, len(tables))
	copy(out, tables)
	return out
}

// KnownTable reports whether name is a mirrored table.
func KnownTable(name string) bool {
	for _, t := range tables {
		if t == name {
			return true
		}
	}
	return false
}

// ValidateTable returns an error if name is not a mirrored table. Table
// names are interpolated into SQL, so every caller must reject unknown
// names before building a query.
func ValidateTable(name string) error {
	if !KnownTable(name) {
		return fmt.Errorf("unknown table %q", name)
	}
	return nil
}
