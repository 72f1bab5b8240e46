package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is a position the user clocks in against.
type Job struct {
	Name           string `json:"name"`
	HourlyRateCent int    `json:"hourly_rate_cent,omitempty"`
	Color          string `json:"color,omitempty"`
	Archived       bool   `json:"archived,omitempty"`
}

// Validate checks the job's field values.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(j.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(j.Name))
	}
	if j.HourlyRateCent < 0 {
		return fmt.Errorf("hourly rate cannot be negative (got %d)", j.HourlyRateCent)
	}
	return nil
}

// Attendance is a single clock-in/clock-out interval.
type Attendance struct {
	JobID        string     `json:"job_id"`
	ClockIn      time.Time  `json:"clock_in"`
	ClockOut     *time.Time `json:"clock_out,omitempty"`
	BreakMinutes int        `json:"break_minutes,omitempty"`
	Note         string     `json:"note,omitempty"`
}

// Validate checks the attendance record's field values.
func (a *Attendance) Validate() error {
	if a.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if a.ClockIn.IsZero() {
		return fmt.Errorf("clock_in is required")
	}
	if a.ClockOut != nil && a.ClockOut.Before(a.ClockIn) {
		return fmt.Errorf("clock_out %s precedes clock_in %s",
			a.ClockOut.Format(time.RFC3339), a.ClockIn.Format(time.RFC3339))
	}
	if a.BreakMinutes < 0 {
		return fmt.Errorf("break minutes cannot be negative (got %d)", a.BreakMinutes)
	}
	return nil
}

// Accomplishment is a free-form note about work done on a given day.
type Accomplishment struct {
	JobID string    `json:"job_id,omitempty"`
	Date  time.Time `json:"date"`
	Text  string    `json:"text"`
}

// Validate checks the accomplishment's field values.
func (a *Accomplishment) Validate() error {
	if a.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if a.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// Report is a generated report for one period. The rendered file itself
// lives behind the record's RemoteURL once uploaded.
type Report struct {
	PeriodKey   string    `json:"period_key"` // YYYY-MM
	Title       string    `json:"title"`
	Format      string    `json:"format,omitempty"` // pdf, csv
	GeneratedAt time.Time `json:"generated_at"`
}

// Validate checks the report's field values.
func (r *Report) Validate() error {
	if r.PeriodKey == "" {
		return fmt.Errorf("period_key is required")
	}
	if _, err := time.Parse("2006-01", r.PeriodKey); err != nil {
		return fmt.Errorf("period_key must be YYYY-MM (got %q)", r.PeriodKey)
	}
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if r.GeneratedAt.IsZero() {
		return fmt.Errorf("generated_at is required")
	}
	return nil
}

// Profile holds the user's account fields. The profile table contains a
// single row per device since exactly one user is authenticated.
type Profile struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Company     string `json:"company,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// Validate checks the profile's field values.
func (p *Profile) Validate() error {
	if p.DisplayName == "" {
		return fmt.Errorf("display_name is required")
	}
	return nil
}

// MarshalPayload serializes a typed payload after validating it.
func MarshalPayload(v interface{ Validate() error }) (json.RawMessage, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
