// Package reports computes report-period status.
//
// Whether a monthly period is "generated" or still "pending" is derived
// on every load from today's date and the locally cached report records.
// It is deliberately never persisted: persisting it would let the derived
// flag drift from the history it summarizes.
package reports

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shiftbeat/shiftbeat/internal/schema"
)

// Status of one report period.
type Status string

const (
	// StatusGenerated means a report exists for the period.
	StatusGenerated Status = "generated"
	// StatusPending means the period has closed without a report.
	StatusPending Status = "pending"
)

// Period is one monthly reporting window.
type Period struct {
	// Key is the period identifier, YYYY-MM.
	Key string
	// Start is the first instant of the month (UTC).
	Start time.Time
	// End is the first instant of the following month (UTC).
	End time.Time
}

// MonthKey returns the period key for the month containing t.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// periodFor builds the Period for the month containing t.
func periodFor(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Key:   start.Format("2006-01"),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// PeriodsBetween returns every monthly period from the month containing
// from through the month containing to, oldest first.
func PeriodsBetween(from, to time.Time) []Period {
	if to.Before(from) {
		return nil
	}

	var periods []Period
	p := periodFor(from)
	last := periodFor(to)
	for {
		periods = append(periods, p)
		if p.Key == last.Key {
			break
		}
		p = periodFor(p.End)
	}
	return periods
}

// GeneratedKeys extracts the period keys covered by the given report
// records. Records whose payload cannot be parsed are skipped with an
// error only if nothing could be parsed at all.
func GeneratedKeys(recs []*schema.Record) (map[string]bool, error) {
	keys := make(map[string]bool)
	var lastErr error

	for _, rec := range recs {
		var rep schema.Report
		if err := json.Unmarshal(rec.Payload, &rep); err != nil {
			lastErr = fmt.Errorf("failed to parse report %s: %w", rec.ID, err)
			continue
		}
		if rep.PeriodKey != "" {
			keys[rep.PeriodKey] = true
		}
	}

	if len(keys) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return keys, nil
}

// StatusOf classifies one period against the generated-report history.
// An ungenerated period is pending whether it has closed or is still
// open; PendingPeriods is the surface that excludes the open month.
func StatusOf(p Period, generated map[string]bool) Status {
	if generated[p.Key] {
		return StatusGenerated
	}
	return StatusPending
}

// PendingPeriods returns closed periods with no generated report, from
// the month containing since up to but not including the current month.
// This is the set a reminder surface would nag about.
func PendingPeriods(today, since time.Time, generated map[string]bool) []Period {
	current := MonthKey(today)

	var pending []Period
	for _, p := range PeriodsBetween(since, today) {
		if p.Key == current {
			// Period still open; nothing to generate yet.
			continue
		}
		if !generated[p.Key] {
			pending = append(pending, p)
		}
	}
	return pending
}
