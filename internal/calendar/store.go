package calendar

import (
	"context"
	"errors"
	"fmt"
)

// ErrConflict is returned by Commit when the candidate overlaps an existing
// scheduled appointment after buffer expansion.
var ErrConflict = errors.New("calendar: slot conflicts with an existing appointment")

// ErrNotFound is returned when no appointment exists for the given id.
var ErrNotFound = errors.New("calendar: appointment not found")

// Store owns committed appointments and the working-hours template. Commit
// must be atomic with respect to concurrent commits for overlapping windows:
// two such commits must never both succeed. Identifiers are assigned
// monotonically per store instance and never reused.
type Store interface {
	// AppointmentsOn returns scheduled appointments for the date, ordered by
	// start time ascending.
	AppointmentsOn(ctx context.Context, date string) ([]Appointment, error)

	// Commit validates the candidate against the current calendar and inserts
	// it, returning the assigned identifier. Overlap (after buffer expansion)
	// returns ErrConflict.
	Commit(ctx context.Context, appt Appointment) (int64, error)

	// Cancel marks the appointment cancelled, freeing its slot. Unknown ids
	// return ErrNotFound.
	Cancel(ctx context.Context, id int64) error

	// Get loads an appointment by id. Unknown ids return ErrNotFound.
	Get(ctx context.Context, id int64) (*Appointment, error)

	// WorkingHours returns the provider's weekly template.
	WorkingHours(ctx context.Context) (WorkingHours, error)
}

// ValidateCandidate checks the structural invariants every committed
// appointment must satisfy, independent of calendar contents.
func ValidateCandidate(appt Appointment) error {
	if !appt.Type.Valid() {
		return fmt.Errorf("calendar: unknown appointment type %q", appt.Type)
	}
	if appt.End <= appt.Start {
		return fmt.Errorf("calendar: end %s not after start %s", appt.End, appt.Start)
	}
	if got, want := int(appt.End-appt.Start), appt.Type.DurationMinutes(); got != want {
		return fmt.Errorf("calendar: %s duration is %dm, expected %dm", appt.Type, got, want)
	}
	return nil
}
