// Package calendar holds the provider's schedule domain model: the weekly
// working-hours template and the set of booked appointments. Logic beyond
// storage and lookup lives in the schedule and booking packages.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DateFormat is the wire format for appointment dates.
const DateFormat = "2006-01-02"

// ClockFormat is the wire format for times of day.
const ClockFormat = "15:04"

// MinuteOfDay is a clock time expressed as minutes since midnight.
type MinuteOfDay int

// ParseClock parses an "HH:MM" string into a MinuteOfDay.
func ParseClock(s string) (MinuteOfDay, error) {
	t, err := time.Parse(ClockFormat, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("calendar: invalid clock time %q: %w", s, err)
	}
	return MinuteOfDay(t.Hour()*60 + t.Minute()), nil
}

// String renders the minute as "HH:MM".
func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Hour returns the clock hour component.
func (m MinuteOfDay) Hour() int {
	return int(m) / 60
}

// Interval is a half-open [Start, End) window within a single day.
type Interval struct {
	Start MinuteOfDay `json:"start"`
	End   MinuteOfDay `json:"end"`
}

// Overlaps reports whether two half-open intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && other.Start < i.End
}

// Contains reports whether other lies entirely within i.
func (i Interval) Contains(other Interval) bool {
	return i.Start <= other.Start && other.End <= i.End
}

// Expand widens the interval by pad minutes on both ends, clamped to the day.
func (i Interval) Expand(pad int) Interval {
	start := int(i.Start) - pad
	if start < 0 {
		start = 0
	}
	end := int(i.End) + pad
	if end > 24*60 {
		end = 24 * 60
	}
	return Interval{Start: MinuteOfDay(start), End: MinuteOfDay(end)}
}

// DaySchedule describes the provider's hours for one weekday. Break is
// optional (e.g. lunch); when present it must lie strictly inside the
// working interval.
type DaySchedule struct {
	Start MinuteOfDay `json:"start"`
	End   MinuteOfDay `json:"end"`
	Break *Interval   `json:"break,omitempty"`
}

// WorkingHours maps weekdays to working intervals. An absent weekday means
// the provider does not work that day.
type WorkingHours map[time.Weekday]DaySchedule

// Validate checks the start < break.start < break.end < end invariant for
// every defined day.
func (wh WorkingHours) Validate() error {
	for day, ds := range wh {
		if ds.Start >= ds.End {
			return fmt.Errorf("calendar: %s: start %s not before end %s", day, ds.Start, ds.End)
		}
		if ds.Break != nil {
			b := *ds.Break
			if !(ds.Start < b.Start && b.Start < b.End && b.End < ds.End) {
				return fmt.Errorf("calendar: %s: break %s-%s must lie inside %s-%s",
					day, b.Start, b.End, ds.Start, ds.End)
			}
		}
	}
	return nil
}

// On returns the schedule for the given date's weekday, if any.
func (wh WorkingHours) On(date time.Time) (DaySchedule, bool) {
	ds, ok := wh[date.Weekday()]
	return ds, ok
}

// DefaultWorkingHours is the out-of-the-box provider template: weekdays
// 09:00-17:00 with a 12:00-13:00 lunch break.
func DefaultWorkingHours() WorkingHours {
	lunch := Interval{Start: 12 * 60, End: 13 * 60}
	day := DaySchedule{Start: 9 * 60, End: 17 * 60, Break: &lunch}
	return WorkingHours{
		time.Monday:    day,
		time.Tuesday:   day,
		time.Wednesday: day,
		time.Thursday:  day,
		time.Friday:    day,
	}
}

// AppointmentType identifies the kind of visit being booked. Each type has a
// fixed canonical duration.
type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "followup"
	TypePhysical     AppointmentType = "physical"
	TypeSpecialist   AppointmentType = "specialist"
)

var appointmentDurations = map[AppointmentType]int{
	TypeConsultation: 30,
	TypeFollowUp:     15,
	TypePhysical:     45,
	TypeSpecialist:   60,
}

// ParseAppointmentType normalizes a free-form type name.
func ParseAppointmentType(s string) (AppointmentType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	t := AppointmentType(normalized)
	if _, ok := appointmentDurations[t]; !ok {
		return "", fmt.Errorf("calendar: unknown appointment type %q", s)
	}
	return t, nil
}

// Valid reports whether the type is one of the known visit kinds.
func (t AppointmentType) Valid() bool {
	_, ok := appointmentDurations[t]
	return ok
}

// DurationMinutes returns the canonical duration for the type.
func (t AppointmentType) DurationMinutes() int {
	return appointmentDurations[t]
}

// AppointmentStatus tracks the lifecycle of a committed appointment.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Patient carries the contact fields collected before booking.
type Patient struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

// Appointment is a committed reservation in the provider's calendar.
type Appointment struct {
	ID        int64             `json:"id"`
	Type      AppointmentType   `json:"type"`
	Date      time.Time         `json:"date"` // midnight in the provider's timezone
	Start     MinuteOfDay       `json:"start"`
	End       MinuteOfDay       `json:"end"`
	Patient   Patient           `json:"patient"`
	Status    AppointmentStatus `json:"status"`
	Code      string            `json:"code"` // human-displayable confirmation code
	CreatedAt time.Time         `json:"created_at"`
}

// Window returns the appointment's time interval.
func (a *Appointment) Window() Interval {
	return Interval{Start: a.Start, End: a.End}
}

// IsScheduled reports whether the appointment still occupies its slot.
func (a *Appointment) IsScheduled() bool {
	return a.Status == StatusScheduled
}

// CandidateSlot is a bookable (date, start, end) window. Candidates are
// derived, never persisted, and always recomputed at query time so a stale
// offer can never mask a conflict.
type CandidateSlot struct {
	Date  time.Time   `json:"date"`
	Start MinuteOfDay `json:"start"`
	End   MinuteOfDay `json:"end"`
}

// Window returns the candidate's time interval.
func (s CandidateSlot) Window() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// DateKey renders the slot date in DateFormat, used as a storage key.
func DateKey(date time.Time) string {
	return date.Format(DateFormat)
}
