// Package schedule computes bookable time slots from the provider's
// working-hours template and the current appointment set. Candidates are
// recomputed on every query; nothing here is cached between turns.
package schedule

import (
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
)

// DefaultGranularityMinutes is the step between candidate slot starts.
const DefaultGranularityMinutes = 15

// Generator enumerates candidate windows from the working-hours template.
// "Now" is evaluated in the provider's fixed timezone so past slots are
// never offered.
type Generator struct {
	granularity int
	location    *time.Location
	now         func() time.Time
}

// GeneratorOption configures the generator.
type GeneratorOption func(*Generator)

// WithGranularity overrides the slot step in minutes.
func WithGranularity(minutes int) GeneratorOption {
	return func(g *Generator) {
		if minutes > 0 {
			g.granularity = minutes
		}
	}
}

// WithNowFunc overrides the clock, used in tests.
func WithNowFunc(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator creates a generator for the provider's timezone.
func NewGenerator(location *time.Location, opts ...GeneratorOption) *Generator {
	if location == nil {
		location = time.UTC
	}
	g := &Generator{
		granularity: DefaultGranularityMinutes,
		location:    location,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate steps through the working interval for the date's weekday and
// emits every [start, start+duration) window that fits entirely inside
// working hours, clears the break, and has not already passed. Slots are
// ordered by start time ascending. A non-working day yields nothing.
func (g *Generator) Generate(hours calendar.WorkingHours, date time.Time, durationMinutes int) []calendar.CandidateSlot {
	if durationMinutes <= 0 {
		return nil
	}

	now := g.now().In(g.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.location)
	slotDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, g.location)
	if slotDay.Before(today) {
		return nil
	}

	day, ok := hours.On(slotDay)
	if !ok {
		return nil
	}

	var earliest calendar.MinuteOfDay
	if slotDay.Equal(today) {
		earliest = calendar.MinuteOfDay(now.Hour()*60 + now.Minute())
	}

	working := calendar.Interval{Start: day.Start, End: day.End}

	var slots []calendar.CandidateSlot
	for start := day.Start; start+calendar.MinuteOfDay(durationMinutes) <= day.End; start += calendar.MinuteOfDay(g.granularity) {
		window := calendar.Interval{Start: start, End: start + calendar.MinuteOfDay(durationMinutes)}
		if start < earliest {
			continue
		}
		if !working.Contains(window) {
			continue
		}
		if day.Break != nil && window.Overlaps(*day.Break) {
			continue
		}
		slots = append(slots, calendar.CandidateSlot{
			Date:  slotDay,
			Start: window.Start,
			End:   window.End,
		})
	}
	return slots
}

// Location returns the provider's timezone.
func (g *Generator) Location() *time.Location {
	return g.location
}

// Today returns midnight of the current day in the provider's timezone.
func (g *Generator) Today() time.Time {
	now := g.now().In(g.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.location)
}
