package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

const (
	// DefaultBufferMinutes pads existing appointments on both sides before
	// conflict checks.
	DefaultBufferMinutes = 5

	// DefaultHorizonDays bounds the forward scan when no date is given.
	DefaultHorizonDays = 14

	// DefaultSuggestionCount is how many slots a suggestion query returns.
	DefaultSuggestionCount = 5
)

// TimePreference partitions the day by clock hour.
type TimePreference string

const (
	PreferenceNone      TimePreference = ""
	PreferenceMorning   TimePreference = "morning"   // before 12:00
	PreferenceAfternoon TimePreference = "afternoon" // 12:00-17:00
	PreferenceEvening   TimePreference = "evening"   // 17:00 and later
)

// ParseTimePreference maps free-form input onto a preference. Unrecognized
// values mean "no preference" rather than an error.
func ParseTimePreference(s string) TimePreference {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "morning":
		return PreferenceMorning
	case "afternoon":
		return PreferenceAfternoon
	case "evening":
		return PreferenceEvening
	default:
		return PreferenceNone
	}
}

// Matches reports whether a slot's start hour falls in the preferred window.
func (p TimePreference) Matches(start calendar.MinuteOfDay) bool {
	switch p {
	case PreferenceMorning:
		return start.Hour() < 12
	case PreferenceAfternoon:
		return start.Hour() >= 12 && start.Hour() < 17
	case PreferenceEvening:
		return start.Hour() >= 17
	default:
		return true
	}
}

// ReasonCode explains why a suggestion query came back short.
type ReasonCode string

// ReasonHorizonExhausted means the whole search window was scanned and no
// further slots exist.
const ReasonHorizonExhausted ReasonCode = "HORIZON_EXHAUSTED"

// SuggestResult is the outcome of a SuggestSlots query. Exhausted
// distinguishes "the horizon ran out" from "found fewer than requested but
// the preferred date limited the search".
type SuggestResult struct {
	Slots     []calendar.CandidateSlot
	Exhausted bool
	Reason    ReasonCode
}

// Engine filters generated candidates against booked appointments and
// exposes availability queries. Reads take a consistent snapshot of the
// date's appointments; staleness is resolved by the booking engine's
// revalidation at commit time, not by locking here.
type Engine struct {
	store         calendar.Store
	generator     *Generator
	bufferMinutes int
	horizonDays   int
	logger        *logging.Logger
}

// EngineOption configures the availability engine.
type EngineOption func(*Engine)

// WithBuffer overrides the conflict buffer in minutes.
func WithBuffer(minutes int) EngineOption {
	return func(e *Engine) {
		if minutes >= 0 {
			e.bufferMinutes = minutes
		}
	}
}

// WithHorizon overrides the forward scan window in days.
func WithHorizon(days int) EngineOption {
	return func(e *Engine) {
		if days > 0 {
			e.horizonDays = days
		}
	}
}

// NewEngine creates an availability engine over the store and generator.
func NewEngine(store calendar.Store, generator *Generator, logger *logging.Logger, opts ...EngineOption) *Engine {
	if store == nil {
		panic("schedule: calendar store required")
	}
	if generator == nil {
		panic("schedule: generator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:         store,
		generator:     generator,
		bufferMinutes: DefaultBufferMinutes,
		horizonDays:   DefaultHorizonDays,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAvailability returns the open slots for one date, with existing
// appointments expanded by the buffer on both ends before overlap removal.
func (e *Engine) CheckAvailability(ctx context.Context, date time.Time, apptType calendar.AppointmentType, pref TimePreference) ([]calendar.CandidateSlot, error) {
	if !apptType.Valid() {
		return nil, fmt.Errorf("schedule: unknown appointment type %q", apptType)
	}

	hours, err := e.store.WorkingHours(ctx)
	if err != nil {
		return nil, err
	}

	candidates := e.generator.Generate(hours, date, apptType.DurationMinutes())
	if len(candidates) == 0 {
		return nil, nil
	}

	booked, err := e.store.AppointmentsOn(ctx, calendar.DateKey(date))
	if err != nil {
		return nil, err
	}

	blocked := make([]calendar.Interval, 0, len(booked))
	for _, appt := range booked {
		blocked = append(blocked, appt.Window().Expand(e.bufferMinutes))
	}

	open := candidates[:0]
	for _, slot := range candidates {
		if !pref.Matches(slot.Start) {
			continue
		}
		conflict := false
		for _, b := range blocked {
			if slot.Window().Overlaps(b) {
				conflict = true
				break
			}
		}
		if !conflict {
			open = append(open, slot)
		}
	}
	return open, nil
}

// SuggestRequest parameterizes a slot suggestion query.
type SuggestRequest struct {
	Type          calendar.AppointmentType
	PreferredDate *time.Time
	Preference    TimePreference
	Count         int
}

// SuggestSlots returns up to Count slots. With a preferred date only that
// date is consulted; otherwise the engine scans forward day by day up to the
// horizon, skipping non-working days, accumulating slots in chronological
// order. An empty result carries ReasonHorizonExhausted; the engine never
// substitutes a different appointment type.
func (e *Engine) SuggestSlots(ctx context.Context, req SuggestRequest) (*SuggestResult, error) {
	if req.Count <= 0 {
		req.Count = DefaultSuggestionCount
	}

	if req.PreferredDate != nil {
		slots, err := e.CheckAvailability(ctx, *req.PreferredDate, req.Type, req.Preference)
		if err != nil {
			return nil, err
		}
		if len(slots) > req.Count {
			slots = slots[:req.Count]
		}
		result := &SuggestResult{Slots: slots}
		if len(slots) == 0 {
			result.Exhausted = true
			result.Reason = ReasonHorizonExhausted
		}
		return result, nil
	}

	start := e.generator.Today()
	var collected []calendar.CandidateSlot
	for offset := 0; offset < e.horizonDays; offset++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		day := start.AddDate(0, 0, offset)
		slots, err := e.CheckAvailability(ctx, day, req.Type, req.Preference)
		if err != nil {
			return nil, err
		}
		for _, slot := range slots {
			collected = append(collected, slot)
			if len(collected) == req.Count {
				return &SuggestResult{Slots: collected}, nil
			}
		}
	}

	e.logger.Debug("suggestion horizon exhausted",
		"type", req.Type, "preference", req.Preference, "found", len(collected))
	return &SuggestResult{
		Slots:     collected,
		Exhausted: true,
		Reason:    ReasonHorizonExhausted,
	}, nil
}

// HasSlot reports whether the exact (date, start) window for the type is
// currently open. Used by the booking engine to revalidate stale offers.
func (e *Engine) HasSlot(ctx context.Context, date time.Time, start calendar.MinuteOfDay, apptType calendar.AppointmentType) (bool, error) {
	slots, err := e.CheckAvailability(ctx, date, apptType, PreferenceNone)
	if err != nil {
		return false, err
	}
	for _, slot := range slots {
		if slot.Start == start {
			return true, nil
		}
	}
	return false, nil
}

// BufferMinutes exposes the configured conflict buffer.
func (e *Engine) BufferMinutes() int {
	return e.bufferMinutes
}

// HorizonDays exposes the configured scan window.
func (e *Engine) HorizonDays() int {
	return e.horizonDays
}
