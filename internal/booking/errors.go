package booking

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
)

// ValidationError reports the patient fields that failed validation. Fields
// maps a field name to a human-readable problem description.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "booking: invalid patient details"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("booking: invalid patient details (%s)", strings.Join(names, ", "))
}

// SlotUnavailableError means the requested window was taken between the offer
// and the commit attempt. Alternatives carries a fresh set of open slots so
// the caller can re-offer without a second round trip.
type SlotUnavailableError struct {
	Date         time.Time
	Start        calendar.MinuteOfDay
	Alternatives []calendar.CandidateSlot
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("booking: slot %s %s is no longer available",
		calendar.DateKey(e.Date), e.Start)
}
