package conversation

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
)

// IntentKind is the classified purpose of one user turn.
type IntentKind string

const (
	IntentProvideField IntentKind = "provide_field"
	IntentSelectSlot   IntentKind = "select_slot"
	IntentConfirm      IntentKind = "confirm"
	IntentReject       IntentKind = "reject"
	IntentDigression   IntentKind = "digression"
	IntentRestart      IntentKind = "restart"
	IntentUnclear      IntentKind = "unclear"
)

// Intent is the structured reading of a turn. Beyond the kind it carries
// whatever draft fields the turn supplied, so one message like "a consultation
// some morning next week" advances several fields at once.
type Intent struct {
	Kind IntentKind

	Type             calendar.AppointmentType
	Preference       schedule.TimePreference
	PreferenceWaived bool
	PreferredDate    *time.Time
	Name             string
	Email            string
	Phone            string
	Reason           string

	// Slot selection: a 1-based index into the offered list, or an explicit
	// clock time when the user named one instead.
	SlotIndex int
	SlotStart *calendar.MinuteOfDay

	// RejectSlot marks a rejection aimed at the chosen slot rather than a
	// patient field.
	RejectSlot bool

	// Question holds the digression text verbatim.
	Question string
}

// HasDraftFields reports whether the intent carries anything to merge into
// the draft.
func (i Intent) HasDraftFields() bool {
	return i.Type.Valid() ||
		i.Preference != schedule.PreferenceNone ||
		i.PreferenceWaived ||
		i.PreferredDate != nil ||
		i.Name != "" || i.Email != "" || i.Phone != "" || i.Reason != ""
}

// IntentClassifier maps a free-text turn onto a structured intent, given the
// session's current position. Implementations must not mutate the draft.
type IntentClassifier interface {
	Classify(ctx context.Context, turn string, phase Phase, draft Draft) (Intent, error)
}
