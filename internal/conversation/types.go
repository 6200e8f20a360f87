package conversation

import (
	"errors"
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
)

// Phase is the conversation's position in the booking flow.
type Phase string

const (
	PhaseGreeting           Phase = "greeting"
	PhaseUnderstandingNeeds Phase = "understanding_needs"
	PhaseSlotRecommendation Phase = "slot_recommendation"
	PhaseCollectingInfo     Phase = "collecting_info"
	PhaseConfirming         Phase = "confirming"
	PhaseCompleted          Phase = "completed"
)

// ErrSessionNotFound indicates an unknown session ID.
var ErrSessionNotFound = errors.New("conversation: session not found")

// Turn is one exchange entry in the session transcript.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Draft is the in-progress booking under construction. Every field is
// optional until filled; the phase machine only advances when the fields the
// next phase needs are present.
type Draft struct {
	Type             calendar.AppointmentType `json:"type,omitempty"`
	Preference       schedule.TimePreference  `json:"preference,omitempty"`
	PreferenceWaived bool                     `json:"preference_waived,omitempty"`
	PreferredDate    *time.Time               `json:"preferred_date,omitempty"`
	Slot             *calendar.CandidateSlot  `json:"slot,omitempty"`
	Name             string                   `json:"name,omitempty"`
	Email            string                   `json:"email,omitempty"`
	Phone            string                   `json:"phone,omitempty"`
	Reason           string                   `json:"reason,omitempty"`
}

// ReadyForSlots reports whether enough is known to recommend slots: the
// appointment type plus either a time preference, an explicit waiver, or a
// concrete preferred date.
func (d Draft) ReadyForSlots() bool {
	if !d.Type.Valid() {
		return false
	}
	return d.Preference != schedule.PreferenceNone || d.PreferenceWaived || d.PreferredDate != nil
}

// MissingPatientFields lists what still has to be collected before the
// booking can be confirmed. "contact" means neither email nor phone is known.
func (d Draft) MissingPatientFields() []string {
	var missing []string
	if d.Name == "" {
		missing = append(missing, "name")
	}
	if d.Email == "" && d.Phone == "" {
		missing = append(missing, "contact")
	}
	if d.Reason == "" {
		missing = append(missing, "reason")
	}
	return missing
}

// Patient flattens the collected fields for the booking engine.
func (d Draft) Patient() calendar.Patient {
	return calendar.Patient{
		Name:   d.Name,
		Email:  d.Email,
		Phone:  d.Phone,
		Reason: d.Reason,
	}
}

// Frame is a saved (phase, draft) snapshot pushed when a digression
// interrupts the flow and restored when it resumes.
type Frame struct {
	Phase Phase `json:"phase"`
	Draft Draft `json:"draft"`
}

// Session is the per-user conversation state. Turns for one session are
// processed strictly in order; the service layer enforces that.
type Session struct {
	ID           string                   `json:"id"`
	Phase        Phase                    `json:"phase"`
	Draft        Draft                    `json:"draft"`
	Stack        []Frame                  `json:"stack,omitempty"`
	Turns        []Turn                   `json:"turns,omitempty"`
	OfferedSlots []calendar.CandidateSlot `json:"offered_slots,omitempty"`
	BookingID    int64                    `json:"booking_id,omitempty"`
	BookingCode  string                   `json:"booking_code,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// NewSession starts a session in the greeting phase.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Phase:     PhaseGreeting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PushFrame saves the current phase and draft before a digression.
func (s *Session) PushFrame() {
	s.Stack = append(s.Stack, Frame{Phase: s.Phase, Draft: s.Draft})
}

// PopFrame restores the most recently saved snapshot. Returns false when no
// digression is pending.
func (s *Session) PopFrame() bool {
	if len(s.Stack) == 0 {
		return false
	}
	top := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	s.Phase = top.Phase
	s.Draft = top.Draft
	return true
}

// AppendTurn records one transcript entry.
func (s *Session) AppendTurn(role, content string, at time.Time) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, At: at})
	s.UpdatedAt = at
}
