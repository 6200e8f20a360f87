package conversation

import (
	"context"
	"errors"

	"github.com/wolfman30/clinic-scheduling-ai/internal/booking"
	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/knowledge"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

// PromptKind tells the renderer what the next assistant message must do.
// The machine never produces user-facing prose itself.
type PromptKind string

const (
	PromptGreeting         PromptKind = "greeting"
	PromptAskNeeds         PromptKind = "ask_needs"
	PromptOfferSlots       PromptKind = "offer_slots"
	PromptHorizonExhausted PromptKind = "horizon_exhausted"
	PromptAskFields        PromptKind = "ask_fields"
	PromptConfirmSummary   PromptKind = "confirm_summary"
	PromptBooked           PromptKind = "booked"
	PromptSlotTaken        PromptKind = "slot_taken"
	PromptAnswerQuestion   PromptKind = "answer_question"
	PromptRestarted        PromptKind = "restarted"
	PromptClarify          PromptKind = "clarify"
)

// Result is the structured outcome of one turn, handed to the renderer.
type Result struct {
	Phase         Phase
	Draft         Draft
	Prompt        PromptKind
	ResumePrompt  PromptKind
	MissingFields []string
	InvalidFields map[string]string
	OfferedSlots  []calendar.CandidateSlot
	Exhausted     bool
	Answer        string
	Appointment   *calendar.Appointment
}

// Machine advances a session one classified turn at a time. It holds no
// per-session state of its own, so one machine serves every session.
type Machine struct {
	availability *schedule.Engine
	booking      *booking.Engine
	knowledge    knowledge.Retriever
	logger       *logging.Logger
	suggestCount int
}

// MachineOption configures the phase machine.
type MachineOption func(*Machine)

// WithSuggestionCount overrides how many slots each recommendation offers.
func WithSuggestionCount(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.suggestCount = n
		}
	}
}

// NewMachine wires the phase machine to its collaborators.
func NewMachine(availability *schedule.Engine, bookingEngine *booking.Engine, retriever knowledge.Retriever, logger *logging.Logger, opts ...MachineOption) *Machine {
	if availability == nil {
		panic("conversation: availability engine required")
	}
	if bookingEngine == nil {
		panic("conversation: booking engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Machine{
		availability: availability,
		booking:      bookingEngine,
		knowledge:    retriever,
		logger:       logger,
		suggestCount: schedule.DefaultSuggestionCount,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Advance applies one classified turn to the session and returns what to say
// next. The session is mutated in place; callers must only persist it when
// Advance succeeds, so a failed turn can be retried against the prior state.
func (m *Machine) Advance(ctx context.Context, s *Session, intent Intent) (*Result, error) {
	switch intent.Kind {
	case IntentRestart:
		s.Draft = Draft{}
		s.Stack = nil
		s.OfferedSlots = nil
		s.Phase = PhaseUnderstandingNeeds
		return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptRestarted}, nil

	case IntentDigression:
		s.PushFrame()
		answer := m.answerQuestion(ctx, intent.Question)
		res := m.resumeResult(s)
		res.Prompt = PromptAnswerQuestion
		res.Answer = answer
		return res, nil
	}

	// A flow-advancing turn after digressions: restore the interrupted
	// snapshot. Consecutive digressions saved identical frames of the same
	// interruption, so resuming collapses the whole stack.
	if len(s.Stack) > 0 {
		s.PopFrame()
		s.Stack = nil
	}

	switch s.Phase {
	case PhaseGreeting:
		s.Phase = PhaseUnderstandingNeeds
		return m.fromUnderstandingNeeds(ctx, s, intent)
	case PhaseUnderstandingNeeds:
		return m.fromUnderstandingNeeds(ctx, s, intent)
	case PhaseSlotRecommendation:
		return m.fromSlotRecommendation(ctx, s, intent)
	case PhaseCollectingInfo:
		return m.fromCollectingInfo(ctx, s, intent)
	case PhaseConfirming:
		return m.fromConfirming(ctx, s, intent)
	case PhaseCompleted:
		return m.fromCompleted(ctx, s, intent)
	default:
		return nil, errors.New("conversation: unknown phase " + string(s.Phase))
	}
}

func (m *Machine) fromUnderstandingNeeds(ctx context.Context, s *Session, intent Intent) (*Result, error) {
	mergeDraft(&s.Draft, intent)
	if !s.Draft.ReadyForSlots() {
		prompt := PromptAskNeeds
		if intent.Kind == IntentUnclear && !intent.HasDraftFields() {
			prompt = PromptClarify
		}
		return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: prompt}, nil
	}
	return m.recommend(ctx, s)
}

func (m *Machine) fromSlotRecommendation(ctx context.Context, s *Session, intent Intent) (*Result, error) {
	switch intent.Kind {
	case IntentSelectSlot:
		if intent.SlotIndex > 0 {
			if intent.SlotIndex > len(s.OfferedSlots) {
				return m.reoffer(s, PromptClarify), nil
			}
			return m.selectSlot(s, s.OfferedSlots[intent.SlotIndex-1]), nil
		}
		if intent.SlotStart != nil {
			if slot, ok := findSlot(s.OfferedSlots, *intent.SlotStart); ok {
				return m.selectSlot(s, slot), nil
			}
			// A time outside the offered list re-queries around it rather
			// than erroring.
			mergeDraft(&s.Draft, intent)
			return m.recommend(ctx, s)
		}
		return m.reoffer(s, PromptClarify), nil

	case IntentProvideField:
		mergeDraft(&s.Draft, intent)
		return m.recommend(ctx, s)

	default:
		return m.reoffer(s, PromptClarify), nil
	}
}

func (m *Machine) fromCollectingInfo(ctx context.Context, s *Session, intent Intent) (*Result, error) {
	mergeDraft(&s.Draft, intent)
	missing := s.Draft.MissingPatientFields()
	if len(missing) > 0 {
		return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptAskFields, MissingFields: missing}, nil
	}
	s.Phase = PhaseConfirming
	return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptConfirmSummary}, nil
}

func (m *Machine) fromConfirming(ctx context.Context, s *Session, intent Intent) (*Result, error) {
	switch intent.Kind {
	case IntentConfirm:
		return m.commit(ctx, s)

	case IntentReject, IntentProvideField:
		if intent.Kind == IntentReject && intent.RejectSlot {
			// The slot was rejected; patient fields stay as collected.
			s.Draft.Slot = nil
			mergeDraft(&s.Draft, intent)
			s.Phase = PhaseSlotRecommendation
			return m.recommend(ctx, s)
		}
		mergeDraft(&s.Draft, intent)
		missing := s.Draft.MissingPatientFields()
		if len(missing) > 0 {
			s.Phase = PhaseCollectingInfo
			return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptAskFields, MissingFields: missing}, nil
		}
		return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptConfirmSummary}, nil

	default:
		return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptConfirmSummary}, nil
	}
}

func (m *Machine) fromCompleted(ctx context.Context, s *Session, intent Intent) (*Result, error) {
	if intent.HasDraftFields() || intent.Kind == IntentProvideField || intent.Kind == IntentSelectSlot {
		// A new booking in the same session starts from a fresh draft.
		s.Draft = Draft{}
		s.OfferedSlots = nil
		s.Phase = PhaseUnderstandingNeeds
		return m.fromUnderstandingNeeds(ctx, s, intent)
	}
	return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptClarify}, nil
}

func (m *Machine) commit(ctx context.Context, s *Session) (*Result, error) {
	if s.Draft.Slot == nil {
		s.Phase = PhaseSlotRecommendation
		return m.recommend(ctx, s)
	}

	appt, err := m.booking.CreateBooking(ctx, booking.Request{
		Type:    s.Draft.Type,
		Date:    s.Draft.Slot.Date,
		Start:   s.Draft.Slot.Start,
		Patient: s.Draft.Patient(),
	})
	if err == nil {
		s.Phase = PhaseCompleted
		s.BookingID = appt.ID
		s.BookingCode = appt.Code
		return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptBooked, Appointment: appt}, nil
	}

	var slotErr *booking.SlotUnavailableError
	if errors.As(err, &slotErr) {
		s.Draft.Slot = nil
		s.Phase = PhaseSlotRecommendation
		s.OfferedSlots = slotErr.Alternatives
		return &Result{
			Phase:        s.Phase,
			Draft:        s.Draft,
			Prompt:       PromptSlotTaken,
			OfferedSlots: slotErr.Alternatives,
			Exhausted:    len(slotErr.Alternatives) == 0,
		}, nil
	}

	var verr *booking.ValidationError
	if errors.As(err, &verr) {
		clearInvalid(&s.Draft, verr.Fields)
		s.Phase = PhaseCollectingInfo
		return &Result{
			Phase:         s.Phase,
			Draft:         s.Draft,
			Prompt:        PromptAskFields,
			MissingFields: s.Draft.MissingPatientFields(),
			InvalidFields: verr.Fields,
		}, nil
	}

	return nil, err
}

func (m *Machine) recommend(ctx context.Context, s *Session) (*Result, error) {
	result, err := m.availability.SuggestSlots(ctx, schedule.SuggestRequest{
		Type:          s.Draft.Type,
		PreferredDate: s.Draft.PreferredDate,
		Preference:    s.Draft.Preference,
		Count:         m.suggestCount,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Slots) == 0 {
		// Nothing in the window; hold position so the user can widen the
		// search with a different date or preference.
		return &Result{
			Phase:     s.Phase,
			Draft:     s.Draft,
			Prompt:    PromptHorizonExhausted,
			Exhausted: true,
		}, nil
	}
	s.OfferedSlots = result.Slots
	s.Phase = PhaseSlotRecommendation
	return &Result{
		Phase:        s.Phase,
		Draft:        s.Draft,
		Prompt:       PromptOfferSlots,
		OfferedSlots: result.Slots,
	}, nil
}

func (m *Machine) selectSlot(s *Session, slot calendar.CandidateSlot) *Result {
	chosen := slot
	s.Draft.Slot = &chosen
	missing := s.Draft.MissingPatientFields()
	if len(missing) == 0 {
		s.Phase = PhaseConfirming
		return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptConfirmSummary}
	}
	s.Phase = PhaseCollectingInfo
	return &Result{Phase: s.Phase, Draft: s.Draft, Prompt: PromptAskFields, MissingFields: missing}
}

func (m *Machine) reoffer(s *Session, prompt PromptKind) *Result {
	return &Result{
		Phase:        s.Phase,
		Draft:        s.Draft,
		Prompt:       prompt,
		OfferedSlots: s.OfferedSlots,
	}
}

// resumeResult rebuilds the "where we left off" payload after a digression,
// so the renderer can continue without re-asking anything already known.
func (m *Machine) resumeResult(s *Session) *Result {
	res := &Result{Phase: s.Phase, Draft: s.Draft}
	switch s.Phase {
	case PhaseGreeting, PhaseUnderstandingNeeds:
		res.ResumePrompt = PromptAskNeeds
	case PhaseSlotRecommendation:
		res.ResumePrompt = PromptOfferSlots
		res.OfferedSlots = s.OfferedSlots
	case PhaseCollectingInfo:
		res.ResumePrompt = PromptAskFields
		res.MissingFields = s.Draft.MissingPatientFields()
	case PhaseConfirming:
		res.ResumePrompt = PromptConfirmSummary
	default:
		res.ResumePrompt = PromptClarify
	}
	return res
}

func (m *Machine) answerQuestion(ctx context.Context, question string) string {
	if m.knowledge == nil {
		return knowledge.FallbackAnswer
	}
	answer, err := m.knowledge.Lookup(ctx, question)
	if err != nil {
		m.logger.Warn("retrieval collaborator failed", "error", err)
		return knowledge.FallbackAnswer
	}
	return answer.Text
}

func mergeDraft(d *Draft, intent Intent) {
	if intent.Type.Valid() {
		d.Type = intent.Type
	}
	if intent.Preference != schedule.PreferenceNone {
		d.Preference = intent.Preference
		d.PreferenceWaived = false
	}
	if intent.PreferenceWaived {
		d.PreferenceWaived = true
	}
	if intent.PreferredDate != nil {
		date := *intent.PreferredDate
		d.PreferredDate = &date
	}
	if intent.Name != "" {
		d.Name = intent.Name
	}
	if intent.Email != "" {
		d.Email = intent.Email
	}
	if intent.Phone != "" {
		d.Phone = intent.Phone
	}
	if intent.Reason != "" {
		d.Reason = intent.Reason
	}
}

func clearInvalid(d *Draft, fields map[string]string) {
	for name := range fields {
		switch name {
		case "name":
			d.Name = ""
		case "email":
			d.Email = ""
		case "phone":
			d.Phone = ""
		case "reason":
			d.Reason = ""
		case "contact":
			d.Email, d.Phone = "", ""
		}
	}
}

func findSlot(slots []calendar.CandidateSlot, start calendar.MinuteOfDay) (calendar.CandidateSlot, bool) {
	for _, slot := range slots {
		if slot.Start == start {
			return slot, true
		}
	}
	return calendar.CandidateSlot{}, false
}
