package conversation

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduling-ai/internal/booking"
	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/knowledge"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
)

// Monday 2025-06-02 at 07:00, before the working day opens.
func machineNow() time.Time {
	return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
}

type stubRetriever struct {
	answer knowledge.Answer
	err    error
}

func (s stubRetriever) Lookup(context.Context, string) (knowledge.Answer, error) {
	return s.answer, s.err
}

func newTestMachine(t *testing.T, retriever knowledge.Retriever, opts ...MachineOption) (*Machine, *calendar.MemoryStore) {
	t.Helper()
	store := calendar.NewMemoryStore(nil, 0)
	generator := schedule.NewGenerator(time.UTC, schedule.WithNowFunc(machineNow))
	availability := schedule.NewEngine(store, generator, nil)
	bookingEngine := booking.NewEngine(store, availability, nil, booking.WithNowFunc(machineNow))
	opts = append([]MachineOption{WithSuggestionCount(3)}, opts...)
	return NewMachine(availability, bookingEngine, retriever, nil, opts...), store
}

func advance(t *testing.T, m *Machine, s *Session, intent Intent) *Result {
	t.Helper()
	res, err := m.Advance(context.Background(), s, intent)
	require.NoError(t, err)
	return res
}

func needsIntent() Intent {
	return Intent{Kind: IntentProvideField, Type: calendar.TypeConsultation, PreferenceWaived: true}
}

func patientIntent() Intent {
	return Intent{
		Kind:   IntentProvideField,
		Name:   "Jordan Fields",
		Email:  "jordan@example.com",
		Reason: "persistent headaches",
	}
}

func TestAdvanceHappyPath(t *testing.T) {
	m, store := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())

	res := advance(t, m, s, needsIntent())
	assert.Equal(t, PhaseSlotRecommendation, res.Phase)
	assert.Equal(t, PromptOfferSlots, res.Prompt)
	require.Len(t, res.OfferedSlots, 3)
	assert.Equal(t, res.OfferedSlots, s.OfferedSlots)

	res = advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 1})
	assert.Equal(t, PhaseCollectingInfo, res.Phase)
	assert.Equal(t, PromptAskFields, res.Prompt)
	assert.Equal(t, []string{"name", "contact", "reason"}, res.MissingFields)
	require.NotNil(t, s.Draft.Slot)

	res = advance(t, m, s, patientIntent())
	assert.Equal(t, PhaseConfirming, res.Phase)
	assert.Equal(t, PromptConfirmSummary, res.Prompt)

	res = advance(t, m, s, Intent{Kind: IntentConfirm})
	assert.Equal(t, PhaseCompleted, res.Phase)
	assert.Equal(t, PromptBooked, res.Prompt)
	require.NotNil(t, res.Appointment)
	assert.Regexp(t, regexp.MustCompile(`^APPT-\d{8}-[0-9A-F]{6}$`), s.BookingCode)

	stored, err := store.Get(context.Background(), s.BookingID)
	require.NoError(t, err)
	assert.Equal(t, "Jordan Fields", stored.Patient.Name)
}

func TestAdvanceAsksBeforeRecommending(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())

	// Type alone is not enough; the machine asks for a time preference.
	res := advance(t, m, s, Intent{Kind: IntentProvideField, Type: calendar.TypeFollowUp})
	assert.Equal(t, PhaseUnderstandingNeeds, res.Phase)
	assert.Equal(t, PromptAskNeeds, res.Prompt)

	// An unclear turn with nothing extracted asks for clarification instead.
	res = advance(t, m, s, Intent{Kind: IntentUnclear})
	assert.Equal(t, PromptClarify, res.Prompt)

	res = advance(t, m, s, Intent{Kind: IntentProvideField, Preference: schedule.PreferenceMorning})
	assert.Equal(t, PhaseSlotRecommendation, res.Phase)
	for _, slot := range res.OfferedSlots {
		assert.Less(t, slot.Start.Hour(), 12)
	}
}

func TestAdvanceDigressionAndResume(t *testing.T) {
	m, _ := newTestMachine(t, stubRetriever{answer: knowledge.Answer{Text: "We validate parking for two hours.", Matched: true}})
	s := NewSession("s1", machineNow())

	advance(t, m, s, needsIntent())
	advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 1})
	advance(t, m, s, Intent{Kind: IntentProvideField, Name: "Jordan Fields"})

	res := advance(t, m, s, Intent{Kind: IntentDigression, Question: "do you validate parking?"})
	assert.Equal(t, PromptAnswerQuestion, res.Prompt)
	assert.Equal(t, "We validate parking for two hours.", res.Answer)
	assert.Equal(t, PromptAskFields, res.ResumePrompt)
	assert.Equal(t, PhaseCollectingInfo, res.Phase)
	// Already-collected fields are not re-asked after the digression.
	assert.Equal(t, []string{"contact", "reason"}, res.MissingFields)
	assert.Len(t, s.Stack, 1)

	// Another question stacks another frame of the same interruption.
	advance(t, m, s, Intent{Kind: IntentDigression, Question: "where are you located?"})
	assert.Len(t, s.Stack, 2)

	// The next flow turn resumes exactly where the flow was interrupted.
	res = advance(t, m, s, Intent{Kind: IntentProvideField, Email: "jordan@example.com", Reason: "headaches"})
	assert.Empty(t, s.Stack)
	assert.Equal(t, PhaseConfirming, res.Phase)
	assert.Equal(t, "Jordan Fields", s.Draft.Name)
}

func TestAdvanceDigressionRetrievalFailure(t *testing.T) {
	m, _ := newTestMachine(t, stubRetriever{err: context.DeadlineExceeded})
	s := NewSession("s1", machineNow())
	advance(t, m, s, needsIntent())

	res := advance(t, m, s, Intent{Kind: IntentDigression, Question: "do you take my insurance?"})
	assert.Equal(t, knowledge.FallbackAnswer, res.Answer)
	assert.Equal(t, PromptOfferSlots, res.ResumePrompt)
}

func TestAdvanceRestartClearsEverything(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())
	advance(t, m, s, needsIntent())
	advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 2})
	advance(t, m, s, patientIntent())
	advance(t, m, s, Intent{Kind: IntentDigression, Question: "parking?"})

	res := advance(t, m, s, Intent{Kind: IntentRestart})
	assert.Equal(t, PhaseUnderstandingNeeds, res.Phase)
	assert.Equal(t, PromptRestarted, res.Prompt)
	assert.Equal(t, Draft{}, s.Draft)
	assert.Empty(t, s.Stack)
	assert.Empty(t, s.OfferedSlots)
}

func TestAdvanceConfirmingRejectSlot(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())
	advance(t, m, s, needsIntent())
	advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 1})
	advance(t, m, s, patientIntent())
	require.Equal(t, PhaseConfirming, s.Phase)

	res := advance(t, m, s, Intent{Kind: IntentReject, RejectSlot: true})
	assert.Equal(t, PhaseSlotRecommendation, res.Phase)
	assert.Equal(t, PromptOfferSlots, res.Prompt)
	assert.Nil(t, s.Draft.Slot)
	// Patient details survive a slot rejection.
	assert.Equal(t, "Jordan Fields", s.Draft.Name)
	assert.Equal(t, "jordan@example.com", s.Draft.Email)
}

func TestAdvanceConfirmingFieldCorrection(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())
	advance(t, m, s, needsIntent())
	advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 1})
	advance(t, m, s, patientIntent())

	res := advance(t, m, s, Intent{Kind: IntentReject, Email: "jordan@clinic.test"})
	assert.Equal(t, PhaseConfirming, res.Phase)
	assert.Equal(t, PromptConfirmSummary, res.Prompt)
	assert.Equal(t, "jordan@clinic.test", s.Draft.Email)
	require.NotNil(t, s.Draft.Slot)
}

func TestAdvanceSlotTakenOnConfirm(t *testing.T) {
	m, store := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())
	advance(t, m, s, needsIntent())
	advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 1})
	advance(t, m, s, patientIntent())

	// Someone else takes the chosen slot before the confirmation lands.
	chosen := *s.Draft.Slot
	_, err := store.Commit(context.Background(), calendar.Appointment{
		Type:    calendar.TypeConsultation,
		Date:    chosen.Date,
		Start:   chosen.Start,
		End:     chosen.End,
		Patient: calendar.Patient{Name: "Riley Morgan", Phone: "5551234567", Reason: "intake"},
		Code:    "APPT-20250602-AAAAAA",
	})
	require.NoError(t, err)

	res := advance(t, m, s, Intent{Kind: IntentConfirm})
	assert.Equal(t, PromptSlotTaken, res.Prompt)
	assert.Equal(t, PhaseSlotRecommendation, res.Phase)
	assert.Nil(t, s.Draft.Slot)
	require.NotEmpty(t, res.OfferedSlots)
	for _, alt := range res.OfferedSlots {
		if calendar.DateKey(alt.Date) == calendar.DateKey(chosen.Date) {
			assert.False(t, alt.Window().Overlaps(chosen.Window()))
		}
	}

	// Picking an alternative still completes the booking.
	res = advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 1})
	assert.Equal(t, PhaseConfirming, res.Phase)
	res = advance(t, m, s, Intent{Kind: IntentConfirm})
	assert.Equal(t, PhaseCompleted, res.Phase)
}

func TestAdvanceHorizonExhaustedHoldsPhase(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())

	// Sunday is outside working hours, so the preferred date yields nothing.
	sunday := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	intent := needsIntent()
	intent.PreferredDate = &sunday

	res := advance(t, m, s, intent)
	assert.Equal(t, PromptHorizonExhausted, res.Prompt)
	assert.True(t, res.Exhausted)
	assert.Equal(t, PhaseUnderstandingNeeds, res.Phase)

	// Widening the search recovers.
	res = advance(t, m, s, Intent{Kind: IntentProvideField, PreferredDate: timePtr(time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC))})
	assert.Equal(t, PhaseSlotRecommendation, res.Phase)
	assert.NotEmpty(t, res.OfferedSlots)
}

func TestAdvanceOutOfListTimeRequeries(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())
	advance(t, m, s, needsIntent())

	// 16:00 is open but outside the three offered morning-first slots.
	start := calendar.MinuteOfDay(16 * 60)
	res := advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotStart: &start, Preference: schedule.PreferenceAfternoon})
	assert.Equal(t, PhaseSlotRecommendation, res.Phase)
	assert.Equal(t, PromptOfferSlots, res.Prompt)
	for _, slot := range res.OfferedSlots {
		assert.GreaterOrEqual(t, slot.Start.Hour(), 12)
	}
}

func TestAdvanceSelectionOutOfRange(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())
	advance(t, m, s, needsIntent())
	offered := append([]calendar.CandidateSlot(nil), s.OfferedSlots...)

	res := advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 9})
	assert.Equal(t, PromptClarify, res.Prompt)
	assert.Equal(t, PhaseSlotRecommendation, res.Phase)
	assert.Equal(t, offered, res.OfferedSlots)
	assert.Nil(t, s.Draft.Slot)
}

func TestAdvanceCompletedStartsFreshBooking(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	s := NewSession("s1", machineNow())
	advance(t, m, s, needsIntent())
	advance(t, m, s, Intent{Kind: IntentSelectSlot, SlotIndex: 1})
	advance(t, m, s, patientIntent())
	advance(t, m, s, Intent{Kind: IntentConfirm})
	require.Equal(t, PhaseCompleted, s.Phase)
	firstCode := s.BookingCode

	// Small talk in the completed phase goes nowhere.
	res := advance(t, m, s, Intent{Kind: IntentUnclear})
	assert.Equal(t, PhaseCompleted, res.Phase)
	assert.Equal(t, PromptClarify, res.Prompt)

	// A new booking intent starts over with an empty draft.
	res = advance(t, m, s, Intent{Kind: IntentProvideField, Type: calendar.TypeFollowUp, PreferenceWaived: true})
	assert.Equal(t, PhaseSlotRecommendation, res.Phase)
	assert.Empty(t, s.Draft.Name)
	assert.Equal(t, calendar.TypeFollowUp, s.Draft.Type)
	assert.Equal(t, firstCode, s.BookingCode)
}

func timePtr(t time.Time) *time.Time { return &t }
