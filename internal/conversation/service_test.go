package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduling-ai/internal/knowledge"
)

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string, Phase, Draft) (Intent, error) {
	return Intent{}, errors.New("model unavailable")
}

func newTestConversationEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	machine, _ := newTestMachine(t, stubRetriever{answer: knowledge.Answer{Text: "We're at 450 Harbor Medical Plaza.", Matched: true}})
	classifier := NewRuleClassifier(nil, WithClassifierNowFunc(machineNow))
	opts = append([]EngineOption{WithNowFunc(machineNow)}, opts...)
	return NewEngine(machine, classifier, NewTemplateRenderer("Harbor Clinic"), NewMemorySessionStore(), nil, opts...)
}

func mustProcess(t *testing.T, e *Engine, sessionID, message string) *Response {
	t.Helper()
	resp, err := e.ProcessMessage(context.Background(), MessageRequest{SessionID: sessionID, Message: message})
	require.NoError(t, err)
	return resp
}

func TestStartConversation(t *testing.T) {
	e := newTestConversationEngine(t)

	resp, err := e.StartConversation(context.Background(), StartRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, PhaseGreeting, resp.Phase)
	assert.Contains(t, resp.Reply, "Harbor Clinic")

	turns, err := e.History(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, RoleAssistant, turns[0].Role)
}

func TestStartConversationKeepsClientID(t *testing.T) {
	e := newTestConversationEngine(t)
	resp, err := e.StartConversation(context.Background(), StartRequest{SessionID: "sms-15551234567"})
	require.NoError(t, err)
	assert.Equal(t, "sms-15551234567", resp.SessionID)
}

func TestProcessMessageRequiresSessionID(t *testing.T) {
	e := newTestConversationEngine(t)
	_, err := e.ProcessMessage(context.Background(), MessageRequest{Message: "hi"})
	assert.Error(t, err)
}

func TestProcessMessageFullBookingFlow(t *testing.T) {
	e := newTestConversationEngine(t)
	ctx := context.Background()

	start, err := e.StartConversation(ctx, StartRequest{SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, PhaseGreeting, start.Phase)

	resp := mustProcess(t, e, "s1", "I'd like to book a consultation, anytime works")
	assert.Equal(t, PhaseSlotRecommendation, resp.Phase)
	assert.Contains(t, resp.Reply, "1.")

	resp = mustProcess(t, e, "s1", "option 1")
	assert.Equal(t, PhaseCollectingInfo, resp.Phase)
	assert.Equal(t, []string{"name", "contact", "reason"}, resp.MissingFields)

	resp = mustProcess(t, e, "s1", "My name is Jordan Fields, you can reach me at jordan@example.com, I've been having headaches")
	assert.Equal(t, PhaseConfirming, resp.Phase)
	assert.Contains(t, resp.Reply, "Jordan Fields")

	resp = mustProcess(t, e, "s1", "yes, book it")
	assert.Equal(t, PhaseCompleted, resp.Phase)
	assert.NotEmpty(t, resp.BookingCode)
	assert.Contains(t, resp.Reply, resp.BookingCode)

	turns, err := e.History(ctx, "s1")
	require.NoError(t, err)
	// Greeting plus four user/assistant pairs.
	assert.Len(t, turns, 9)
}

func TestProcessMessageDigressionMidFlow(t *testing.T) {
	e := newTestConversationEngine(t)

	mustProcess(t, e, "s1", "a consultation, mornings please")
	mustProcess(t, e, "s1", "the first one")
	mustProcess(t, e, "s1", "My name is Jordan Fields")

	resp := mustProcess(t, e, "s1", "wait, do you validate parking?")
	assert.Equal(t, PhaseCollectingInfo, resp.Phase)
	assert.Contains(t, resp.Reply, "450 Harbor Medical Plaza")
	// The resume text picks up where the flow stopped, without re-asking the name.
	assert.NotContains(t, resp.Reply, "your full name")
	assert.Contains(t, resp.Reply, "email address or phone number")
}

func TestProcessMessageUnknownSessionStartsFresh(t *testing.T) {
	e := newTestConversationEngine(t)
	resp := mustProcess(t, e, "brand-new", "I need a physical, anytime")
	assert.Equal(t, PhaseSlotRecommendation, resp.Phase)
}

func TestProcessMessageFallbackClassifier(t *testing.T) {
	rules := NewRuleClassifier(nil, WithClassifierNowFunc(machineNow))
	machine, _ := newTestMachine(t, nil)
	e := NewEngine(machine, failingClassifier{}, NewTemplateRenderer(""), NewMemorySessionStore(), nil,
		WithNowFunc(machineNow), WithFallbackClassifier(rules))

	resp := mustProcess(t, e, "s1", "a consultation, anytime works")
	assert.Equal(t, PhaseSlotRecommendation, resp.Phase)
}

func TestProcessMessageClassifierOutageDegradesToUnclear(t *testing.T) {
	machine, _ := newTestMachine(t, nil)
	e := NewEngine(machine, failingClassifier{}, NewTemplateRenderer(""), NewMemorySessionStore(), nil,
		WithNowFunc(machineNow))

	resp := mustProcess(t, e, "s1", "a consultation please")
	assert.Equal(t, PhaseUnderstandingNeeds, resp.Phase)
	assert.Contains(t, resp.Reply, "didn't quite catch")
}
