// Package tests exercises the booking conversation end to end: HTTP transport,
// queue-backed orchestration, phase machine, scheduling, and storage wired
// together the way cmd/api assembles them, minus external services.
package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/api/router"
	"github.com/wolfman30/clinic-scheduling-ai/internal/booking"
	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/conversation"
	"github.com/wolfman30/clinic-scheduling-ai/internal/knowledge"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

// Monday 2025-06-02 at 07:00 UTC, before the clinic opens.
func acceptanceNow() time.Time {
	return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
}

type testApp struct {
	handler http.Handler
	engine  *conversation.Engine
	store   *calendar.MemoryStore
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := logging.New("error", "test")

	store := calendar.NewMemoryStore(nil, 0)
	generator := schedule.NewGenerator(time.UTC, schedule.WithNowFunc(acceptanceNow))
	availability := schedule.NewEngine(store, generator, logger)
	bookingEngine := booking.NewEngine(store, availability, logger, booking.WithNowFunc(acceptanceNow))

	retriever := knowledge.NewService(knowledge.NewFAQStore(), logger)
	machine := conversation.NewMachine(availability, bookingEngine, retriever, logger,
		conversation.WithSuggestionCount(3))

	classifier := conversation.NewRuleClassifier(time.UTC,
		conversation.WithClassifierNowFunc(acceptanceNow))
	engine := conversation.NewEngine(machine, classifier,
		conversation.NewTemplateRenderer("Harbor Clinic"),
		conversation.NewMemorySessionStore(), logger,
		conversation.WithNowFunc(acceptanceNow))

	orchestrator := conversation.NewOrchestrator(engine, conversation.NewMemoryQueue(0), logger,
		conversation.WithWorkerCount(2))
	t.Cleanup(func() { _ = orchestrator.Shutdown(context.Background()) })

	handler := router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(orchestrator, logger),
	})

	return &testApp{handler: handler, engine: engine, store: store}
}

func (a *testApp) post(t *testing.T, path string, payload any) (*httptest.ResponseRecorder, conversation.Response) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var resp conversation.Response
	if rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func (a *testApp) say(t *testing.T, sessionID, message string) conversation.Response {
	t.Helper()
	rec, resp := a.post(t, "/conversations/message", conversation.MessageRequest{
		SessionID: sessionID,
		Message:   message,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("message %q: expected status 200, got %d: %s", message, rec.Code, rec.Body.String())
	}
	return resp
}

func TestAcceptance_FullBookingFlow(t *testing.T) {
	app := newTestApp(t)

	rec, resp := app.post(t, "/conversations/start", conversation.StartRequest{SessionID: "acc-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if !strings.Contains(resp.Reply, "Harbor Clinic") {
		t.Fatalf("greeting should name the clinic, got %q", resp.Reply)
	}

	resp = app.say(t, "acc-1", "I'd like to book a consultation, mornings work best")
	if resp.Phase != conversation.PhaseSlotRecommendation {
		t.Fatalf("expected slot recommendation, got %s", resp.Phase)
	}
	if !strings.Contains(resp.Reply, "1.") {
		t.Fatalf("expected a numbered slot list, got %q", resp.Reply)
	}

	resp = app.say(t, "acc-1", "option 1")
	if resp.Phase != conversation.PhaseCollectingInfo {
		t.Fatalf("expected collecting info, got %s", resp.Phase)
	}

	resp = app.say(t, "acc-1", "My name is Jordan Fields, email jordan@example.com, I've been having headaches")
	if resp.Phase != conversation.PhaseConfirming {
		t.Fatalf("expected confirming, got %s", resp.Phase)
	}
	if !strings.Contains(resp.Reply, "Jordan Fields") {
		t.Fatalf("summary should include the patient name, got %q", resp.Reply)
	}

	resp = app.say(t, "acc-1", "yes, book it")
	if resp.Phase != conversation.PhaseCompleted {
		t.Fatalf("expected completed, got %s", resp.Phase)
	}
	if !regexp.MustCompile(`^APPT-\d{8}-[0-9A-F]{6}$`).MatchString(resp.BookingCode) {
		t.Fatalf("unexpected booking code %q", resp.BookingCode)
	}

	appts, err := app.store.AppointmentsOn(context.Background(), "2025-06-02")
	if err != nil {
		t.Fatalf("list appointments: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected one stored appointment, got %d", len(appts))
	}
	if appts[0].Patient.Email != "jordan@example.com" {
		t.Fatalf("unexpected patient on stored appointment: %+v", appts[0].Patient)
	}

	// The transcript is retrievable over HTTP.
	req := httptest.NewRequest(http.MethodGet, "/conversations/acc-1/history", nil)
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected history status 200, got %d", rec.Code)
	}
}

func TestAcceptance_DigressionDoesNotLoseProgress(t *testing.T) {
	app := newTestApp(t)

	app.say(t, "acc-2", "a consultation, anytime is fine")
	app.say(t, "acc-2", "the second one")
	app.say(t, "acc-2", "My name is Jordan Fields")

	resp := app.say(t, "acc-2", "quick question, do you take insurance?")
	if resp.Phase != conversation.PhaseCollectingInfo {
		t.Fatalf("digression should not move the phase, got %s", resp.Phase)
	}
	if !strings.Contains(resp.Reply, "insurance plans") {
		t.Fatalf("expected the insurance answer, got %q", resp.Reply)
	}
	if strings.Contains(resp.Reply, "your full name") {
		t.Fatalf("resume must not re-ask collected fields, got %q", resp.Reply)
	}

	resp = app.say(t, "acc-2", "you can reach me at 555-867-5309, I need a medication review")
	if resp.Phase != conversation.PhaseConfirming {
		t.Fatalf("expected confirming after resume, got %s", resp.Phase)
	}
}

func TestAcceptance_RestartClearsBooking(t *testing.T) {
	app := newTestApp(t)

	resp := app.say(t, "acc-3", "book me a physical, mornings please")
	if resp.Phase != conversation.PhaseSlotRecommendation {
		t.Fatalf("expected slot recommendation, got %s", resp.Phase)
	}

	resp = app.say(t, "acc-3", "actually let's start over")
	if resp.Phase != conversation.PhaseUnderstandingNeeds {
		t.Fatalf("expected understanding needs after restart, got %s", resp.Phase)
	}

	// The cleared draft means the assistant asks for the visit type again.
	resp = app.say(t, "acc-3", "mornings")
	if resp.Phase != conversation.PhaseUnderstandingNeeds {
		t.Fatalf("expected to still be gathering needs, got %s", resp.Phase)
	}
	if !strings.Contains(resp.Reply, "What kind of visit") {
		t.Fatalf("expected the visit type question, got %q", resp.Reply)
	}
}

func TestAcceptance_ConcurrentConfirmLosesGracefully(t *testing.T) {
	app := newTestApp(t)

	// Two sessions walk to the confirmation step for the same first slot.
	for _, id := range []string{"race-a", "race-b"} {
		resp := app.say(t, id, "a consultation, mornings work")
		if resp.Phase != conversation.PhaseSlotRecommendation {
			t.Fatalf("session %s: expected slots, got %s", id, resp.Phase)
		}
		app.say(t, id, "option 1")
		resp = app.say(t, id, "My name is Riley Morgan, phone 555-123-9876, I need a blood pressure check")
		if resp.Phase != conversation.PhaseConfirming {
			t.Fatalf("session %s: expected confirming, got %s", id, resp.Phase)
		}
	}

	first := app.say(t, "race-a", "yes")
	if first.Phase != conversation.PhaseCompleted {
		t.Fatalf("first confirmation should book, got %s", first.Phase)
	}

	second := app.say(t, "race-b", "yes")
	if second.Phase != conversation.PhaseSlotRecommendation {
		t.Fatalf("second confirmation should fall back to alternatives, got %s", second.Phase)
	}
	if !strings.Contains(second.Reply, "just taken") {
		t.Fatalf("expected the slot-taken apology, got %q", second.Reply)
	}
	if second.BookingCode != "" {
		t.Fatalf("losing session must not carry a booking code, got %q", second.BookingCode)
	}

	appts, err := app.store.AppointmentsOn(context.Background(), "2025-06-02")
	if err != nil {
		t.Fatalf("list appointments: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected exactly one booked appointment, got %d", len(appts))
	}
}
