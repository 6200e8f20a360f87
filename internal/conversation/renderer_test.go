package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/llm"
)

func render(t *testing.T, r Renderer, res *Result) string {
	t.Helper()
	text, err := r.Render(context.Background(), res)
	require.NoError(t, err)
	return text
}

func tuesdaySlot() calendar.CandidateSlot {
	return calendar.CandidateSlot{
		Date:  time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Start: calendar.MinuteOfDay(14*60 + 30),
		End:   calendar.MinuteOfDay(15 * 60),
	}
}

func TestTemplateRendererGreeting(t *testing.T) {
	r := NewTemplateRenderer("Harbor Clinic")
	text := render(t, r, &Result{Prompt: PromptGreeting})
	assert.Contains(t, text, "Harbor Clinic")

	anon := NewTemplateRenderer("")
	assert.Contains(t, render(t, anon, &Result{Prompt: PromptGreeting}), "the clinic")
}

func TestTemplateRendererOfferSlots(t *testing.T) {
	r := NewTemplateRenderer("Harbor Clinic")
	text := render(t, r, &Result{
		Prompt:       PromptOfferSlots,
		OfferedSlots: []calendar.CandidateSlot{tuesdaySlot()},
	})
	assert.Contains(t, text, "1. Tuesday, June 3 at 2:30 PM")
}

func TestTemplateRendererAskFields(t *testing.T) {
	r := NewTemplateRenderer("Harbor Clinic")

	text := render(t, r, &Result{Prompt: PromptAskFields, MissingFields: []string{"name", "contact", "reason"}})
	assert.Contains(t, text, "your full name, an email address or phone number, and the reason for your visit")

	text = render(t, r, &Result{
		Prompt:        PromptAskFields,
		MissingFields: []string{"contact"},
		InvalidFields: map[string]string{"email": "invalid email format"},
	})
	assert.Contains(t, text, "didn't look right")
}

func TestTemplateRendererConfirmSummary(t *testing.T) {
	r := NewTemplateRenderer("Harbor Clinic")
	slot := tuesdaySlot()
	text := render(t, r, &Result{
		Prompt: PromptConfirmSummary,
		Draft: Draft{
			Type:   calendar.TypeConsultation,
			Name:   "Jordan Fields",
			Email:  "jordan@example.com",
			Reason: "headaches",
			Slot:   &slot,
		},
	})
	assert.Contains(t, text, "Jordan Fields")
	assert.Contains(t, text, "Tuesday, June 3 at 2:30 PM")
	assert.Contains(t, text, "jordan@example.com")
	assert.Contains(t, text, "Shall I book it?")
}

func TestTemplateRendererBooked(t *testing.T) {
	r := NewTemplateRenderer("Harbor Clinic")
	text := render(t, r, &Result{
		Prompt: PromptBooked,
		Appointment: &calendar.Appointment{
			Type:  calendar.TypeConsultation,
			Date:  time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
			Start: 870,
			End:   900,
			Code:  "APPT-20250603-1A2B3C",
		},
	})
	assert.Contains(t, text, "APPT-20250603-1A2B3C")
}

func TestTemplateRendererAnswerPrependsResume(t *testing.T) {
	r := NewTemplateRenderer("Harbor Clinic")
	text := render(t, r, &Result{
		Prompt:        PromptAnswerQuestion,
		ResumePrompt:  PromptAskFields,
		Answer:        "We validate parking for two hours.",
		MissingFields: []string{"reason"},
	})
	assert.Contains(t, text, "We validate parking for two hours.")
	assert.Contains(t, text, "the reason for your visit")
}

func TestTemplateRendererClarifyRelists(t *testing.T) {
	r := NewTemplateRenderer("Harbor Clinic")
	text := render(t, r, &Result{
		Prompt:       PromptClarify,
		Phase:        PhaseSlotRecommendation,
		OfferedSlots: []calendar.CandidateSlot{tuesdaySlot()},
	})
	assert.Contains(t, text, "pick one by number")
	assert.Contains(t, text, "Tuesday, June 3")

	done := render(t, r, &Result{Prompt: PromptClarify, Phase: PhaseCompleted})
	assert.Contains(t, done, "anything else")
}

type stubRendererLLM struct {
	resp llm.Response
	err  error
}

func (s stubRendererLLM) Complete(context.Context, llm.Request) (llm.Response, error) {
	return s.resp, s.err
}

func TestModelRendererRewordsTemplate(t *testing.T) {
	fallback := NewTemplateRenderer("Harbor Clinic")
	r := NewModelRenderer(stubRendererLLM{resp: llm.Response{Text: "Sure thing! What brings you in?"}}, fallback, nil)

	text := render(t, r, &Result{Prompt: PromptAskNeeds})
	assert.Equal(t, "Sure thing! What brings you in?", text)
}

func TestModelRendererFallsBackOnError(t *testing.T) {
	fallback := NewTemplateRenderer("Harbor Clinic")
	r := NewModelRenderer(stubRendererLLM{err: errors.New("model down")}, fallback, nil)

	text := render(t, r, &Result{Prompt: PromptRestarted})
	assert.Contains(t, text, "start over")
}

func TestModelRendererPassesThroughSlotLists(t *testing.T) {
	fallback := NewTemplateRenderer("Harbor Clinic")
	r := NewModelRenderer(stubRendererLLM{resp: llm.Response{Text: "reworded"}}, fallback, nil)

	// Slot lists keep their exact numbering, so the model is skipped.
	text := render(t, r, &Result{
		Prompt:       PromptOfferSlots,
		OfferedSlots: []calendar.CandidateSlot{tuesdaySlot()},
	})
	assert.Contains(t, text, "1. Tuesday, June 3 at 2:30 PM")
}
