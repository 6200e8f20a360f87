package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/llm"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
)

const classifierPrompt = `You are the intent classifier for a clinic booking assistant.
Classify the patient's message given the conversation phase. Respond with JSON only.

Current phase: %s
Known draft fields: %s

Kinds:
- provide_field: the message supplies booking details (appointment type, time preference, date, name, email, phone, reason)
- select_slot: the message picks one of the offered time slots, by position or by naming a time
- confirm: explicit agreement to book the summarized appointment
- reject: declining or correcting the summarized appointment
- digression: an informational question unrelated to advancing the booking (location, parking, insurance, policies)
- restart: asking to start the booking over from scratch
- unclear: none of the above

Appointment types: consultation, follow-up, physical, specialist.
Time preferences: morning, afternoon, evening.

Patient message: %s

Respond with:
{"kind": "...", "type": "", "preference": "", "preference_waived": false, "date": "YYYY-MM-DD", "slot_index": 0, "slot_time": "HH:MM", "name": "", "email": "", "phone": "", "reason": "", "reject_slot": false}`

// GeminiClassifier asks the model for a structured intent. Failures surface
// as errors so the caller can degrade to the rule classifier.
type GeminiClassifier struct {
	client   llm.Client
	location *time.Location
}

// NewGeminiClassifier wraps a completion client as an intent classifier.
func NewGeminiClassifier(client llm.Client, location *time.Location) *GeminiClassifier {
	if client == nil {
		panic("conversation: llm client required")
	}
	if location == nil {
		location = time.UTC
	}
	return &GeminiClassifier{client: client, location: location}
}

var _ IntentClassifier = (*GeminiClassifier)(nil)

type classifierPayload struct {
	Kind             string `json:"kind"`
	Type             string `json:"type"`
	Preference       string `json:"preference"`
	PreferenceWaived bool   `json:"preference_waived"`
	Date             string `json:"date"`
	SlotIndex        int    `json:"slot_index"`
	SlotTime         string `json:"slot_time"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Reason           string `json:"reason"`
	RejectSlot       bool   `json:"reject_slot"`
}

// Classify sends one JSON-constrained prompt per turn.
func (c *GeminiClassifier) Classify(ctx context.Context, turn string, phase Phase, draft Draft) (Intent, error) {
	turn = strings.TrimSpace(turn)
	if turn == "" {
		return Intent{Kind: IntentUnclear}, nil
	}

	prompt := fmt.Sprintf(classifierPrompt, phase, describeDraft(draft), turn)
	resp, err := c.client.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("conversation: classify turn: %w", err)
	}

	// The model may wrap the JSON in prose; take the outermost object.
	content := strings.TrimSpace(resp.Text)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Intent{}, fmt.Errorf("conversation: classifier returned no JSON: %q", content)
	}

	var payload classifierPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return Intent{}, fmt.Errorf("conversation: decode classifier output: %w", err)
	}
	return c.toIntent(payload, turn), nil
}

func (c *GeminiClassifier) toIntent(p classifierPayload, turn string) Intent {
	intent := Intent{
		Kind:             IntentKind(p.Kind),
		Preference:       schedule.ParseTimePreference(p.Preference),
		PreferenceWaived: p.PreferenceWaived,
		SlotIndex:        p.SlotIndex,
		Name:             strings.TrimSpace(p.Name),
		Email:            strings.TrimSpace(p.Email),
		Phone:            strings.TrimSpace(p.Phone),
		Reason:           strings.TrimSpace(p.Reason),
		RejectSlot:       p.RejectSlot,
	}
	switch intent.Kind {
	case IntentProvideField, IntentSelectSlot, IntentConfirm, IntentReject,
		IntentDigression, IntentRestart, IntentUnclear:
	default:
		intent.Kind = IntentUnclear
	}
	if intent.Kind == IntentDigression {
		intent.Question = turn
	}
	if t, err := calendar.ParseAppointmentType(p.Type); err == nil {
		intent.Type = t
	}
	if p.Date != "" {
		if date, err := time.ParseInLocation(calendar.DateFormat, p.Date, c.location); err == nil {
			intent.PreferredDate = &date
		}
	}
	if p.SlotTime != "" {
		if start, err := calendar.ParseClock(p.SlotTime); err == nil {
			intent.SlotStart = &start
		}
	}
	return intent
}

func describeDraft(d Draft) string {
	var known []string
	if d.Type.Valid() {
		known = append(known, "type="+string(d.Type))
	}
	if d.Preference != schedule.PreferenceNone {
		known = append(known, "preference="+string(d.Preference))
	} else if d.PreferenceWaived {
		known = append(known, "preference=waived")
	}
	if d.PreferredDate != nil {
		known = append(known, "date="+calendar.DateKey(*d.PreferredDate))
	}
	if d.Slot != nil {
		known = append(known, "slot="+calendar.DateKey(d.Slot.Date)+" "+d.Slot.Start.String())
	}
	if d.Name != "" {
		known = append(known, "name")
	}
	if d.Email != "" {
		known = append(known, "email")
	}
	if d.Phone != "" {
		known = append(known, "phone")
	}
	if d.Reason != "" {
		known = append(known, "reason")
	}
	if len(known) == 0 {
		return "(none)"
	}
	return strings.Join(known, ", ")
}
