package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
)

// Renderer turns a structured turn result into the assistant's reply text.
type Renderer interface {
	Render(ctx context.Context, res *Result) (string, error)
}

// TemplateRenderer produces deterministic replies from fixed templates. It is
// the fallback behind the model-backed renderer and the default in tests.
type TemplateRenderer struct {
	clinicName string
}

// NewTemplateRenderer builds the template renderer.
func NewTemplateRenderer(clinicName string) *TemplateRenderer {
	if clinicName == "" {
		clinicName = "the clinic"
	}
	return &TemplateRenderer{clinicName: clinicName}
}

var _ Renderer = (*TemplateRenderer)(nil)

// Greeting opens a brand-new session.
func (r *TemplateRenderer) Greeting() string {
	return fmt.Sprintf("Hi! You've reached %s. I can help you book an appointment or answer questions about the clinic. What can I do for you?", r.clinicName)
}

// Render builds the reply for one turn result.
func (r *TemplateRenderer) Render(_ context.Context, res *Result) (string, error) {
	if res.Prompt == PromptAnswerQuestion {
		resume := *res
		resume.Prompt = res.ResumePrompt
		tail, err := r.Render(context.Background(), &resume)
		if err != nil {
			return "", err
		}
		return res.Answer + "\n\n" + tail, nil
	}

	switch res.Prompt {
	case PromptGreeting:
		return r.Greeting(), nil

	case PromptAskNeeds:
		if !res.Draft.Type.Valid() {
			return "What kind of visit do you need? We offer consultations, follow-ups, physicals, and specialist visits.", nil
		}
		return "Do you prefer mornings, afternoons, or evenings? A particular day works too, or just say \"anytime\".", nil

	case PromptOfferSlots:
		var b strings.Builder
		b.WriteString("Here's what we have open:\n")
		for i, slot := range res.OfferedSlots {
			fmt.Fprintf(&b, "%d. %s\n", i+1, formatSlot(slot))
		}
		b.WriteString("Which one works for you?")
		return b.String(), nil

	case PromptHorizonExhausted:
		return "I'm sorry, I couldn't find any openings matching that in the next two weeks. Would a different time of day or a later date work? You can also call the front desk and we'll fit you in manually.", nil

	case PromptSlotTaken:
		if len(res.OfferedSlots) == 0 {
			return "I'm sorry, that time was just taken and I don't see other openings in the next two weeks. Would a different time of day work, or shall I have the front desk call you?", nil
		}
		var b strings.Builder
		b.WriteString("I'm sorry, that time was just taken. The closest openings are:\n")
		for i, slot := range res.OfferedSlots {
			fmt.Fprintf(&b, "%d. %s\n", i+1, formatSlot(slot))
		}
		b.WriteString("Would any of these work instead?")
		return b.String(), nil

	case PromptAskFields:
		var parts []string
		for _, field := range res.MissingFields {
			switch field {
			case "name":
				parts = append(parts, "your full name")
			case "contact":
				parts = append(parts, "an email address or phone number")
			case "reason":
				parts = append(parts, "the reason for your visit")
			}
		}
		ask := "Almost there."
		if len(res.InvalidFields) > 0 {
			ask = "Some of those details didn't look right."
		}
		if len(parts) == 0 {
			return ask + " Could you double-check the details you gave me?", nil
		}
		return fmt.Sprintf("%s Could I get %s?", ask, joinNaturally(parts)), nil

	case PromptConfirmSummary:
		d := res.Draft
		slot := "the selected time"
		if d.Slot != nil {
			slot = formatSlot(*d.Slot)
		}
		contact := d.Email
		if contact == "" {
			contact = d.Phone
		}
		return fmt.Sprintf("Here's what I have: a %s for %s on %s, reason: %s, contact: %s. Shall I book it?",
			d.Type, d.Name, slot, d.Reason, contact), nil

	case PromptBooked:
		appt := res.Appointment
		if appt == nil {
			return "You're all set! We'll see you then.", nil
		}
		return fmt.Sprintf("You're booked! Your %s is on %s. Your confirmation code is %s. We'll see you then.",
			appt.Type, formatSlot(calendar.CandidateSlot{Date: appt.Date, Start: appt.Start, End: appt.End}), appt.Code), nil

	case PromptRestarted:
		return "No problem, let's start over. What kind of visit do you need?", nil

	case PromptClarify:
		if res.Phase == PhaseCompleted {
			return "Is there anything else I can help you with?", nil
		}
		if len(res.OfferedSlots) > 0 {
			var b strings.Builder
			b.WriteString("Sorry, I didn't quite catch that. The open times were:\n")
			for i, slot := range res.OfferedSlots {
				fmt.Fprintf(&b, "%d. %s\n", i+1, formatSlot(slot))
			}
			b.WriteString("You can pick one by number.")
			return b.String(), nil
		}
		return "Sorry, I didn't quite catch that. Could you rephrase?", nil

	default:
		return "Sorry, I didn't quite catch that. Could you rephrase?", nil
	}
}

func formatSlot(slot calendar.CandidateSlot) string {
	return fmt.Sprintf("%s at %s", slot.Date.Format("Monday, January 2"), formatClock(slot.Start))
}

func formatClock(m calendar.MinuteOfDay) string {
	hour := int(m) / 60
	minute := int(m) % 60
	meridiem := "AM"
	switch {
	case hour == 0:
		hour = 12
	case hour == 12:
		meridiem = "PM"
	case hour > 12:
		hour -= 12
		meridiem = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", hour, minute, meridiem)
}

func joinNaturally(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
	}
}
