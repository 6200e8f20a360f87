package knowledge

import (
	"regexp"
	"strings"
)

// FAQEntry is one precomputed answer. Pattern matches take priority; the
// keyword list is a fallback that needs at least two hits to fire, which
// keeps single common words like "hours" from hijacking unrelated messages.
type FAQEntry struct {
	Topic    string
	Pattern  *regexp.Regexp
	Keywords []string
	Response string
}

// FAQStore answers common clinic questions without a model round trip.
type FAQStore struct {
	entries []FAQEntry
}

// NewFAQStore returns the built-in clinic FAQ.
func NewFAQStore(extra ...FAQEntry) *FAQStore {
	return &FAQStore{entries: append(defaultFAQ(), extra...)}
}

func defaultFAQ() []FAQEntry {
	return []FAQEntry{
		{
			Topic:    "location",
			Pattern:  regexp.MustCompile(`(?i)(where.*(located|address|office|clinic))|(how.*(get|find).*(office|clinic))|directions`),
			Keywords: []string{"where", "located", "address", "directions"},
			Response: "We're at 450 Harbor Medical Plaza, Suite 210, right across from the Main Street transit station. The entrance is on the east side of the building, next to the pharmacy.",
		},
		{
			Topic:    "parking",
			Pattern:  regexp.MustCompile(`(?i)park(ing)?`),
			Keywords: []string{"parking", "garage", "car"},
			Response: "Yes, there's free patient parking in the garage under the building. Take the elevator to level 2 and check in at the front desk; we validate for up to two hours.",
		},
		{
			Topic:    "hours",
			Pattern:  regexp.MustCompile(`(?i)(what|when).*(hours|open|close)|office hours|opening hours`),
			Keywords: []string{"hours", "open", "close", "weekend"},
			Response: "The clinic is open Monday through Friday, 9:00 AM to 5:00 PM, with a lunch closure from noon to 1:00 PM. We're closed on weekends and public holidays.",
		},
		{
			Topic:    "insurance",
			Pattern:  regexp.MustCompile(`(?i)insurance|coverage|copay|in[\s-]?network`),
			Keywords: []string{"insurance", "covered", "plan", "network"},
			Response: "We accept most major insurance plans. Bring your insurance card to your visit and the front desk will verify coverage and any copay before you're seen. For plan-specific questions, our billing team can check ahead of time.",
		},
		{
			Topic:    "billing",
			Pattern:  regexp.MustCompile(`(?i)(bill(ing)?|invoice|payment plan|pay my)`),
			Keywords: []string{"billing", "invoice", "payment", "statement"},
			Response: "Billing questions are handled by our billing office, reachable through the front desk during business hours. You can pay statements at the desk, by phone, or through the patient portal.",
		},
		{
			Topic:    "first visit",
			Pattern:  regexp.MustCompile(`(?i)(what|anything).*(bring|need).*(visit|appointment)|new patient (form|paperwork)`),
			Keywords: []string{"bring", "first", "visit", "paperwork", "forms"},
			Response: "For a first visit, please arrive 15 minutes early and bring a photo ID, your insurance card, and a list of current medications. New patient forms are also available on the patient portal if you'd like to fill them out ahead of time.",
		},
		{
			Topic:    "cancellation",
			Pattern:  regexp.MustCompile(`(?i)(cancel(lation)?|reschedul\w*).*(policy|fee|charge)|late cancel`),
			Keywords: []string{"cancellation", "policy", "fee", "reschedule"},
			Response: "You can cancel or reschedule free of charge up to 24 hours before your appointment. Cancellations with less notice may carry a small fee, waived for emergencies.",
		},
	}
}

// Match returns the cached response for the question, if any entry applies.
func (s *FAQStore) Match(question string) (string, bool) {
	question = strings.ToLower(strings.TrimSpace(question))
	if question == "" {
		return "", false
	}
	for _, entry := range s.entries {
		if entry.Pattern != nil && entry.Pattern.MatchString(question) {
			return entry.Response, true
		}
		if len(entry.Keywords) > 0 {
			hits := 0
			for _, kw := range entry.Keywords {
				if strings.Contains(question, kw) {
					hits++
				}
			}
			if hits >= 2 {
				return entry.Response, true
			}
		}
	}
	return "", false
}

// FactSheet flattens the FAQ into grounding text for model-backed answers.
func (s *FAQStore) FactSheet() string {
	var b strings.Builder
	for _, entry := range s.entries {
		b.WriteString("- ")
		b.WriteString(entry.Topic)
		b.WriteString(": ")
		b.WriteString(entry.Response)
		b.WriteString("\n")
	}
	return b.String()
}
