package conversation

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
)

var (
	restartPattern = regexp.MustCompile(`(?i)\b(start over|start again|restart|from the beginning|scratch (that|everything)|reset)\b`)

	digressionPattern = regexp.MustCompile(`(?i)\b(insurance|parking|park my|address|located|location|directions|billing|invoice|payment plan|cancellation policy|what.*(bring|paperwork|forms)|open on (saturday|sunday|weekend)|office hours)\b`)

	confirmPattern = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|yup|sure|ok(ay)?|confirm(ed)?|correct|sounds good|that works|that'?s right|book it|perfect|go ahead)\b`)
	rejectPattern  = regexp.MustCompile(`(?i)^\s*(no|nope|actually|wait|hold on|not quite|that'?s wrong|change)\b|(?i)\b(different|another|wrong)\b`)

	emailPattern = regexp.MustCompile(`[^@\s]+@[^@\s]+\.[^@\s]+`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{8,}\d`)
	namePattern  = regexp.MustCompile(`(?i)\b(?:my name is|my name'?s|i am|i'm|this is|it'?s)\s+([A-Z][a-zA-Z'-]+(?:\s+[A-Z][a-zA-Z'-]+)*)`)

	reasonPattern = regexp.MustCompile(`(?i)\b(?:i need|i'?ve been having|i'?ve been|i have been|i'?m here for|coming in for|it'?s for)\s+(.+)`)

	waivedPattern = regexp.MustCompile(`(?i)\b(any ?time|whenever|no preference|doesn'?t matter|don'?t care|i'?m flexible|flexible)\b`)

	ordinalPattern   = regexp.MustCompile(`(?i)\b(first|second|third|fourth|fifth)\b`)
	optionPattern    = regexp.MustCompile(`(?i)\b(?:option|number|slot|#)\s*([1-9])\b`)
	bareIndexPattern = regexp.MustCompile(`^\s*([1-9])\s*$`)
	clockPattern     = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\b(\d{1,2}):(\d{2})\b`)

	isoDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	tomorrowWord   = regexp.MustCompile(`(?i)\btomorrow\b`)
	todayWord      = regexp.MustCompile(`(?i)\btoday\b`)
)

var ordinalIndex = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var typePatterns = []struct {
	pattern *regexp.Regexp
	t       calendar.AppointmentType
}{
	{regexp.MustCompile(`(?i)\bfollow[\s-]?up\b`), calendar.TypeFollowUp},
	{regexp.MustCompile(`(?i)\b(physical|annual (exam|check[\s-]?up)|check[\s-]?up)\b`), calendar.TypePhysical},
	{regexp.MustCompile(`(?i)\bspecialist\b`), calendar.TypeSpecialist},
	{regexp.MustCompile(`(?i)\bconsult(ation)?\b`), calendar.TypeConsultation},
}

// RuleClassifier maps turns onto intents with keyword and pattern rules. It
// is deterministic and needs no model, which keeps the phase machine fully
// testable offline; a model-backed classifier can replace it behind the same
// interface.
type RuleClassifier struct {
	location *time.Location
	now      func() time.Time
}

// RuleClassifierOption configures the classifier.
type RuleClassifierOption func(*RuleClassifier)

// WithClassifierNowFunc overrides the clock, for tests.
func WithClassifierNowFunc(now func() time.Time) RuleClassifierOption {
	return func(c *RuleClassifier) {
		if now != nil {
			c.now = now
		}
	}
}

// NewRuleClassifier builds the rule-based classifier. Dates in user text are
// resolved against the provider's location.
func NewRuleClassifier(location *time.Location, opts ...RuleClassifierOption) *RuleClassifier {
	if location == nil {
		location = time.UTC
	}
	c := &RuleClassifier{location: location, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ IntentClassifier = (*RuleClassifier)(nil)

// Classify never fails; unrecognized turns come back as IntentUnclear.
func (c *RuleClassifier) Classify(_ context.Context, turn string, phase Phase, draft Draft) (Intent, error) {
	text := strings.TrimSpace(turn)
	if text == "" {
		return Intent{Kind: IntentUnclear}, nil
	}

	if restartPattern.MatchString(text) {
		return Intent{Kind: IntentRestart}, nil
	}
	if digressionPattern.MatchString(text) {
		return Intent{Kind: IntentDigression, Question: text}, nil
	}

	fields := c.extractFields(text, phase, draft)

	if phase == PhaseConfirming {
		if confirmPattern.MatchString(text) {
			return Intent{Kind: IntentConfirm}, nil
		}
		if rejectPattern.MatchString(text) {
			intent := fields
			intent.Kind = IntentReject
			// A correction that supplies a field value is aimed at the draft;
			// everything else is read as rejecting the chosen slot.
			intent.RejectSlot = !fieldCorrection(fields)
			return intent, nil
		}
	}

	if phase == PhaseSlotRecommendation {
		if idx := selectionIndex(text); idx > 0 {
			return Intent{Kind: IntentSelectSlot, SlotIndex: idx}, nil
		}
		if start, ok := c.clockTime(text); ok {
			intent := fields
			intent.Kind = IntentSelectSlot
			intent.SlotStart = &start
			return intent, nil
		}
	}

	if fields.HasDraftFields() {
		fields.Kind = IntentProvideField
		return fields, nil
	}

	// In the collecting phase, a plain sentence with nothing else recognized
	// is the visit reason when one is still missing.
	if phase == PhaseCollectingInfo && draft.Reason == "" {
		return Intent{Kind: IntentProvideField, Reason: text}, nil
	}

	return Intent{Kind: IntentUnclear}, nil
}

func fieldCorrection(i Intent) bool {
	return i.Name != "" || i.Email != "" || i.Phone != "" || i.Reason != ""
}

func selectionIndex(text string) int {
	if m := optionPattern.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := bareIndexPattern.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := ordinalPattern.FindStringSubmatch(text); m != nil {
		return ordinalIndex[strings.ToLower(m[1])]
	}
	return 0
}

func (c *RuleClassifier) clockTime(text string) (calendar.MinuteOfDay, bool) {
	m := clockPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	if m[1] != "" { // am/pm form
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		meridiem := strings.ToLower(m[3])
		if meridiem == "pm" && hour < 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		if hour > 23 || minute > 59 {
			return 0, false
		}
		return calendar.MinuteOfDay(hour*60 + minute), true
	}
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	if hour > 23 || minute > 59 {
		return 0, false
	}
	return calendar.MinuteOfDay(hour*60 + minute), true
}

func (c *RuleClassifier) extractFields(text string, phase Phase, draft Draft) Intent {
	var intent Intent

	for _, tp := range typePatterns {
		if tp.pattern.MatchString(text) {
			intent.Type = tp.t
			break
		}
	}

	lower := strings.ToLower(text)
	if pref := schedule.ParseTimePreference(firstWordOf(lower, "morning", "afternoon", "evening")); pref != schedule.PreferenceNone {
		intent.Preference = pref
	} else if waivedPattern.MatchString(text) {
		intent.PreferenceWaived = true
	}

	if date, ok := c.parseDate(lower); ok {
		intent.PreferredDate = &date
	}

	if m := emailPattern.FindString(text); m != "" {
		intent.Email = m
	}
	if m := phonePattern.FindString(text); m != "" {
		intent.Phone = strings.TrimSpace(m)
	}
	if m := namePattern.FindStringSubmatch(text); m != nil {
		intent.Name = strings.TrimSpace(m[1])
	}
	if m := reasonPattern.FindStringSubmatch(text); m != nil {
		intent.Reason = strings.TrimRight(strings.TrimSpace(m[1]), ".!")
	}

	// While collecting info, a typed visit mention doubles as the reason.
	if intent.Reason == "" && intent.Type.Valid() && phase == PhaseCollectingInfo && draft.Reason == "" {
		intent.Reason = lower
	}

	return intent
}

func firstWordOf(lower string, words ...string) string {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return w
		}
	}
	return ""
}

func (c *RuleClassifier) parseDate(lower string) (time.Time, bool) {
	today := c.today()

	if m := isoDatePattern.FindStringSubmatch(lower); m != nil {
		parsed, err := time.ParseInLocation(calendar.DateFormat, m[0], c.location)
		if err == nil {
			return parsed, true
		}
	}
	if tomorrowWord.MatchString(lower) {
		return today.AddDate(0, 0, 1), true
	}
	if todayWord.MatchString(lower) {
		return today, true
	}
	for name, weekday := range weekdayNames {
		if !strings.Contains(lower, name) {
			continue
		}
		ahead := (int(weekday) - int(today.Weekday()) + 7) % 7
		if ahead == 0 && strings.Contains(lower, "next "+name) {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), true
	}
	return time.Time{}, false
}

func (c *RuleClassifier) today() time.Time {
	now := c.now().In(c.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.location)
}
