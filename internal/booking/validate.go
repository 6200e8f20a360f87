package booking

import (
	"regexp"
	"strings"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// countDigits ignores formatting characters so "+1 (555) 010-7788" passes.
func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// ValidatePatient checks the fields required to confirm a booking: a name, a
// visit reason, and at least one reachable contact. Returns nil when the
// record is complete.
func ValidatePatient(p calendar.Patient) *ValidationError {
	fields := map[string]string{}

	if strings.TrimSpace(p.Name) == "" {
		fields["name"] = "name is required"
	}
	if strings.TrimSpace(p.Reason) == "" {
		fields["reason"] = "a reason for the visit is required"
	}

	email := strings.TrimSpace(p.Email)
	phone := strings.TrimSpace(p.Phone)
	switch {
	case email == "" && phone == "":
		fields["contact"] = "an email address or phone number is required"
	default:
		if email != "" && !emailPattern.MatchString(email) {
			fields["email"] = "email address is not valid"
		}
		if phone != "" && countDigits(phone) < 10 {
			fields["phone"] = "phone number must have at least 10 digits"
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
