package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-scheduling-ai/internal/booking"
	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

// ConfirmationMailer emails booking confirmations to patients. Patients
// without an email address on file are skipped silently; phone-only contacts
// get their confirmation read back in the conversation instead.
type ConfirmationMailer struct {
	sender     EmailSender
	clinicName string
	logger     *logging.Logger
}

// NewConfirmationMailer builds the mailer.
func NewConfirmationMailer(sender EmailSender, clinicName string, logger *logging.Logger) *ConfirmationMailer {
	if sender == nil {
		panic("notify: email sender required")
	}
	if clinicName == "" {
		clinicName = "the clinic"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConfirmationMailer{sender: sender, clinicName: clinicName, logger: logger}
}

var _ booking.ConfirmationSender = (*ConfirmationMailer)(nil)

// SendConfirmation emails the appointment summary and confirmation code.
func (m *ConfirmationMailer) SendConfirmation(ctx context.Context, appt calendar.Appointment) error {
	if appt.Patient.Email == "" {
		m.logger.Debug("no email on file, skipping confirmation", "appointment_id", appt.ID)
		return nil
	}

	subject := fmt.Sprintf("Your %s appointment is confirmed (%s)", appt.Type, appt.Code)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", appt.Patient.Name)
	fmt.Fprintf(&b, "Your %s at %s is confirmed.\n\n", appt.Type, m.clinicName)
	fmt.Fprintf(&b, "Date: %s\n", appt.Date.Format("Monday, January 2, 2006"))
	fmt.Fprintf(&b, "Time: %s - %s\n", appt.Start, appt.End)
	fmt.Fprintf(&b, "Confirmation code: %s\n\n", appt.Code)
	b.WriteString("If you need to cancel or reschedule, reply to this email or call the front desk at least 24 hours ahead.\n")

	return m.sender.Send(ctx, EmailMessage{
		To:      appt.Patient.Email,
		ToName:  appt.Patient.Name,
		Subject: subject,
		Body:    b.String(),
	})
}
