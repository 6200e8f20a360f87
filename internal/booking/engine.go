package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduling-ai/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-ai/internal/schedule"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

var bookingTracer = otel.Tracer("clinic.internal.booking")

// ConfirmationSender delivers a booking confirmation to the patient. The
// send is best-effort: a delivery failure never unwinds a committed booking.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, appt calendar.Appointment) error
}

// Request carries everything needed to confirm one appointment.
type Request struct {
	Type    calendar.AppointmentType
	Date    time.Time
	Start   calendar.MinuteOfDay
	Patient calendar.Patient
}

// Engine turns validated requests into committed appointments. The store's
// commit is the single authority on conflicts; the availability check before
// it only exists to fail fast and to hand back alternatives.
type Engine struct {
	store        calendar.Store
	availability *schedule.Engine
	sender       ConfirmationSender
	logger       *logging.Logger
	now          func() time.Time
}

// EngineOption configures the booking engine.
type EngineOption func(*Engine)

// WithConfirmationSender enables confirmation delivery after commit.
func WithConfirmationSender(sender ConfirmationSender) EngineOption {
	return func(e *Engine) {
		e.sender = sender
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs a booking engine.
func NewEngine(store calendar.Store, availability *schedule.Engine, logger *logging.Logger, opts ...EngineOption) *Engine {
	if store == nil {
		panic("booking: calendar store required")
	}
	if availability == nil {
		panic("booking: availability engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:        store,
		availability: availability,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateBooking revalidates the slot, validates the patient record, and
// commits the appointment. On a lost race it returns *SlotUnavailableError
// with fresh alternatives instead of a bare conflict.
func (e *Engine) CreateBooking(ctx context.Context, req Request) (*calendar.Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_type", string(req.Type)),
		attribute.String("clinic.date", calendar.DateKey(req.Date)),
	)

	if !req.Type.Valid() {
		return nil, &ValidationError{Fields: map[string]string{
			"type": fmt.Sprintf("unknown appointment type %q", req.Type),
		}}
	}
	if verr := ValidatePatient(req.Patient); verr != nil {
		return nil, verr
	}

	open, err := e.availability.HasSlot(ctx, req.Date, req.Start, req.Type)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !open {
		return nil, e.slotUnavailable(ctx, req)
	}

	appt := calendar.Appointment{
		Type:      req.Type,
		Date:      req.Date,
		Start:     req.Start,
		End:       req.Start + calendar.MinuteOfDay(req.Type.DurationMinutes()),
		Patient:   req.Patient,
		Status:    calendar.StatusScheduled,
		Code:      NewConfirmationCode(req.Date),
		CreatedAt: e.now().UTC(),
	}

	id, err := e.store.Commit(ctx, appt)
	if err != nil {
		if errors.Is(err, calendar.ErrConflict) {
			return nil, e.slotUnavailable(ctx, req)
		}
		span.RecordError(err)
		return nil, err
	}
	appt.ID = id

	e.logger.Info("booking confirmed",
		"appointment_id", id,
		"code", appt.Code,
		"type", appt.Type,
		"date", calendar.DateKey(appt.Date),
		"start", appt.Start.String())

	if e.sender != nil {
		if err := e.sender.SendConfirmation(ctx, appt); err != nil {
			e.logger.Warn("confirmation delivery failed", "appointment_id", id, "error", err)
		}
	}
	return &appt, nil
}

// CancelBooking releases the appointment's window for rebooking. The ID is
// never reused.
func (e *Engine) CancelBooking(ctx context.Context, id int64) error {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.Int64("clinic.appointment_id", id))

	if err := e.store.Cancel(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	e.logger.Info("booking cancelled", "appointment_id", id)
	return nil
}

// GetBooking looks up one appointment by ID.
func (e *Engine) GetBooking(ctx context.Context, id int64) (*calendar.Appointment, error) {
	return e.store.Get(ctx, id)
}

// slotUnavailable builds the race-loss error, attaching whatever fresh
// alternatives a quick re-query can find. The re-query failing is not fatal:
// the caller still learns the slot is gone.
func (e *Engine) slotUnavailable(ctx context.Context, req Request) error {
	errOut := &SlotUnavailableError{Date: req.Date, Start: req.Start}
	result, err := e.availability.SuggestSlots(ctx, schedule.SuggestRequest{
		Type:  req.Type,
		Count: schedule.DefaultSuggestionCount,
	})
	if err != nil {
		e.logger.Warn("alternative lookup failed", "error", err)
		return errOut
	}
	errOut.Alternatives = result.Slots
	return errOut
}

// NewConfirmationCode mints a patient-facing reference like
// APPT-20250602-4F9C1A. Uniqueness beyond the random suffix is not needed;
// the appointment ID stays the canonical key.
func NewConfirmationCode(date time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("APPT-%s-%s", date.Format("20060102"), suffix)
}
