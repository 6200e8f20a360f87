package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxIface is the subset of pgxpool.Pool the store needs. pgxmock implements
// it for tests.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists appointments and the working-hours template in
// Postgres. Commit serializes per date with an advisory transaction lock, so
// overlap checks and the insert happen in one critical section.
type PostgresStore struct {
	db            PgxIface
	bufferMinutes int
}

// NewPostgresStore creates a store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool, bufferMinutes int) *PostgresStore {
	if pool == nil {
		panic("calendar: pgx pool required")
	}
	return NewPostgresStoreWithDB(pool, bufferMinutes)
}

// NewPostgresStoreWithDB allows injecting mocks for tests.
func NewPostgresStoreWithDB(db PgxIface, bufferMinutes int) *PostgresStore {
	if bufferMinutes < 0 {
		bufferMinutes = 0
	}
	return &PostgresStore{db: db, bufferMinutes: bufferMinutes}
}

var _ Store = (*PostgresStore)(nil)

// AppointmentsOn returns scheduled appointments for the date ordered by
// start minute.
func (s *PostgresStore) AppointmentsOn(ctx context.Context, date string) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, type, date, start_minute, end_minute,
		       patient_name, patient_email, patient_phone, patient_reason,
		       status, confirmation_code, created_at
		FROM appointments
		WHERE date = $1 AND status = 'scheduled'
		ORDER BY start_minute ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("calendar: list appointments: %w", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calendar: list appointments: %w", err)
	}
	return appts, nil
}

// Commit inserts the candidate inside a per-date critical section. The
// advisory lock keys on the date string, so commits for different days never
// contend.
func (s *PostgresStore) Commit(ctx context.Context, appt Appointment) (int64, error) {
	if err := ValidateCandidate(appt); err != nil {
		return 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("calendar: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	key := DateKey(appt.Date)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return 0, fmt.Errorf("calendar: acquire date lock: %w", err)
	}

	expanded := appt.Window().Expand(s.bufferMinutes)
	var conflicts int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE date = $1 AND status = 'scheduled'
		  AND GREATEST(start_minute - $4, 0) < $3
		  AND $2 < LEAST(end_minute + $4, 1440)
	`, key, int(expanded.Start), int(expanded.End), s.bufferMinutes).Scan(&conflicts)
	if err != nil {
		return 0, fmt.Errorf("calendar: conflict check: %w", err)
	}
	if conflicts > 0 {
		return 0, ErrConflict
	}

	createdAt := appt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (
			type, date, start_minute, end_minute,
			patient_name, patient_email, patient_phone, patient_reason,
			status, confirmation_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'scheduled', $9, $10)
		RETURNING id
	`, string(appt.Type), key, int(appt.Start), int(appt.End),
		appt.Patient.Name, appt.Patient.Email, appt.Patient.Phone, appt.Patient.Reason,
		appt.Code, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("calendar: insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("calendar: commit appointment: %w", err)
	}
	return id, nil
}

// Cancel marks the appointment cancelled.
func (s *PostgresStore) Cancel(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = 'cancelled'
		WHERE id = $1 AND status = 'scheduled'
	`, id)
	if err != nil {
		return fmt.Errorf("calendar: cancel appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads an appointment by id.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, type, date, start_minute, end_minute,
		       patient_name, patient_email, patient_phone, patient_reason,
		       status, confirmation_code, created_at
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &appt, nil
}

// WorkingHours loads the weekly template rows. An empty table falls back to
// the default template.
func (s *PostgresStore) WorkingHours(ctx context.Context) (WorkingHours, error) {
	rows, err := s.db.Query(ctx, `
		SELECT weekday, start_minute, end_minute, break_start_minute, break_end_minute
		FROM working_hours
	`)
	if err != nil {
		return nil, fmt.Errorf("calendar: load working hours: %w", err)
	}
	defer rows.Close()

	hours := WorkingHours{}
	for rows.Next() {
		var weekday, start, end int
		var breakStart, breakEnd *int
		if err := rows.Scan(&weekday, &start, &end, &breakStart, &breakEnd); err != nil {
			return nil, fmt.Errorf("calendar: scan working hours: %w", err)
		}
		ds := DaySchedule{Start: MinuteOfDay(start), End: MinuteOfDay(end)}
		if breakStart != nil && breakEnd != nil {
			ds.Break = &Interval{Start: MinuteOfDay(*breakStart), End: MinuteOfDay(*breakEnd)}
		}
		hours[time.Weekday(weekday)] = ds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calendar: load working hours: %w", err)
	}
	if len(hours) == 0 {
		return DefaultWorkingHours(), nil
	}
	if err := hours.Validate(); err != nil {
		return nil, err
	}
	return hours, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (Appointment, error) {
	var (
		appt     Appointment
		typ      string
		dateStr  string
		start    int
		end      int
		status   string
	)
	err := row.Scan(&appt.ID, &typ, &dateStr, &start, &end,
		&appt.Patient.Name, &appt.Patient.Email, &appt.Patient.Phone, &appt.Patient.Reason,
		&status, &appt.Code, &appt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, err
		}
		return Appointment{}, fmt.Errorf("calendar: scan appointment: %w", err)
	}
	date, err := time.Parse(DateFormat, dateStr)
	if err != nil {
		return Appointment{}, fmt.Errorf("calendar: bad stored date %q: %w", dateStr, err)
	}
	appt.Type = AppointmentType(typ)
	appt.Date = date
	appt.Start = MinuteOfDay(start)
	appt.End = MinuteOfDay(end)
	appt.Status = AppointmentStatus(status)
	return appt, nil
}
