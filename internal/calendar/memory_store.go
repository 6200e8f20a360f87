package calendar

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in development and tests. Commits
// for the same date serialize on a per-date mutex so overlapping candidates
// can never both land; different dates proceed independently.
type MemoryStore struct {
	hours         WorkingHours
	bufferMinutes int

	mu     sync.RWMutex // guards byDate, byID, nextID, dateLocks
	byDate map[string][]int64
	byID   map[int64]*Appointment
	nextID int64

	dateLocks map[string]*sync.Mutex
}

// NewMemoryStore creates a store with the given template and conflict buffer.
func NewMemoryStore(hours WorkingHours, bufferMinutes int) *MemoryStore {
	if hours == nil {
		hours = DefaultWorkingHours()
	}
	if bufferMinutes < 0 {
		bufferMinutes = 0
	}
	return &MemoryStore{
		hours:         hours,
		bufferMinutes: bufferMinutes,
		byDate:        make(map[string][]int64),
		byID:          make(map[int64]*Appointment),
		dateLocks:     make(map[string]*sync.Mutex),
	}
}

var _ Store = (*MemoryStore)(nil)

// WorkingHours returns the weekly template.
func (s *MemoryStore) WorkingHours(_ context.Context) (WorkingHours, error) {
	return s.hours, nil
}

// AppointmentsOn returns scheduled appointments for the date, ordered by
// start time.
func (s *MemoryStore) AppointmentsOn(_ context.Context, date string) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scheduledOnLocked(date), nil
}

func (s *MemoryStore) scheduledOnLocked(date string) []Appointment {
	ids := s.byDate[date]
	appts := make([]Appointment, 0, len(ids))
	for _, id := range ids {
		if a := s.byID[id]; a != nil && a.IsScheduled() {
			appts = append(appts, *a)
		}
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].Start < appts[j].Start })
	return appts
}

// Commit inserts the candidate unless it overlaps, after buffer expansion,
// any scheduled appointment on the same date.
func (s *MemoryStore) Commit(ctx context.Context, appt Appointment) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ValidateCandidate(appt); err != nil {
		return 0, err
	}

	key := DateKey(appt.Date)
	lock := s.lockForDate(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	expanded := appt.Window().Expand(s.bufferMinutes)
	for _, existing := range s.scheduledOnLocked(key) {
		if expanded.Overlaps(existing.Window().Expand(s.bufferMinutes)) {
			return 0, ErrConflict
		}
	}

	s.nextID++
	stored := appt
	stored.ID = s.nextID
	stored.Status = StatusScheduled
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.byID[stored.ID] = &stored
	s.byDate[key] = append(s.byDate[key], stored.ID)
	return stored.ID, nil
}

// Cancel marks the appointment cancelled.
func (s *MemoryStore) Cancel(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	appt.Status = StatusCancelled
	return nil
}

// Get loads an appointment by id.
func (s *MemoryStore) Get(_ context.Context, id int64) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *appt
	return &copied, nil
}

func (s *MemoryStore) lockForDate(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.dateLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.dateLocks[key] = lock
	}
	return lock
}
