// Package memory is an in-process store used for tests and single-instance
// development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage"
)

type Store struct {
	mu           sync.RWMutex
	appts        map[string]model.Appointment
	records      map[string]model.ServiceRecord
	recordByAppt map[string]string
	notes        map[string]model.Notification
	idempotency  map[string][]string
	events       []outbox.Event

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

var (
	_ storage.AppointmentStore  = (*Store)(nil)
	_ storage.RecordStore       = (*Store)(nil)
	_ storage.NotificationStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		appts:        map[string]model.Appointment{},
		records:      map[string]model.ServiceRecord{},
		recordByAppt: map[string]string{},
		notes:        map[string]model.Notification{},
		idempotency:  map[string][]string{},
		locks:        map[string]chan struct{}{},
	}
}

// Events returns a copy of every outbox event written so far.
func (s *Store) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Event(nil), s.events...)
}

func (s *Store) dateLock(date string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[date]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[date] = l
	}
	return l
}

func (s *Store) Admit(ctx context.Context, date string, fn func(ctx context.Context, tx storage.Admission) error) error {
	l := s.dateLock(date)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("admission lock for %s: %w", date, model.ErrConcurrencyConflict)
	}
	defer func() { <-l }()

	tx := &admission{
		store:    s,
		inserted: map[string]model.Appointment{},
		updated:  map[string]model.Appointment{},
		expected: map[string]int64{},
		keys:     map[string][]string{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *admission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, want := range tx.expected {
		if cur, ok := s.appts[id]; !ok || cur.Version != want {
			return model.ErrConcurrencyConflict
		}
	}
	for id := range tx.inserted {
		if _, ok := s.appts[id]; ok {
			return model.ErrDuplicate
		}
	}
	for _, id := range tx.order {
		if a, ok := tx.inserted[id]; ok {
			s.appts[id] = a
		}
		if a, ok := tx.updated[id]; ok {
			s.appts[id] = a
		}
	}
	for k, ids := range tx.keys {
		s.idempotency[k] = ids
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) ListByDate(_ context.Context, date string) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listByDateLocked(date), nil
}

func (s *Store) listByDateLocked(date string) []model.Appointment {
	var out []model.Appointment
	for _, a := range s.appts {
		if a.AppointmentDate == date {
			out = append(out, a.Clone())
		}
	}
	sortAppointments(out)
	return out
}

func (s *Store) ListPendingUnassigned(_ context.Context, fromDate string, limit int) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.Status == model.StatusPending && a.TechnicianID == "" && a.AppointmentDate >= fromDate {
			out = append(out, a.Clone())
		}
	}
	sortAppointments(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, appt *model.Appointment, events ...outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.appts[appt.ID]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Version != appt.Version {
		return model.ErrConcurrencyConflict
	}
	appt.Version++
	s.appts[appt.ID] = appt.Clone()
	s.events = append(s.events, events...)
	return nil
}

func sortAppointments(list []model.Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].AppointmentDate != list[j].AppointmentDate {
			return list[i].AppointmentDate < list[j].AppointmentDate
		}
		if list[i].AppointmentTime != list[j].AppointmentTime {
			return list[i].AppointmentTime < list[j].AppointmentTime
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// admission stages writes until the callback succeeds.
type admission struct {
	store    *Store
	order    []string
	inserted map[string]model.Appointment
	updated  map[string]model.Appointment
	expected map[string]int64
	keys     map[string][]string
	events   []outbox.Event
}

func (tx *admission) ListByDate(_ context.Context, date string) ([]model.Appointment, error) {
	tx.store.mu.RLock()
	base := tx.store.listByDateLocked(date)
	tx.store.mu.RUnlock()

	out := make([]model.Appointment, 0, len(base)+len(tx.inserted))
	for _, a := range base {
		if u, ok := tx.updated[a.ID]; ok {
			a = u.Clone()
		}
		if a.AppointmentDate == date {
			out = append(out, a)
		}
	}
	for _, id := range tx.order {
		if a, ok := tx.inserted[id]; ok && a.AppointmentDate == date {
			out = append(out, a.Clone())
		}
		if a, ok := tx.updated[id]; ok && a.AppointmentDate == date && !containsID(out, id) {
			out = append(out, a.Clone())
		}
	}
	sortAppointments(out)
	return out, nil
}

func containsID(list []model.Appointment, id string) bool {
	for i := range list {
		if list[i].ID == id {
			return true
		}
	}
	return false
}

func (tx *admission) Insert(_ context.Context, appt *model.Appointment, events ...outbox.Event) error {
	if _, ok := tx.inserted[appt.ID]; ok {
		return model.ErrDuplicate
	}
	appt.Version = 1
	tx.inserted[appt.ID] = appt.Clone()
	tx.order = append(tx.order, appt.ID)
	tx.events = append(tx.events, events...)
	return nil
}

func (tx *admission) Update(_ context.Context, appt *model.Appointment, events ...outbox.Event) error {
	if staged, ok := tx.inserted[appt.ID]; ok {
		if staged.Version != appt.Version {
			return model.ErrConcurrencyConflict
		}
		appt.Version++
		tx.inserted[appt.ID] = appt.Clone()
		tx.events = append(tx.events, events...)
		return nil
	}

	current, ok := tx.updated[appt.ID]
	if !ok {
		tx.store.mu.RLock()
		current, ok = tx.store.appts[appt.ID]
		tx.store.mu.RUnlock()
		if !ok {
			return model.ErrNotFound
		}
		tx.expected[appt.ID] = current.Version
		tx.order = append(tx.order, appt.ID)
	}
	if current.Version != appt.Version {
		return model.ErrConcurrencyConflict
	}
	appt.Version++
	tx.updated[appt.ID] = appt.Clone()
	tx.events = append(tx.events, events...)
	return nil
}

func idempotencyKey(customerID, key string) string {
	return customerID + "\x00" + key
}

func (tx *admission) LookupIdempotencyKey(_ context.Context, customerID, key string) ([]string, bool, error) {
	k := idempotencyKey(customerID, key)
	if ids, ok := tx.keys[k]; ok {
		return append([]string(nil), ids...), true, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	ids, ok := tx.store.idempotency[k]
	return append([]string(nil), ids...), ok, nil
}

func (tx *admission) SaveIdempotencyKey(_ context.Context, customerID, key string, appointmentIDs []string) error {
	tx.keys[idempotencyKey(customerID, key)] = append([]string(nil), appointmentIDs...)
	return nil
}

// Service records.

func (s *Store) InsertRecord(_ context.Context, rec *model.ServiceRecord, events ...outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordByAppt[rec.AppointmentID]; ok {
		return model.ErrDuplicate
	}
	rec.Version = 1
	s.records[rec.ID] = rec.Clone()
	s.recordByAppt[rec.AppointmentID] = rec.ID
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) GetRecord(_ context.Context, id string) (model.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return model.ServiceRecord{}, model.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) GetRecordByAppointment(_ context.Context, appointmentID string) (model.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.recordByAppt[appointmentID]
	if !ok {
		return model.ServiceRecord{}, model.ErrNotFound
	}
	return s.records[id].Clone(), nil
}

func (s *Store) UpdateRecord(_ context.Context, rec *model.ServiceRecord, events ...outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Version != rec.Version {
		return model.ErrConcurrencyConflict
	}
	rec.Version++
	s.records[rec.ID] = rec.Clone()
	s.events = append(s.events, events...)
	return nil
}

// Notifications.

func (s *Store) InsertNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[n.ID]; ok {
		return model.ErrDuplicate
	}
	s.notes[n.ID] = *n
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Notification
	for _, n := range s.notes {
		if n.RecipientID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, note := range s.notes {
		if note.RecipientID == userID && !note.Read {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkRead(_ context.Context, userID, id string, at time.Time) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok || n.RecipientID != userID {
		return model.Notification{}, model.ErrNotFound
	}
	n.MarkRead(at)
	s.notes[id] = n
	return n, nil
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, n := range s.notes {
		if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			delete(s.notes, id)
			removed++
		}
	}
	return removed, nil
}
