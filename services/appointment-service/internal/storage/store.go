package storage

import (
	"context"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
)

// Admission is the write view of one date while its admission lock is held.
// Writes become visible to other callers only if the admission callback
// returns nil.
type Admission interface {
	ListByDate(ctx context.Context, date string) ([]model.Appointment, error)
	// Insert stores a new appointment at version 1.
	Insert(ctx context.Context, appt *model.Appointment, events ...outbox.Event) error
	// Update stores appt if its Version still matches and bumps appt.Version.
	Update(ctx context.Context, appt *model.Appointment, events ...outbox.Event) error
	LookupIdempotencyKey(ctx context.Context, customerID, key string) ([]string, bool, error)
	SaveIdempotencyKey(ctx context.Context, customerID, key string, appointmentIDs []string) error
}

// AppointmentStore persists appointments. Admit serializes every admission for
// the same date; a lock wait that runs out surfaces as
// model.ErrConcurrencyConflict.
type AppointmentStore interface {
	Admit(ctx context.Context, date string, fn func(ctx context.Context, tx Admission) error) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListByDate(ctx context.Context, date string) ([]model.Appointment, error)
	// ListPendingUnassigned returns pending appointments without a technician
	// on or after fromDate, oldest first.
	ListPendingUnassigned(ctx context.Context, fromDate string, limit int) ([]model.Appointment, error)
	Update(ctx context.Context, appt *model.Appointment, events ...outbox.Event) error
}

type RecordStore interface {
	// InsertRecord fails with model.ErrDuplicate when the appointment already
	// has a record.
	InsertRecord(ctx context.Context, rec *model.ServiceRecord, events ...outbox.Event) error
	GetRecord(ctx context.Context, id string) (model.ServiceRecord, error)
	GetRecordByAppointment(ctx context.Context, appointmentID string) (model.ServiceRecord, error)
	UpdateRecord(ctx context.Context, rec *model.ServiceRecord, events ...outbox.Event) error
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// MarkRead fails with model.ErrNotFound unless id belongs to userID.
	MarkRead(ctx context.Context, userID, id string, at time.Time) (model.Notification, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
