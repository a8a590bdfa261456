package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	otelx "github.com/Serryudy/EAD-sub001/libs/otel"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage"
)

const tracerName = "execution"

// Completer finishes the appointment once its record is completed. It must be
// idempotent.
type Completer interface {
	Complete(ctx context.Context, appointmentID, actor string) error
}

type AppointmentReader interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
}

// View is a record with its derived timer values at read time.
type View struct {
	model.ServiceRecord
	CurrentTimerValue int64 `json:"current_timer_value"`
	Progress          int   `json:"progress"`
}

type Timer struct {
	records   storage.RecordStore
	appts     AppointmentReader
	notifier  notify.Notifier
	completer Completer
	logger    *zap.Logger
	now       func() time.Time
}

func NewTimer(records storage.RecordStore, appts AppointmentReader, notifier notify.Notifier, logger *zap.Logger, now func() time.Time) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Timer{records: records, appts: appts, notifier: notifier, logger: logger, now: now}
}

// SetCompleter wires the lifecycle manager after both are constructed.
func (t *Timer) SetCompleter(c Completer) {
	t.completer = c
}

func (t *Timer) view(rec model.ServiceRecord) View {
	now := t.now()
	return View{ServiceRecord: rec, CurrentTimerValue: rec.CurrentTimerValue(now), Progress: rec.Progress(now)}
}

// Open creates the record for an appointment entering service. Opening twice
// returns the existing record.
func (t *Timer) Open(ctx context.Context, appt model.Appointment) (model.ServiceRecord, error) {
	if rec, err := t.records.GetRecordByAppointment(ctx, appt.ID); err == nil {
		return rec, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.ServiceRecord{}, err
	}
	now := t.now().UTC()
	rec := model.ServiceRecord{
		ID:                  uuid.NewString(),
		AppointmentID:       appt.ID,
		CustomerID:          appt.CustomerID,
		TechnicianID:        appt.TechnicianID,
		Status:              model.RecordReceived,
		EstimatedDurationMs: int64(appt.Duration) * int64(time.Minute/time.Millisecond),
		LiveUpdates:         []model.LiveUpdate{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	evt, err := outbox.NewEvent(outbox.AggregateServiceRecord, rec.ID, outbox.ServiceRecordOpened, rec)
	if err != nil {
		return model.ServiceRecord{}, err
	}
	err = t.records.InsertRecord(ctx, &rec, evt)
	if errors.Is(err, model.ErrDuplicate) {
		return t.records.GetRecordByAppointment(ctx, appt.ID)
	}
	if err != nil {
		return model.ServiceRecord{}, err
	}
	t.logger.Info("service record opened", zap.String("record_id", rec.ID), zap.String("appointment_id", appt.ID))
	return rec, nil
}

type updatedPayload struct {
	RecordID      string             `json:"record_id"`
	AppointmentID string             `json:"appointment_id"`
	Change        string             `json:"change"`
	Status        model.RecordStatus `json:"status"`
	TimerStarted  bool               `json:"timer_started"`
	TimerDuration int64              `json:"timer_duration"`
	At            time.Time          `json:"at"`
}

// mutate reads, changes and writes a record. A lost race is retried once on a
// fresh read, where repeating the same change is a no-op.
func (t *Timer) mutate(ctx context.Context, id, change string, fn func(rec *model.ServiceRecord, now time.Time) (bool, error)) (model.ServiceRecord, bool, error) {
	for attempt := 0; ; attempt++ {
		rec, err := t.records.GetRecord(ctx, id)
		if err != nil {
			return model.ServiceRecord{}, false, err
		}
		now := t.now().UTC()
		changed, err := fn(&rec, now)
		if err != nil || !changed {
			return rec, false, err
		}
		evt, err := outbox.NewEvent(outbox.AggregateServiceRecord, rec.ID, outbox.ServiceRecordUpdated, updatedPayload{
			RecordID:      rec.ID,
			AppointmentID: rec.AppointmentID,
			Change:        change,
			Status:        rec.Status,
			TimerStarted:  rec.TimerStarted,
			TimerDuration: rec.TimerDuration,
			At:            now,
		})
		if err != nil {
			return model.ServiceRecord{}, false, err
		}
		err = t.records.UpdateRecord(ctx, &rec, evt)
		if errors.Is(err, model.ErrConcurrencyConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return model.ServiceRecord{}, false, err
		}
		return rec, true, nil
	}
}

func (t *Timer) Get(ctx context.Context, id string) (View, error) {
	rec, err := t.records.GetRecord(ctx, id)
	if err != nil {
		return View{}, err
	}
	return t.view(rec), nil
}

// GetByAppointment also opens a missing record for an appointment that is
// already in service, which happens when the open after the status change
// failed.
func (t *Timer) GetByAppointment(ctx context.Context, appointmentID string) (View, error) {
	rec, err := t.records.GetRecordByAppointment(ctx, appointmentID)
	if errors.Is(err, model.ErrNotFound) && t.appts != nil {
		appt, aerr := t.appts.Get(ctx, appointmentID)
		if aerr != nil || appt.Status != model.StatusInService {
			return View{}, err
		}
		if rec, err = t.Open(ctx, appt); err != nil {
			return View{}, err
		}
		t.logger.Warn("service record was missing, opened on read", zap.String("appointment_id", appointmentID))
	}
	if err != nil {
		return View{}, err
	}
	return t.view(rec), nil
}

func (t *Timer) Start(ctx context.Context, id string) (View, error) {
	rec, _, err := t.mutate(ctx, id, "timer_started", func(rec *model.ServiceRecord, now time.Time) (bool, error) {
		return ApplyStart(rec, now)
	})
	if err != nil {
		return View{}, err
	}
	return t.view(rec), nil
}

func (t *Timer) Stop(ctx context.Context, id string) (View, error) {
	rec, _, err := t.mutate(ctx, id, "timer_stopped", func(rec *model.ServiceRecord, now time.Time) (bool, error) {
		return ApplyStop(rec, now), nil
	})
	if err != nil {
		return View{}, err
	}
	return t.view(rec), nil
}

// AddLiveUpdate appends a progress message and pushes it to the customer in-app.
func (t *Timer) AddLiveUpdate(ctx context.Context, id, message, author string) (View, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return View{}, &model.InvalidInputError{Field: "message", Reason: "required"}
	}
	rec, _, err := t.mutate(ctx, id, "live_update", func(rec *model.ServiceRecord, now time.Time) (bool, error) {
		if rec.Status.Terminal() {
			return false, ErrRecordClosed
		}
		rec.LiveUpdates = append(rec.LiveUpdates, model.LiveUpdate{Message: message, Timestamp: now, Author: author})
		rec.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return View{}, err
	}
	t.notify(ctx, rec, model.NotifyServiceUpdate, message, []string{model.ChannelInApp})
	return t.view(rec), nil
}

// SetStatus moves the record along received, in-progress, quality-check,
// completed. Completing also completes the appointment.
func (t *Timer) SetStatus(ctx context.Context, id string, to model.RecordStatus, actor string) (view View, err error) {
	ctx, span := otelx.Start(ctx, tracerName, "execution.SetStatus",
		attribute.String("service_record.id", id),
		attribute.String("service_record.to", string(to)),
	)
	defer func() { otelx.End(span, err) }()

	rec, changed, err := t.mutate(ctx, id, "status_"+string(to), func(rec *model.ServiceRecord, now time.Time) (bool, error) {
		return ApplyStatus(rec, to, now)
	})
	if err != nil {
		return View{}, err
	}
	if changed {
		t.logger.Info("service record status changed",
			zap.String("record_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.String("actor", actor),
		)
	}
	if to == model.RecordCompleted {
		if err := t.complete(ctx, rec, actor, changed); err != nil {
			return View{}, err
		}
	}
	return t.view(rec), nil
}

// complete runs on every completed request, so a retry heals an appointment
// whose completion failed the first time.
func (t *Timer) complete(ctx context.Context, rec model.ServiceRecord, actor string, changed bool) error {
	if t.completer == nil {
		if changed {
			t.notify(ctx, rec, model.NotifyServiceCompleted, "", nil)
		}
		return nil
	}
	if err := t.completer.Complete(ctx, rec.AppointmentID, actor); err != nil {
		return fmt.Errorf("complete appointment %s: %w", rec.AppointmentID, err)
	}
	return nil
}

func (t *Timer) notify(ctx context.Context, rec model.ServiceRecord, typ model.NotificationType, note string, channels []string) {
	if t.notifier == nil {
		return
	}
	ev := notify.Event{Type: typ, RecipientID: rec.CustomerID, Record: &rec, Note: note, Channels: channels}
	if t.appts != nil {
		if appt, err := t.appts.Get(ctx, rec.AppointmentID); err == nil {
			ev.Appointment = &appt
			if ev.RecipientID == "" {
				ev.RecipientID = appt.CustomerID
			}
		}
	}
	if ev.RecipientID == "" {
		return
	}
	t.notifier.Dispatch(ctx, ev)
}
