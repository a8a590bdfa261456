package lifecycle

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
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/assignment"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/availability"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/capacity"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/directory"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage"
)

const tracerName = "lifecycle"

// Assigner picks a technician right after admission.
type Assigner interface {
	Assign(ctx context.Context, appointmentID, actor string) (assignment.Outcome, error)
}

// RecordOpener creates the service record when work begins.
type RecordOpener interface {
	Open(ctx context.Context, appt model.Appointment) (model.ServiceRecord, error)
}

type Config struct {
	Fees        FeePolicy
	MaxVehicles int
}

func DefaultConfig() Config {
	return Config{Fees: DefaultFeePolicy(), MaxVehicles: 5}
}

type Deps struct {
	Store    storage.AppointmentStore
	Calendar *availability.Calculator
	Assigner Assigner
	Records  RecordOpener
	Users    directory.Users
	Notifier notify.Notifier
	Logger   *zap.Logger
	Now      func() time.Time
}

type Manager struct {
	store    storage.AppointmentStore
	cal      *availability.Calculator
	assigner Assigner
	records  RecordOpener
	users    directory.Users
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
	cfg      Config
}

func NewManager(d Deps, cfg Config) *Manager {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.MaxVehicles <= 0 {
		cfg.MaxVehicles = DefaultConfig().MaxVehicles
	}
	return &Manager{
		store:    d.Store,
		cal:      d.Calendar,
		assigner: d.Assigner,
		records:  d.Records,
		users:    d.Users,
		notifier: d.Notifier,
		logger:   d.Logger,
		now:      d.Now,
		cfg:      cfg,
	}
}

type CreateRequest struct {
	CustomerID      string
	VehicleIDs      []string
	ServiceIDs      []string
	Date            string
	Time            string
	DurationMinutes int
	BookingFee      int64
	IdempotencyKey  string
	Actor           string
}

type CreateResult struct {
	Appointments []model.Appointment
	// Replayed is true when the idempotency key matched an earlier booking.
	Replayed bool
}

func (r CreateRequest) check(maxVehicles int) error {
	switch {
	case strings.TrimSpace(r.CustomerID) == "":
		return &model.InvalidInputError{Field: "customer_id", Reason: "required"}
	case len(r.VehicleIDs) == 0:
		return &model.InvalidInputError{Field: "vehicle_ids", Reason: "at least one vehicle is required"}
	case len(r.VehicleIDs) > maxVehicles:
		return &model.InvalidInputError{Field: "vehicle_ids", Reason: fmt.Sprintf("at most %d vehicles per booking", maxVehicles)}
	case r.DurationMinutes <= 0:
		return &model.InvalidInputError{Field: "duration_minutes", Reason: "must be positive"}
	case r.BookingFee < 0:
		return &model.InvalidInputError{Field: "booking_fee", Reason: "must not be negative"}
	}
	seen := map[string]bool{}
	for _, v := range r.VehicleIDs {
		if strings.TrimSpace(v) == "" {
			return &model.InvalidInputError{Field: "vehicle_ids", Reason: "blank vehicle id"}
		}
		if seen[v] {
			return &model.InvalidInputError{Field: "vehicle_ids", Reason: "duplicate vehicle " + v}
		}
		seen[v] = true
	}
	if _, err := model.ParseClock(r.Time); err != nil {
		return &model.InvalidInputError{Field: "time", Reason: err.Error()}
	}
	return nil
}

// plan lays the group's vehicles out back to back from the requested start.
func (m *Manager) plan(req CreateRequest, now time.Time) ([]model.Appointment, error) {
	durations, err := m.cal.VehicleDurations(req.DurationMinutes, len(req.VehicleIDs))
	if err != nil {
		return nil, err
	}
	start, _ := model.ParseClock(req.Time)
	groupID := ""
	if len(req.VehicleIDs) > 1 {
		groupID = uuid.NewString()
	}
	out := make([]model.Appointment, 0, len(req.VehicleIDs))
	for i, vid := range req.VehicleIDs {
		a := model.Appointment{
			ID:                  uuid.NewString(),
			CustomerID:          req.CustomerID,
			Vehicle:             model.VehicleID(vid),
			ServiceIDs:          append([]string(nil), req.ServiceIDs...),
			Status:              model.StatusPending,
			GroupID:             groupID,
			BookingFee:          req.BookingFee,
			PaymentStatus:       model.PaymentUnpaid,
			ModificationHistory: []model.Modification{},
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if groupID != "" {
			a.Sequence = i + 1
		}
		if err := a.SetSchedule(req.Date, model.FormatClockUnchecked(start), durations[i]); err != nil {
			return nil, err
		}
		a.AppendStatus(model.StatusPending, now, req.Actor, "booking received")
		out = append(out, a)
		start += durations[i]
	}
	return out, nil
}

// Create admits a booking of one or more vehicles. Capacity is checked again
// under the date's admission lock before anything is written.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (res CreateResult, err error) {
	ctx, span := otelx.Start(ctx, tracerName, "lifecycle.Create",
		attribute.String("appointment.date", req.Date),
		attribute.Int("vehicle.count", len(req.VehicleIDs)),
	)
	defer func() { otelx.End(span, err) }()

	if err := req.check(m.cfg.MaxVehicles); err != nil {
		return CreateResult{}, err
	}
	if req.Actor == "" {
		req.Actor = req.CustomerID
	}
	day, err := m.cal.ParseDate(req.Date)
	if err != nil {
		return CreateResult{}, &model.InvalidInputError{Field: "date", Reason: `want "YYYY-MM-DD"`}
	}
	req.Date = day.Format(model.DateLayout)

	now := m.now().UTC()
	appts, err := m.plan(req, now)
	if err != nil {
		return CreateResult{}, err
	}

	// Cheap rejection before queueing on the lock. A keyed request may be the
	// retry of a booking that already took the slot, so only the lookup under
	// the lock can reject it.
	if req.IdempotencyKey == "" {
		existing, err := m.store.ListByDate(ctx, req.Date)
		if err != nil {
			return CreateResult{}, fmt.Errorf("list appointments: %w", err)
		}
		if err := m.evaluate(appts, existing, now); err != nil {
			return CreateResult{}, err
		}
	}

	var replayIDs []string
	err = m.store.Admit(ctx, req.Date, func(ctx context.Context, tx storage.Admission) error {
		if req.IdempotencyKey != "" {
			ids, ok, err := tx.LookupIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				replayIDs = ids
				return nil
			}
		}
		existing, err := tx.ListByDate(ctx, req.Date)
		if err != nil {
			return err
		}
		if err := m.evaluate(appts, existing, m.now()); err != nil {
			return err
		}
		ids := make([]string, 0, len(appts))
		for i := range appts {
			evt, err := outbox.NewEvent(outbox.AggregateAppointment, appts[i].ID, outbox.AppointmentCreated, appts[i])
			if err != nil {
				return err
			}
			if err := tx.Insert(ctx, &appts[i], evt); err != nil {
				return err
			}
			ids = append(ids, appts[i].ID)
		}
		if req.IdempotencyKey != "" {
			return tx.SaveIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey, ids)
		}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	if replayIDs != nil {
		return m.replay(ctx, replayIDs)
	}

	m.logger.Info("appointment booked",
		zap.String("customer_id", req.CustomerID),
		zap.String("date", req.Date),
		zap.String("time", req.Time),
		zap.Int("vehicles", len(appts)),
	)

	for i := range appts {
		appts[i] = m.assign(ctx, appts[i], req.Actor)
		m.dispatch(ctx, notify.Event{Type: model.NotifyBookingReceived, RecipientID: appts[i].CustomerID, Appointment: &appts[i]})
	}
	m.notifyAdmins(ctx, appts)
	return CreateResult{Appointments: appts}, nil
}

// evaluate checks every window of the plan. Windows already in the plan count
// against later ones, so a group cannot overbook itself.
func (m *Manager) evaluate(plan, existing []model.Appointment, now time.Time) error {
	booked := append([]model.Appointment(nil), existing...)
	for _, a := range plan {
		res := capacity.Evaluate(m.cal, capacity.Request{
			Date:      a.AppointmentDate,
			StartTime: a.AppointmentTime,
			Duration:  a.Duration,
		}, booked, now)
		if !res.IsAvailable {
			return res.ValidationError()
		}
		booked = append(booked, a)
	}
	return nil
}

func (m *Manager) replay(ctx context.Context, ids []string) (CreateResult, error) {
	out := CreateResult{Replayed: true}
	for _, id := range ids {
		a, err := m.store.Get(ctx, id)
		if err != nil {
			return CreateResult{}, fmt.Errorf("replay %s: %w", id, err)
		}
		out.Appointments = append(out.Appointments, a)
	}
	return out, nil
}

func (m *Manager) assign(ctx context.Context, appt model.Appointment, actor string) model.Appointment {
	if m.assigner == nil {
		return appt
	}
	out, err := m.assigner.Assign(ctx, appt.ID, "system")
	if err != nil {
		m.logger.Warn("auto-assignment failed; appointment stays pending",
			zap.String("appointment_id", appt.ID),
			zap.String("actor", actor),
			zap.Error(err),
		)
		return appt
	}
	if out.Assigned {
		return out.Appointment
	}
	return appt
}

func (m *Manager) notifyAdmins(ctx context.Context, appts []model.Appointment) {
	if m.users == nil || m.notifier == nil {
		return
	}
	admins, err := m.users.ListByRole(ctx, "admin")
	if err != nil {
		m.logger.Warn("list admins failed", zap.Error(err))
		return
	}
	for _, admin := range admins {
		for i := range appts {
			m.dispatch(ctx, notify.Event{Type: model.NotifyNewBooking, RecipientID: admin.ID, Role: admin.Role, Appointment: &appts[i]})
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, ev notify.Event) {
	if m.notifier == nil || ev.RecipientID == "" {
		return
	}
	m.notifier.Dispatch(ctx, ev)
}

type statusChangedPayload struct {
	AppointmentID   string    `json:"appointment_id"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Actor           string    `json:"actor"`
	Note            string    `json:"note,omitempty"`
	CancellationFee *int64    `json:"cancellation_fee,omitempty"`
	At              time.Time `json:"at"`
}

// Transition moves an appointment to status to. Every accepted change appends
// a history row; terminal appointments reject all changes.
func (m *Manager) Transition(ctx context.Context, id string, to model.AppointmentStatus, actor, note string) (appt model.Appointment, err error) {
	ctx, span := otelx.Start(ctx, tracerName, "lifecycle.Transition",
		attribute.String("appointment.id", id),
		attribute.String("appointment.to", string(to)),
	)
	defer func() { otelx.End(span, err) }()

	appt, err = m.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	d, err := Decide(appt, to, m.now().UTC(), m.cal.Location(), m.cfg.Fees)
	if err != nil {
		return model.Appointment{}, err
	}
	Apply(&appt, d, actor, note)
	evt, err := outbox.NewEvent(outbox.AggregateAppointment, appt.ID, outbox.AppointmentStatusChanged, statusChangedPayload{
		AppointmentID:   appt.ID,
		From:            string(d.From),
		To:              string(d.To),
		Actor:           actor,
		Note:            note,
		CancellationFee: d.CancellationFee,
		At:              d.At,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if err := m.store.Update(ctx, &appt, evt); err != nil {
		return model.Appointment{}, err
	}

	m.logger.Info("appointment status changed",
		zap.String("appointment_id", appt.ID),
		zap.String("from", string(d.From)),
		zap.String("to", string(d.To)),
		zap.String("actor", actor),
	)

	if to == model.StatusInService && m.records != nil {
		if _, err := m.records.Open(ctx, appt); err != nil {
			m.logger.Error("open service record failed, it opens on first read", zap.String("appointment_id", appt.ID), zap.Error(err))
		}
	}
	m.announce(ctx, appt)
	return appt, nil
}

// Complete finishes an in-service appointment. Completing twice is a no-op.
func (m *Manager) Complete(ctx context.Context, id, actor string) error {
	_, err := m.Transition(ctx, id, model.StatusCompleted, actor, "service completed")
	var terr *model.InvalidTransitionError
	if errors.As(err, &terr) && terr.From == model.StatusCompleted {
		return nil
	}
	return err
}

func (m *Manager) announce(ctx context.Context, appt model.Appointment) {
	var t model.NotificationType
	switch appt.Status {
	case model.StatusConfirmed:
		t = model.NotifyAppointmentConfirmed
	case model.StatusInService:
		t = model.NotifyServiceStarted
	case model.StatusCompleted:
		t = model.NotifyServiceCompleted
	case model.StatusCancelled:
		t = model.NotifyAppointmentCancelled
	default:
		return
	}
	note := ""
	if appt.Status == model.StatusCancelled {
		note = appt.CancelReason
	}
	m.dispatch(ctx, notify.Event{Type: t, RecipientID: appt.CustomerID, Appointment: &appt, Note: note})
	if appt.Status == model.StatusCancelled && appt.TechnicianID != "" {
		m.dispatch(ctx, notify.Event{Type: t, RecipientID: appt.TechnicianID, Appointment: &appt, Note: note})
	}
}

type rescheduledPayload struct {
	AppointmentID string             `json:"appointment_id"`
	Change        model.Modification `json:"change"`
}

// Reschedule moves a pending or confirmed appointment to a new slot. The new
// slot is validated with the appointment's own reservation excluded. Status
// and technician are kept.
func (m *Manager) Reschedule(ctx context.Context, id, newDate, newTime, reason, actor string) (appt model.Appointment, err error) {
	ctx, span := otelx.Start(ctx, tracerName, "lifecycle.Reschedule",
		attribute.String("appointment.id", id),
		attribute.String("appointment.new_date", newDate),
	)
	defer func() { otelx.End(span, err) }()

	appt, err = m.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusPending && appt.Status != model.StatusConfirmed {
		return model.Appointment{}, &model.InvalidTransitionError{From: appt.Status, To: appt.Status, Action: "reschedule"}
	}
	day, err := m.cal.ParseDate(newDate)
	if err != nil {
		return model.Appointment{}, &model.InvalidInputError{Field: "new_date", Reason: `want "YYYY-MM-DD"`}
	}
	newDate = day.Format(model.DateLayout)
	if _, err := model.ParseClock(newTime); err != nil {
		return model.Appointment{}, &model.InvalidInputError{Field: "new_time", Reason: err.Error()}
	}

	err = m.store.Admit(ctx, newDate, func(ctx context.Context, tx storage.Admission) error {
		existing, err := tx.ListByDate(ctx, newDate)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		res := capacity.Evaluate(m.cal, capacity.Request{
			Date:      newDate,
			StartTime: newTime,
			Duration:  appt.Duration,
			ExcludeID: appt.ID,
		}, existing, now)
		if !res.IsAvailable {
			return res.ValidationError()
		}

		change := model.Modification{
			OldDate:   appt.AppointmentDate,
			OldTime:   appt.AppointmentTime,
			Reason:    reason,
			Actor:     actor,
			Timestamp: now,
		}
		if err := appt.SetSchedule(newDate, newTime, appt.Duration); err != nil {
			return err
		}
		change.NewDate = appt.AppointmentDate
		change.NewTime = appt.AppointmentTime
		appt.ModificationCount++
		appt.ModificationHistory = append(appt.ModificationHistory, change)
		appt.UpdatedAt = now

		evt, err := outbox.NewEvent(outbox.AggregateAppointment, appt.ID, outbox.AppointmentRescheduled, rescheduledPayload{
			AppointmentID: appt.ID,
			Change:        change,
		})
		if err != nil {
			return err
		}
		return tx.Update(ctx, &appt, evt)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	m.logger.Info("appointment rescheduled",
		zap.String("appointment_id", appt.ID),
		zap.String("date", appt.AppointmentDate),
		zap.String("time", appt.AppointmentTime),
	)
	m.dispatch(ctx, notify.Event{Type: model.NotifyAppointmentRescheduled, RecipientID: appt.CustomerID, Appointment: &appt, Note: reason})
	return appt, nil
}

func (m *Manager) Get(ctx context.Context, id string) (model.Appointment, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, date string) ([]model.Appointment, error) {
	day, err := m.cal.ParseDate(date)
	if err != nil {
		return nil, &model.InvalidInputError{Field: "date", Reason: `want "YYYY-MM-DD"`}
	}
	return m.store.ListByDate(ctx, day.Format(model.DateLayout))
}
