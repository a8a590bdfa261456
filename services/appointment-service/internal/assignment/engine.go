// Package assignment picks a technician for pending appointments.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	otelx "github.com/Serryudy/EAD-sub001/libs/otel"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/directory"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/outbox"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage"
)

const tracerName = "assignment"

type Config struct {
	// MaxDailyLoad is the number of confirmed or in-service appointments a
	// technician may hold on one day.
	MaxDailyLoad int
	// RetryBatch bounds how many pending appointments one retry pass visits.
	RetryBatch int
}

func DefaultConfig() Config {
	return Config{MaxDailyLoad: 8, RetryBatch: 100}
}

// Outcome reports what Assign did. Assigned is false when nobody was eligible
// and the appointment stays pending.
type Outcome struct {
	Assigned    bool
	Appointment model.Appointment
}

type Engine struct {
	store    storage.AppointmentStore
	techs    directory.Technicians
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
	cfg      Config
}

func NewEngine(store storage.AppointmentStore, techs directory.Technicians, notifier notify.Notifier, cfg Config, logger *zap.Logger, now func() time.Time) *Engine {
	def := DefaultConfig()
	if cfg.MaxDailyLoad <= 0 {
		cfg.MaxDailyLoad = def.MaxDailyLoad
	}
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = def.RetryBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, techs: techs, notifier: notifier, logger: logger, now: now, cfg: cfg}
}

// Loads counts confirmed and in-service appointments per technician.
func Loads(appts []model.Appointment) map[string]int {
	loads := map[string]int{}
	for _, a := range appts {
		if a.TechnicianID == "" {
			continue
		}
		if a.Status == model.StatusConfirmed || a.Status == model.StatusInService {
			loads[a.TechnicianID]++
		}
	}
	return loads
}

// Pick returns the active technician with the lowest load below max. Ties go
// to the smallest EmployeeID.
func Pick(techs []model.Technician, loads map[string]int, max int) (model.Technician, bool) {
	var best model.Technician
	found := false
	for _, t := range techs {
		if !t.Active || loads[t.UserID] >= max {
			continue
		}
		if !found ||
			loads[t.UserID] < loads[best.UserID] ||
			(loads[t.UserID] == loads[best.UserID] && t.EmployeeID < best.EmployeeID) {
			best = t
			found = true
		}
	}
	return best, found
}

type assignedPayload struct {
	AppointmentID  string    `json:"appointment_id"`
	TechnicianID   string    `json:"technician_id"`
	TechnicianName string    `json:"technician_name"`
	Status         string    `json:"status"`
	Actor          string    `json:"actor"`
	At             time.Time `json:"at"`
}

func assignedEvent(a model.Appointment, actor string, at time.Time) (outbox.Event, error) {
	return outbox.NewEvent(outbox.AggregateAppointment, a.ID, outbox.AppointmentAssigned, assignedPayload{
		AppointmentID:  a.ID,
		TechnicianID:   a.TechnicianID,
		TechnicianName: a.TechnicianName,
		Status:         string(a.Status),
		Actor:          actor,
		At:             at,
	})
}

func setTechnician(a *model.Appointment, t model.Technician, at time.Time) {
	a.TechnicianID = t.UserID
	a.TechnicianName = t.Name
	a.AssignedAt = &at
	a.UpdatedAt = at
}

func find(list []model.Appointment, id string) (model.Appointment, bool) {
	for _, a := range list {
		if a.ID == id {
			return a, true
		}
	}
	return model.Appointment{}, false
}

// Assign auto-assigns a pending appointment. Loads are read under the date's
// admission lock so two assignments cannot both take a technician's last slot.
func (e *Engine) Assign(ctx context.Context, appointmentID, actor string) (out Outcome, err error) {
	ctx, span := otelx.Start(ctx, tracerName, "assignment.Assign", attribute.String("appointment.id", appointmentID))
	defer func() { otelx.End(span, err) }()

	appt, err := e.store.Get(ctx, appointmentID)
	if err != nil {
		return Outcome{}, err
	}
	if appt.Status != model.StatusPending {
		return Outcome{}, &model.InvalidTransitionError{From: appt.Status, To: model.StatusConfirmed, Action: "auto-assign"}
	}
	techs, err := e.techs.ListTechnicians(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list technicians: %w", err)
	}

	now := e.now().UTC()
	err = e.store.Admit(ctx, appt.AppointmentDate, func(ctx context.Context, tx storage.Admission) error {
		sameDay, err := tx.ListByDate(ctx, appt.AppointmentDate)
		if err != nil {
			return err
		}
		current, ok := find(sameDay, appointmentID)
		if !ok {
			return model.ErrNotFound
		}
		if current.Status != model.StatusPending {
			return &model.InvalidTransitionError{From: current.Status, To: model.StatusConfirmed, Action: "auto-assign"}
		}
		tech, ok := Pick(techs, Loads(sameDay), e.cfg.MaxDailyLoad)
		if !ok {
			out = Outcome{Appointment: current}
			return nil
		}
		setTechnician(&current, tech, now)
		current.AppendStatus(model.StatusConfirmed, now, actor, "assigned to "+tech.Name)
		evt, err := assignedEvent(current, actor, now)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, &current, evt); err != nil {
			return err
		}
		out = Outcome{Assigned: true, Appointment: current}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if !out.Assigned {
		e.logger.Info("no technician available; appointment stays pending",
			zap.String("appointment_id", appointmentID),
			zap.String("date", appt.AppointmentDate),
		)
		return out, nil
	}
	e.announce(ctx, out.Appointment, true)
	return out, nil
}

// AssignTo lets an admin pick the technician. A pending appointment becomes
// confirmed; a confirmed one is reassigned without a status change.
func (e *Engine) AssignTo(ctx context.Context, appointmentID, technicianID, actor string) (out model.Appointment, err error) {
	ctx, span := otelx.Start(ctx, tracerName, "assignment.AssignTo",
		attribute.String("appointment.id", appointmentID),
		attribute.String("technician.id", technicianID),
	)
	defer func() { otelx.End(span, err) }()

	techs, err := e.techs.ListTechnicians(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("list technicians: %w", err)
	}
	var tech model.Technician
	for _, t := range techs {
		if t.UserID == technicianID && t.Active {
			tech = t
		}
	}
	if tech.UserID == "" {
		return model.Appointment{}, &model.InvalidInputError{Field: "technician_id", Reason: "unknown or inactive technician"}
	}

	appt, err := e.store.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusPending && appt.Status != model.StatusConfirmed {
		return model.Appointment{}, &model.InvalidTransitionError{From: appt.Status, Action: "assign"}
	}
	confirming := appt.Status == model.StatusPending
	now := e.now().UTC()
	setTechnician(&appt, tech, now)
	if confirming {
		appt.AppendStatus(model.StatusConfirmed, now, actor, "assigned to "+tech.Name)
	}
	evt, err := assignedEvent(appt, actor, now)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := e.store.Update(ctx, &appt, evt); err != nil {
		return model.Appointment{}, err
	}
	e.announce(ctx, appt, confirming)
	return appt, nil
}

// RetryPending re-runs auto-assignment for unassigned pending appointments on
// or after fromDate and returns how many were assigned.
func (e *Engine) RetryPending(ctx context.Context, fromDate string) (int, error) {
	pending, err := e.store.ListPendingUnassigned(ctx, fromDate, e.cfg.RetryBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	assigned := 0
	for _, a := range pending {
		if ctx.Err() != nil {
			return assigned, ctx.Err()
		}
		out, err := e.Assign(ctx, a.ID, "system")
		if err != nil {
			if !errors.Is(err, model.ErrInvalidTransition) {
				e.logger.Warn("assignment retry failed", zap.String("appointment_id", a.ID), zap.Error(err))
			}
			continue
		}
		if out.Assigned {
			assigned++
		}
	}
	return assigned, nil
}

// announce sends the customer confirmation and the technician assignment as
// two independent dispatches.
func (e *Engine) announce(ctx context.Context, appt model.Appointment, confirmed bool) {
	if e.notifier == nil {
		return
	}
	if confirmed {
		e.notifier.Dispatch(ctx, notify.Event{
			Type:        model.NotifyAppointmentConfirmed,
			RecipientID: appt.CustomerID,
			Appointment: &appt,
		})
	}
	e.notifier.Dispatch(ctx, notify.Event{
		Type:        model.NotifyTechnicianAssigned,
		RecipientID: appt.TechnicianID,
		Appointment: &appt,
	})
}
