package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/directory"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/email"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/push"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/sms"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage"
)

type Config struct {
	// ChannelTimeout bounds each channel attempt independently.
	ChannelTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{ChannelTimeout: 10 * time.Second}
}

type Deps struct {
	Users    directory.Users
	Vehicles directory.Vehicles
	Store    storage.NotificationStore
	Pusher   push.Pusher
	Email    email.Sender
	SMS      sms.Sender
	Logger   *zap.Logger
	Now      func() time.Time
}

type Dispatcher struct {
	users    directory.Users
	vehicles directory.Vehicles
	store    storage.NotificationStore
	pusher   push.Pusher
	email    email.Sender
	sms      sms.Sender
	logger   *zap.Logger
	now      func() time.Time
	cfg      Config
}

func NewDispatcher(d Deps, cfg Config) *Dispatcher {
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = DefaultConfig().ChannelTimeout
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Pusher == nil {
		d.Pusher = push.Noop{}
	}
	if d.Email == nil {
		d.Email = email.NewNoopSender()
	}
	if d.SMS == nil {
		d.SMS = sms.NewNoopSender()
	}
	return &Dispatcher{
		users:    d.Users,
		vehicles: d.Vehicles,
		store:    d.Store,
		pusher:   d.Pusher,
		email:    d.Email,
		sms:      d.SMS,
		logger:   d.Logger,
		now:      d.Now,
		cfg:      cfg,
	}
}

var errNoRecipient = errors.New("recipient could not be resolved")

// Dispatch delivers ev on every allowed channel concurrently. Failures are
// logged and reported, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) Report {
	rep := Report{RecipientID: ev.RecipientID}

	user, userErr := d.users.GetUser(ctx, ev.RecipientID)
	if userErr != nil {
		d.logger.Warn("notification recipient lookup failed",
			zap.String("recipient_id", ev.RecipientID),
			zap.Error(userErr),
		)
		user = model.User{ID: ev.RecipientID}
	}
	if ev.Role == "" {
		ev.Role = user.Role
	}
	ev = d.resolveVehicle(ctx, ev)
	c := buildContent(ev)

	channels := []string{model.ChannelInApp, model.ChannelEmail, model.ChannelSMS}
	rep.Results = make([]ChannelResult, len(channels))
	notificationID := uuid.NewString()

	var g errgroup.Group
	for i, ch := range channels {
		rep.Results[i] = ChannelResult{Channel: ch}
		if !ev.wants(ch) || !user.Preferences.Allows(ch) {
			rep.Results[i].Outcome = OutcomeSkipped
			continue
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
			defer cancel()

			var err error
			switch ch {
			case model.ChannelInApp:
				err = d.sendInApp(cctx, notificationID, ev, c)
			case model.ChannelEmail:
				err = d.sendEmail(cctx, user, userErr, ev, c)
			case model.ChannelSMS:
				err = d.sendSMS(cctx, user, userErr, c)
			}
			if err != nil {
				derr := &model.DeliveryError{Channel: ch, RecipientID: ev.RecipientID, Err: err}
				d.logger.Warn("notification delivery failed",
					zap.String("channel", ch),
					zap.String("recipient_id", ev.RecipientID),
					zap.String("type", string(ev.Type)),
					zap.Error(derr),
				)
				rep.Results[i].Outcome = OutcomeFailed
				rep.Results[i].Err = derr
				return nil
			}
			rep.Results[i].Outcome = OutcomeSent
			return nil
		})
	}
	_ = g.Wait()

	if rep.Outcome(model.ChannelInApp) == OutcomeSent {
		rep.NotificationID = notificationID
	}
	return rep
}

// resolveVehicle fills the vehicle snapshot once; a failed lookup keeps the id.
func (d *Dispatcher) resolveVehicle(ctx context.Context, ev Event) Event {
	if ev.Appointment == nil || ev.Appointment.Vehicle.Resolved() || d.vehicles == nil {
		return ev
	}
	snap, err := d.vehicles.GetVehicle(ctx, ev.Appointment.Vehicle.ID)
	if err != nil {
		d.logger.Debug("vehicle lookup failed", zap.String("vehicle_id", ev.Appointment.Vehicle.ID), zap.Error(err))
		return ev
	}
	appt := ev.Appointment.Clone()
	appt.Vehicle.Snapshot = &snap
	ev.Appointment = &appt
	return ev
}

func (d *Dispatcher) sendInApp(ctx context.Context, id string, ev Event, c content) error {
	relType, relID := ev.related()
	n := &model.Notification{
		ID:          id,
		RecipientID: ev.RecipientID,
		Role:        ev.Role,
		Type:        ev.Type,
		Title:       c.Title,
		Message:     c.Message,
		RelatedType: relType,
		RelatedID:   relID,
		Priority:    ev.priority(),
		CreatedAt:   d.now().UTC(),
	}
	if err := d.store.InsertNotification(ctx, n); err != nil {
		return err
	}
	// Live push is best effort; the row is already stored.
	if err := d.pusher.Push(ctx, ev.RecipientID, "notification", n); err != nil {
		d.logger.Debug("live push failed", zap.String("recipient_id", ev.RecipientID), zap.Error(err))
		return nil
	}
	if count, err := d.store.CountUnread(ctx, ev.RecipientID); err == nil {
		_ = d.pusher.Push(ctx, ev.RecipientID, "unread_count", map[string]int{"count": count})
	}
	return nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, user model.User, lookupErr error, ev Event, c content) error {
	if lookupErr != nil {
		return errors.Join(errNoRecipient, lookupErr)
	}
	if user.Email == "" {
		return errors.New("recipient has no email address")
	}
	html, err := renderEmail(ev.Type, c)
	if err != nil {
		return err
	}
	rcpt, err := d.email.Send(ctx, email.Message{To: user.Email, Subject: c.Title, HTML: html})
	if err != nil {
		return err
	}
	d.logger.Debug("email sent", zap.String("recipient_id", user.ID), zap.String("message_id", rcpt.MessageID))
	return nil
}

func (d *Dispatcher) sendSMS(ctx context.Context, user model.User, lookupErr error, c content) error {
	if lookupErr != nil {
		return errors.Join(errNoRecipient, lookupErr)
	}
	return d.sms.Send(ctx, sms.Message{RecipientID: user.ID, To: user.Phone, Body: renderSMS(c)})
}
