// Package notify fans lifecycle events out to in-app, email and SMS channels.
// A failing channel never affects the others or the caller.
package notify

import (
	"context"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// Event is one notification for one recipient.
type Event struct {
	Type        model.NotificationType
	RecipientID string
	// Role overrides the role read from the directory.
	Role        string
	Appointment *model.Appointment
	Record      *model.ServiceRecord
	// Note is free text carried into the message (live update, cancel reason).
	Note     string
	Priority model.Priority
	// Channels restricts delivery. Empty means every channel.
	Channels []string
}

// Notifier is what the domain components depend on.
type Notifier interface {
	Dispatch(ctx context.Context, ev Event) Report
}

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	OutcomeQueued  Outcome = "queued"
)

type ChannelResult struct {
	Channel string
	Outcome Outcome
	Err     error
}

type Report struct {
	RecipientID    string
	NotificationID string
	Results        []ChannelResult
}

// Outcome returns the result of channel, or "" when it was not attempted.
func (r Report) Outcome(channel string) Outcome {
	for _, res := range r.Results {
		if res.Channel == channel {
			return res.Outcome
		}
	}
	return ""
}

func (ev Event) wants(channel string) bool {
	if len(ev.Channels) == 0 {
		return true
	}
	for _, c := range ev.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

func (ev Event) priority() model.Priority {
	if ev.Priority != "" {
		return ev.Priority
	}
	switch ev.Type {
	case model.NotifyAppointmentCancelled, model.NotifyServiceCompleted:
		return model.PriorityHigh
	case model.NotifyServiceUpdate:
		return model.PriorityLow
	}
	return model.PriorityNormal
}

func (ev Event) related() (string, string) {
	switch {
	case ev.Record != nil:
		return "service_record", ev.Record.ID
	case ev.Appointment != nil:
		return "appointment", ev.Appointment.ID
	}
	return "", ""
}
