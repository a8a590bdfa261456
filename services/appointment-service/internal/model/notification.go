package model

import "time"

type NotificationType string

const (
	NotifyBookingReceived        NotificationType = "booking_received"
	NotifyNewBooking             NotificationType = "new_booking"
	NotifyAppointmentConfirmed   NotificationType = "appointment_confirmed"
	NotifyTechnicianAssigned     NotificationType = "technician_assigned"
	NotifyAppointmentRescheduled NotificationType = "appointment_rescheduled"
	NotifyAppointmentCancelled   NotificationType = "appointment_cancelled"
	NotifyServiceStarted         NotificationType = "service_started"
	NotifyServiceUpdate          NotificationType = "service_update"
	NotifyServiceCompleted       NotificationType = "service_completed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// NotificationReadTTL is how long a notification is kept after being read.
const NotificationReadTTL = 30 * 24 * time.Hour

type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	Role        string           `json:"role"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	RelatedType string           `json:"related_type,omitempty"`
	RelatedID   string           `json:"related_id,omitempty"`
	Priority    Priority         `json:"priority"`
	Read        bool             `json:"read"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// MarkRead flags the notification read at now and schedules its expiry.
func (n *Notification) MarkRead(now time.Time) {
	if n.Read {
		return
	}
	expires := now.Add(NotificationReadTTL)
	n.Read = true
	n.ReadAt = &now
	n.ExpiresAt = &expires
}
