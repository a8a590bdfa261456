package model

import (
	"fmt"
	"time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusInService AppointmentStatus = "in-service"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInService, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses admit no further status change.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type StatusChange struct {
	Status    AppointmentStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"`
	Note      string            `json:"note,omitempty"`
}

type Modification struct {
	OldDate   string    `json:"old_date"`
	OldTime   string    `json:"old_time"`
	NewDate   string    `json:"new_date"`
	NewTime   string    `json:"new_time"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// Appointment is a booking for one vehicle. Dates are "YYYY-MM-DD" and times
// "HH:MM" in the shop's local time zone.
//
// TechnicianName is a snapshot taken when the technician was assigned. It is
// not refreshed if the technician's display name changes later.
type Appointment struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	Vehicle    VehicleRef `json:"vehicle"`
	ServiceIDs []string   `json:"service_ids"`

	AppointmentDate string `json:"appointment_date"`
	AppointmentTime string `json:"appointment_time"`
	EndTime         string `json:"end_time"`
	Duration        int    `json:"duration"`

	Status        AppointmentStatus `json:"status"`
	StatusHistory []StatusChange    `json:"status_history"`

	TechnicianID   string     `json:"technician_id,omitempty"`
	TechnicianName string     `json:"technician_name,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`

	GroupID  string `json:"group_id,omitempty"`
	Sequence int    `json:"sequence,omitempty"`

	ModificationCount   int            `json:"modification_count"`
	ModificationHistory []Modification `json:"modification_history"`

	BookingFee      int64         `json:"booking_fee"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	CancellationFee *int64        `json:"cancellation_fee,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	Version int64 `json:"version"`
}

// SetSchedule sets date, start and duration and derives EndTime. EndTime is
// never written any other way.
func (a *Appointment) SetSchedule(date, start string, duration int) error {
	if duration <= 0 {
		return &InvalidInputError{Field: "duration", Reason: "must be positive"}
	}
	startMin, err := ParseClock(start)
	if err != nil {
		return &InvalidInputError{Field: "appointment_time", Reason: err.Error()}
	}
	end, err := FormatClock(startMin + duration)
	if err != nil {
		return &InvalidInputError{Field: "duration", Reason: "appointment must end on the same day"}
	}
	a.AppointmentDate = date
	a.AppointmentTime = FormatClockUnchecked(startMin)
	a.EndTime = end
	a.Duration = duration
	return nil
}

// Window returns the appointment's [start, end) in minutes since midnight.
func (a *Appointment) Window() (int, int, error) {
	start, err := ParseClock(a.AppointmentTime)
	if err != nil {
		return 0, 0, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	return start, start + a.Duration, nil
}

// StartsAt is the appointment start as an instant in loc.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, a.AppointmentDate, loc)
	if err != nil {
		return time.Time{}, err
	}
	start, _, err := a.Window()
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), start/60, start%60, 0, 0, loc), nil
}

// HoldsCapacity reports whether the appointment occupies a bay.
func (a *Appointment) HoldsCapacity() bool {
	return a.Status != StatusCancelled
}

func (a *Appointment) AppendStatus(status AppointmentStatus, at time.Time, actor, note string) {
	a.Status = status
	a.StatusHistory = append(a.StatusHistory, StatusChange{
		Status:    status,
		Timestamp: at,
		Actor:     actor,
		Note:      note,
	})
}

// Clone returns a deep copy.
func (a Appointment) Clone() Appointment {
	out := a
	out.ServiceIDs = append([]string(nil), a.ServiceIDs...)
	out.StatusHistory = append([]StatusChange(nil), a.StatusHistory...)
	out.ModificationHistory = append([]Modification(nil), a.ModificationHistory...)
	out.Vehicle = a.Vehicle.Clone()
	out.AssignedAt = cloneTime(a.AssignedAt)
	out.CompletedAt = cloneTime(a.CompletedAt)
	out.CancelledAt = cloneTime(a.CancelledAt)
	if a.CancellationFee != nil {
		fee := *a.CancellationFee
		out.CancellationFee = &fee
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
