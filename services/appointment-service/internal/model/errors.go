package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("already exists")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConcurrencyConflict = errors.New("concurrent modification")
)

// Validation error codes.
const (
	CodeInvalidDate      = "invalid_date"
	CodeInvalidTime      = "invalid_time"
	CodeInvalidDuration  = "invalid_duration"
	CodePastDate         = "past_date"
	CodePastTime         = "past_time"
	CodeClosedDay        = "closed_day"
	CodeBlockedDate      = "blocked_date"
	CodeOutsideHours     = "outside_business_hours"
	CodeCapacityExceeded = "capacity_exceeded"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every reason a booking could not be admitted.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether the error contains code.
func (e *ValidationError) Has(code string) bool {
	for _, fe := range e.Errors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

type InvalidTransitionError struct {
	From   AppointmentStatus
	To     AppointmentStatus
	Action string
}

func (e *InvalidTransitionError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("cannot %s an appointment in status %q", e.Action, e.From)
	}
	return fmt.Sprintf("cannot move appointment from %q to %q", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DeliveryError is a failed notification attempt on one channel.
type DeliveryError struct {
	Channel     string
	RecipientID string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.Channel, e.RecipientID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
