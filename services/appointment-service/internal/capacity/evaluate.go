package capacity

import (
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/availability"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// Request is a proposed booking window. ExcludeID leaves one appointment out of
// the overlap count (its own reservation, when rescheduling).
type Request struct {
	Date      string
	StartTime string
	Duration  int
	ExcludeID string
}

type Result struct {
	IsAvailable       bool               `json:"is_available"`
	CapacityUsed      int                `json:"capacity_used"`
	CapacityTotal     int                `json:"capacity_total"`
	CapacityRemaining int                `json:"capacity_remaining"`
	Errors            []model.FieldError `json:"errors,omitempty"`
}

// ValidationError converts a rejected result into the typed error.
func (r Result) ValidationError() error {
	if r.IsAvailable {
		return nil
	}
	return &model.ValidationError{Errors: r.Errors}
}

func reject(res Result, code, field, msg string) Result {
	res.IsAvailable = false
	res.Errors = append(res.Errors, model.FieldError{Code: code, Field: field, Message: msg})
	return res
}

// Evaluate decides whether req can be admitted given the appointments already
// booked. Every rejection is returned in Result.Errors; it never fails.
func Evaluate(cal *availability.Calculator, req Request, existing []model.Appointment, now time.Time) Result {
	res := Result{CapacityTotal: cal.Capacity()}

	day, err := cal.ParseDate(req.Date)
	if err != nil {
		return reject(res, model.CodeInvalidDate, "date", `date must be "YYYY-MM-DD"`)
	}
	if req.Duration <= 0 {
		return reject(res, model.CodeInvalidDuration, "duration", "duration must be positive")
	}

	today := cal.Today(now)
	date := day.Format(model.DateLayout)
	if date < today {
		return reject(res, model.CodePastDate, "date", "date is in the past")
	}
	switch status, _ := cal.DayStatus(date); status {
	case model.CodeClosedDay:
		return reject(res, model.CodeClosedDay, "date", "the shop is closed on this day")
	case model.CodeBlockedDate:
		return reject(res, model.CodeBlockedDate, "date", "this date is blocked")
	}

	start, err := model.ParseClock(req.StartTime)
	if err != nil {
		return reject(res, model.CodeInvalidTime, "time", err.Error())
	}
	end := start + req.Duration
	if start < cal.OpenMinute() || start >= cal.CloseMinute() || end > cal.CloseMinute() {
		return reject(res, model.CodeOutsideHours, "time", "requested time is outside business hours")
	}
	if date == today {
		local := now.In(cal.Location())
		if start < local.Hour()*60+local.Minute() {
			return reject(res, model.CodePastTime, "time", "requested time has already passed")
		}
	}

	res.CapacityUsed = CountOverlapping(existing, date, start, end, req.ExcludeID)
	res.CapacityRemaining = res.CapacityTotal - res.CapacityUsed
	if res.CapacityRemaining < 0 {
		res.CapacityRemaining = 0
	}
	if res.CapacityUsed >= res.CapacityTotal {
		return reject(res, model.CodeCapacityExceeded, "time", "no service bay is free for the requested time")
	}
	res.IsAvailable = true
	return res
}

// CountOverlapping counts capacity-holding appointments on date whose window
// intersects [start, end).
func CountOverlapping(existing []model.Appointment, date string, start, end int, excludeID string) int {
	n := 0
	for i := range existing {
		a := &existing[i]
		if a.AppointmentDate != date || !a.HoldsCapacity() {
			continue
		}
		if excludeID != "" && a.ID == excludeID {
			continue
		}
		aStart, aEnd, err := a.Window()
		if err != nil {
			continue
		}
		if availability.Overlaps(start, end, aStart, aEnd) {
			n++
		}
	}
	return n
}
