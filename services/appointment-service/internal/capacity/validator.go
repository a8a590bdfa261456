package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/availability"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// Lister is the read side of the appointment store needed here.
type Lister interface {
	ListByDate(ctx context.Context, date string) ([]model.Appointment, error)
}

type Validator struct {
	cal   *availability.Calculator
	store Lister
	now   func() time.Time
}

func NewValidator(cal *availability.Calculator, store Lister, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{cal: cal, store: store, now: now}
}

// Check evaluates req against live data. The returned error is reserved for
// store failures; rejections are in the Result.
func (v *Validator) Check(ctx context.Context, req Request) (Result, error) {
	existing, err := v.store.ListByDate(ctx, req.Date)
	if err != nil {
		return Result{}, fmt.Errorf("list appointments: %w", err)
	}
	return Evaluate(v.cal, req, existing, v.now()), nil
}

// Availability lists the day's slots for a booking of durationMinutes per
// vehicle, with CapacityUsed filled from live appointments. Slots that have
// already started are omitted.
func (v *Validator) Availability(ctx context.Context, date string, durationMinutes, vehicleCount int) ([]model.TimeSlot, error) {
	if vehicleCount <= 0 {
		vehicleCount = 1
	}
	total, err := v.cal.MultiVehicleDuration(durationMinutes, vehicleCount)
	if err != nil {
		return nil, err
	}
	slots, err := v.cal.SlotsAfter(date, total, v.now())
	if err != nil || len(slots) == 0 {
		return slots, err
	}

	day, _ := v.cal.ParseDate(date)
	date = day.Format(model.DateLayout)
	existing, err := v.store.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	for i := range slots {
		start, _ := model.ParseClock(slots[i].StartTime)
		slots[i].CapacityUsed = CountOverlapping(existing, date, start, start+total, "")
	}
	return slots, nil
}
