package availability

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// Config describes the shop's bookable hours and bay capacity.
type Config struct {
	Open            string // "HH:MM"
	Close           string // "HH:MM"
	SlotStepMinutes int
	ClosedWeekdays  []time.Weekday
	BlockedDates    []string // "YYYY-MM-DD"
	BayCapacity     int

	// Each additional vehicle in a group booking takes
	// max(MinVehicleFactor, AdditionalVehicleFactor^(k-1)) of the base duration.
	AdditionalVehicleFactor float64
	MinVehicleFactor        float64

	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		Open:                    "08:00",
		Close:                   "18:00",
		SlotStepMinutes:         60,
		ClosedWeekdays:          []time.Weekday{time.Sunday},
		BayCapacity:             3,
		AdditionalVehicleFactor: 0.8,
		MinVehicleFactor:        0.5,
		Location:                time.UTC,
	}
}

// Calculator is the pure slot layer. It never touches persisted data.
type Calculator struct {
	cfg     Config
	open    int
	close   int
	closed  map[time.Weekday]struct{}
	blocked map[string]struct{}
}

func New(cfg Config) (*Calculator, error) {
	open, err := model.ParseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	closeMin, err := model.ParseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	if closeMin <= open {
		return nil, fmt.Errorf("close %s must be after open %s", cfg.Close, cfg.Open)
	}
	if cfg.SlotStepMinutes <= 0 {
		return nil, fmt.Errorf("slot step must be positive")
	}
	if cfg.BayCapacity < 0 {
		return nil, fmt.Errorf("bay capacity must not be negative")
	}
	if cfg.AdditionalVehicleFactor <= 0 || cfg.AdditionalVehicleFactor > 1 {
		return nil, fmt.Errorf("additional vehicle factor must be in (0,1]")
	}
	if cfg.MinVehicleFactor <= 0 || cfg.MinVehicleFactor > 1 {
		return nil, fmt.Errorf("min vehicle factor must be in (0,1]")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	c := &Calculator{
		cfg:     cfg,
		open:    open,
		close:   closeMin,
		closed:  map[time.Weekday]struct{}{},
		blocked: map[string]struct{}{},
	}
	for _, d := range cfg.ClosedWeekdays {
		c.closed[d] = struct{}{}
	}
	for _, d := range cfg.BlockedDates {
		d = strings.TrimSpace(d)
		if _, err := time.Parse(model.DateLayout, d); err != nil {
			return nil, fmt.Errorf("blocked date %q: %w", d, err)
		}
		c.blocked[d] = struct{}{}
	}
	return c, nil
}

func (c *Calculator) Config() Config           { return c.cfg }
func (c *Calculator) Location() *time.Location { return c.cfg.Location }
func (c *Calculator) Capacity() int            { return c.cfg.BayCapacity }

// OpenMinute and CloseMinute are business hours in minutes since midnight.
func (c *Calculator) OpenMinute() int  { return c.open }
func (c *Calculator) CloseMinute() int { return c.close }

// ParseDate parses a "YYYY-MM-DD" date at midnight in the shop's location.
func (c *Calculator) ParseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(date), c.cfg.Location)
	if err != nil {
		return time.Time{}, &model.InvalidInputError{Field: "date", Reason: `must be "YYYY-MM-DD"`}
	}
	return day, nil
}

// Today is the shop-local calendar date of now.
func (c *Calculator) Today(now time.Time) string {
	return now.In(c.cfg.Location).Format(model.DateLayout)
}

// DayStatus returns "" for a working day, or model.CodeClosedDay /
// model.CodeBlockedDate.
func (c *Calculator) DayStatus(date string) (string, error) {
	day, err := c.ParseDate(date)
	if err != nil {
		return "", err
	}
	if _, ok := c.blocked[day.Format(model.DateLayout)]; ok {
		return model.CodeBlockedDate, nil
	}
	if _, ok := c.closed[day.Weekday()]; ok {
		return model.CodeClosedDay, nil
	}
	return "", nil
}

func (c *Calculator) IsWorkingDay(date string) (bool, error) {
	status, err := c.DayStatus(date)
	if err != nil {
		return false, err
	}
	return status == "", nil
}

// Slots lists candidate windows of exactly durationMinutes within business
// hours, starting at Open and stepping by SlotStepMinutes. Start times are
// strictly increasing; windows overlap when the duration exceeds the step.
// A non-working day yields no slots.
func (c *Calculator) Slots(date string, durationMinutes int) ([]model.TimeSlot, error) {
	return c.slots(date, durationMinutes, time.Time{}, false)
}

// SlotsAfter is Slots seen from now: a past date has no slots and today's
// windows that have already started are left out.
func (c *Calculator) SlotsAfter(date string, durationMinutes int, now time.Time) ([]model.TimeSlot, error) {
	return c.slots(date, durationMinutes, now, true)
}

func (c *Calculator) slots(date string, durationMinutes int, now time.Time, fromNow bool) ([]model.TimeSlot, error) {
	if durationMinutes <= 0 {
		return nil, &model.InvalidInputError{Field: "duration_minutes", Reason: "must be positive"}
	}
	day, err := c.ParseDate(date)
	if err != nil {
		return nil, err
	}
	working, err := c.IsWorkingDay(date)
	if err != nil {
		return nil, err
	}
	if !working {
		return []model.TimeSlot{}, nil
	}

	notBefore := 0
	if fromNow {
		switch today, d := c.Today(now), day.Format(model.DateLayout); {
		case d < today:
			return []model.TimeSlot{}, nil
		case d == today:
			local := now.In(c.cfg.Location)
			notBefore = local.Hour()*60 + local.Minute()
		}
	}

	starts := StepStarts(c.open, c.close, durationMinutes, c.cfg.SlotStepMinutes, notBefore)
	slots := make([]model.TimeSlot, 0, len(starts))
	for _, start := range starts {
		slots = append(slots, model.TimeSlot{
			StartTime:     model.FormatClockUnchecked(start),
			EndTime:       model.FormatClockUnchecked(start + durationMinutes),
			CapacityTotal: c.cfg.BayCapacity,
		})
	}
	return slots, nil
}

// VehicleDurations splits a group booking into back-to-back per-vehicle
// durations. The first vehicle takes the full base duration.
func (c *Calculator) VehicleDurations(base, count int) ([]int, error) {
	if base <= 0 {
		return nil, &model.InvalidInputError{Field: "duration_minutes", Reason: "must be positive"}
	}
	if count < 1 {
		return nil, &model.InvalidInputError{Field: "vehicle_count", Reason: "must be at least 1"}
	}
	out := make([]int, 0, count)
	out = append(out, base)
	for k := 2; k <= count; k++ {
		factor := math.Max(c.cfg.MinVehicleFactor, math.Pow(c.cfg.AdditionalVehicleFactor, float64(k-1)))
		// The epsilon keeps 60*0.8 from rounding up to 49.
		out = append(out, int(math.Ceil(float64(base)*factor-1e-9)))
	}
	return out, nil
}

// MultiVehicleDuration is the total bay time of a group booking. It equals base
// for one vehicle and grows strictly with count.
func (c *Calculator) MultiVehicleDuration(base, count int) (int, error) {
	parts, err := c.VehicleDurations(base, count)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range parts {
		total += p
	}
	return total, nil
}
