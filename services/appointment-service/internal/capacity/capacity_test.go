package capacity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/availability"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// Tuesday morning before the requested day.
var testNow = time.Date(2025, 10, 21, 7, 0, 0, 0, time.UTC)

func calc(t *testing.T, capacity int) *availability.Calculator {
	t.Helper()
	cfg := availability.DefaultConfig()
	cfg.BayCapacity = capacity
	c, err := availability.New(cfg)
	if err != nil {
		t.Fatalf("availability.New: %v", err)
	}
	return c
}

func booked(id, date, start string, dur int, status model.AppointmentStatus) model.Appointment {
	a := model.Appointment{ID: id, Status: status}
	if err := a.SetSchedule(date, start, dur); err != nil {
		panic(err)
	}
	return a
}

type listerFunc func(ctx context.Context, date string) ([]model.Appointment, error)

func (f listerFunc) ListByDate(ctx context.Context, date string) ([]model.Appointment, error) {
	return f(ctx, date)
}

func TestEvaluateRejections(t *testing.T) {
	c := calc(t, 3)
	cases := []struct {
		name string
		req  Request
		now  time.Time
		code string
	}{
		{"past date", Request{Date: "2025-10-20", StartTime: "10:00", Duration: 60}, testNow, model.CodePastDate},
		{"sunday", Request{Date: "2025-10-26", StartTime: "10:00", Duration: 60}, testNow, model.CodeClosedDay},
		{"before open", Request{Date: "2025-10-22", StartTime: "07:00", Duration: 60}, testNow, model.CodeOutsideHours},
		{"past close", Request{Date: "2025-10-22", StartTime: "17:30", Duration: 60}, testNow, model.CodeOutsideHours},
		{"start at close", Request{Date: "2025-10-22", StartTime: "18:00", Duration: 15}, testNow, model.CodeOutsideHours},
		{"today already started", Request{Date: "2025-10-21", StartTime: "09:00", Duration: 60}, testNow.Add(3 * time.Hour), model.CodePastTime},
		{"bad date", Request{Date: "tomorrow", StartTime: "09:00", Duration: 60}, testNow, model.CodeInvalidDate},
		{"bad duration", Request{Date: "2025-10-22", StartTime: "09:00", Duration: 0}, testNow, model.CodeInvalidDuration},
	}
	for _, tc := range cases {
		res := Evaluate(c, tc.req, nil, tc.now)
		if res.IsAvailable {
			t.Fatalf("%s: expected rejection", tc.name)
		}
		if len(res.Errors) != 1 || res.Errors[0].Code != tc.code {
			t.Fatalf("%s: expected %s, got %+v", tc.name, tc.code, res.Errors)
		}
	}
}

func TestEvaluateBlockedDate(t *testing.T) {
	cfg := availability.DefaultConfig()
	cfg.BlockedDates = []string{"2025-10-22"}
	c, _ := availability.New(cfg)
	res := Evaluate(c, Request{Date: "2025-10-22", StartTime: "10:00", Duration: 60}, nil, testNow)
	if res.IsAvailable || res.Errors[0].Code != model.CodeBlockedDate {
		t.Fatalf("expected blocked_date, got %+v", res)
	}
}

// Scenario A: three 10:00 bookings fit a three-bay shop, a fourth overlapping
// one does not.
func TestEvaluateCapacityScenario(t *testing.T) {
	c := calc(t, 3)
	var existing []model.Appointment
	for i := 0; i < 3; i++ {
		res := Evaluate(c, Request{Date: "2025-10-22", StartTime: "10:00", Duration: 60}, existing, testNow)
		if !res.IsAvailable {
			t.Fatalf("booking %d rejected: %+v", i+1, res.Errors)
		}
		if res.CapacityUsed != i || res.CapacityRemaining != 3-i {
			t.Fatalf("booking %d: unexpected counts %+v", i+1, res)
		}
		existing = append(existing, booked(fmt.Sprintf("a%d", i), "2025-10-22", "10:00", 60, model.StatusPending))
	}

	for _, start := range []string{"10:00", "10:30"} {
		res := Evaluate(c, Request{Date: "2025-10-22", StartTime: start, Duration: 60}, existing, testNow)
		if res.IsAvailable {
			t.Fatalf("fourth booking at %s must be rejected", start)
		}
		if res.Errors[0].Code != model.CodeCapacityExceeded || res.CapacityRemaining != 0 {
			t.Fatalf("expected capacity_exceeded, got %+v", res)
		}
	}

	// Adjacent windows do not overlap (half-open).
	if res := Evaluate(c, Request{Date: "2025-10-22", StartTime: "11:00", Duration: 60}, existing, testNow); !res.IsAvailable {
		t.Fatalf("11:00 should be free, got %+v", res.Errors)
	}
}

func TestEvaluateIgnoresCancelledAndExcluded(t *testing.T) {
	c := calc(t, 1)
	existing := []model.Appointment{
		booked("cancelled", "2025-10-22", "10:00", 60, model.StatusCancelled),
		booked("self", "2025-10-22", "10:00", 60, model.StatusConfirmed),
	}
	if res := Evaluate(c, Request{Date: "2025-10-22", StartTime: "10:00", Duration: 60}, existing, testNow); res.IsAvailable {
		t.Fatal("the confirmed appointment must hold the only bay")
	}
	res := Evaluate(c, Request{Date: "2025-10-22", StartTime: "10:30", Duration: 60, ExcludeID: "self"}, existing, testNow)
	if !res.IsAvailable {
		t.Fatalf("rescheduling into its own window must be allowed, got %+v", res.Errors)
	}
}

func TestEvaluateZeroCapacity(t *testing.T) {
	c := calc(t, 0)
	res := Evaluate(c, Request{Date: "2025-10-22", StartTime: "10:00", Duration: 60}, nil, testNow)
	if res.IsAvailable || res.Errors[0].Code != model.CodeCapacityExceeded {
		t.Fatalf("zero capacity must reject everything, got %+v", res)
	}
}

func TestAvailabilityFillsUsage(t *testing.T) {
	c := calc(t, 3)
	store := listerFunc(func(_ context.Context, date string) ([]model.Appointment, error) {
		return []model.Appointment{
			booked("a", date, "09:00", 90, model.StatusConfirmed),
			booked("b", date, "09:30", 30, model.StatusPending),
		}, nil
	})
	v := NewValidator(c, store, func() time.Time { return testNow })

	slots, err := v.Availability(context.Background(), "2025-10-22", 60, 1)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	used := map[string]int{}
	for _, s := range slots {
		used[s.StartTime] = s.CapacityUsed
		if s.CapacityTotal != 3 {
			t.Fatalf("unexpected capacity total %d", s.CapacityTotal)
		}
	}
	if used["09:00"] != 2 || used["10:00"] != 1 || used["11:00"] != 0 {
		t.Fatalf("unexpected usage %v", used)
	}

	// Two vehicles of 60 minutes need 108 minutes back to back.
	group, err := v.Availability(context.Background(), "2025-10-22", 60, 2)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if group[0].EndTime != "09:48" {
		t.Fatalf("expected 08:00-09:48 for two vehicles, got %+v", group[0])
	}
}

func TestAvailabilityDropsStartedSlotsToday(t *testing.T) {
	c := calc(t, 3)
	store := listerFunc(func(context.Context, string) ([]model.Appointment, error) { return nil, nil })
	now := time.Date(2025, 10, 22, 12, 30, 0, 0, time.UTC)
	v := NewValidator(c, store, func() time.Time { return now })

	slots, err := v.Availability(context.Background(), "2025-10-22", 60, 1)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(slots) == 0 || slots[0].StartTime != "13:00" {
		t.Fatalf("expected first slot 13:00, got %+v", slots)
	}
}
