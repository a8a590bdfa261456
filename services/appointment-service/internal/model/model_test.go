package model

import (
	"errors"
	"testing"
	"time"
)

func TestSetScheduleDerivesEndTime(t *testing.T) {
	var a Appointment
	if err := a.SetSchedule("2025-10-22", "09:30", 90); err != nil {
		t.Fatalf("SetSchedule failed: %v", err)
	}
	if a.EndTime != "11:00" {
		t.Fatalf("expected end 11:00, got %s", a.EndTime)
	}

	var ie *InvalidInputError
	if err := a.SetSchedule("2025-10-22", "23:30", 60); !errors.As(err, &ie) {
		t.Fatalf("expected InvalidInputError for overnight appointment, got %v", err)
	}
	if err := a.SetSchedule("2025-10-22", "9:30", 60); !errors.As(err, &ie) {
		t.Fatalf("expected InvalidInputError for malformed time, got %v", err)
	}
}

func TestCurrentTimerValue(t *testing.T) {
	start := time.Date(2025, 10, 22, 9, 0, 0, 0, time.UTC)
	rec := ServiceRecord{TimerDuration: 60_000, TimerStarted: true, TimerStartTime: &start, EstimatedDurationMs: 600_000}

	now := start.Add(4 * time.Minute)
	if got := rec.CurrentTimerValue(now); got != 300_000 {
		t.Fatalf("expected 300000ms, got %d", got)
	}
	if got := rec.Progress(now); got != 50 {
		t.Fatalf("expected 50%%, got %d", got)
	}
	if got := rec.Progress(start.Add(time.Hour)); got != 100 {
		t.Fatalf("progress must cap at 100, got %d", got)
	}
}

func TestInvalidTransitionErrorIs(t *testing.T) {
	err := error(&InvalidTransitionError{From: StatusCompleted, To: StatusPending})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("expected errors.Is to match ErrInvalidTransition")
	}
}

func TestPreferencesDefaultEnabled(t *testing.T) {
	p := Preferences{ChannelSMS: false}
	if !p.Allows(ChannelEmail) || p.Allows(ChannelSMS) {
		t.Fatalf("unexpected preference evaluation: %+v", p)
	}
	var none Preferences
	if !none.Allows(ChannelInApp) {
		t.Fatal("nil preferences must allow every channel")
	}
}
