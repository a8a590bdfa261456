// Package execution tracks the work on an in-service appointment: a pausable
// timer, progress and live updates.
package execution

import (
	"fmt"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// ErrRecordClosed is returned for changes to a completed or cancelled record.
var ErrRecordClosed = fmt.Errorf("service record is closed: %w", model.ErrInvalidTransition)

var recordTransitions = map[model.RecordStatus][]model.RecordStatus{
	model.RecordReceived:     {model.RecordInProgress, model.RecordCancelled},
	model.RecordInProgress:   {model.RecordQualityCheck, model.RecordCancelled},
	model.RecordQualityCheck: {model.RecordCompleted, model.RecordCancelled},
}

func canMove(from, to model.RecordStatus) bool {
	for _, next := range recordTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyStart starts the timer. It reports false when the timer was already
// running.
func ApplyStart(rec *model.ServiceRecord, now time.Time) (bool, error) {
	if rec.Status.Terminal() {
		return false, ErrRecordClosed
	}
	if rec.TimerStarted {
		return false, nil
	}
	rec.TimerStarted = true
	rec.TimerStartTime = &now
	if rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if rec.Status == model.RecordReceived {
		rec.Status = model.RecordInProgress
	}
	rec.UpdatedAt = now
	return true, nil
}

// ApplyStop folds the running interval into TimerDuration. Stopping a stopped
// timer changes nothing.
func ApplyStop(rec *model.ServiceRecord, now time.Time) bool {
	if !rec.TimerStarted {
		return false
	}
	rec.TimerDuration = rec.CurrentTimerValue(now)
	rec.TimerStarted = false
	rec.TimerStartTime = nil
	rec.ProgressPercentage = rec.Progress(now)
	rec.UpdatedAt = now
	return true
}

// ApplyStatus moves the record to status to. Repeating the current status is
// a no-op so duplicate requests are harmless.
func ApplyStatus(rec *model.ServiceRecord, to model.RecordStatus, now time.Time) (bool, error) {
	if !to.Valid() {
		return false, &model.InvalidInputError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	if rec.Status == to {
		return false, nil
	}
	if rec.Status.Terminal() {
		return false, ErrRecordClosed
	}
	if !canMove(rec.Status, to) {
		return false, fmt.Errorf("service record %s -> %s: %w", rec.Status, to, model.ErrInvalidTransition)
	}
	switch to {
	case model.RecordInProgress:
		if rec.StartedAt == nil {
			rec.StartedAt = &now
		}
	case model.RecordCompleted:
		ApplyStop(rec, now)
		rec.ProgressPercentage = 100
		rec.CompletedAt = &now
	case model.RecordCancelled:
		ApplyStop(rec, now)
	}
	rec.Status = to
	rec.UpdatedAt = now
	return true, nil
}
