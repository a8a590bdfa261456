package model

import "time"

type RecordStatus string

const (
	RecordReceived     RecordStatus = "received"
	RecordInProgress   RecordStatus = "in-progress"
	RecordQualityCheck RecordStatus = "quality-check"
	RecordCompleted    RecordStatus = "completed"
	RecordCancelled    RecordStatus = "cancelled"
)

func (s RecordStatus) Valid() bool {
	switch s {
	case RecordReceived, RecordInProgress, RecordQualityCheck, RecordCompleted, RecordCancelled:
		return true
	}
	return false
}

func (s RecordStatus) Terminal() bool {
	return s == RecordCompleted || s == RecordCancelled
}

type LiveUpdate struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
}

// ServiceRecord tracks the work done for one in-service appointment.
// TimerDuration holds milliseconds accumulated over completed start/stop cycles.
type ServiceRecord struct {
	ID                  string       `json:"id"`
	AppointmentID       string       `json:"appointment_id"`
	CustomerID          string       `json:"customer_id"`
	TechnicianID        string       `json:"technician_id,omitempty"`
	Status              RecordStatus `json:"status"`
	ProgressPercentage  int          `json:"progress_percentage"`
	TimerStarted        bool         `json:"timer_started"`
	TimerStartTime      *time.Time   `json:"timer_start_time,omitempty"`
	TimerDuration       int64        `json:"timer_duration"`
	EstimatedDurationMs int64        `json:"estimated_duration_ms"`
	StartedAt           *time.Time   `json:"started_at,omitempty"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
	LiveUpdates         []LiveUpdate `json:"live_updates"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	Version             int64        `json:"version"`
}

// CurrentTimerValue is the elapsed working time in milliseconds at now.
func (r *ServiceRecord) CurrentTimerValue(now time.Time) int64 {
	if !r.TimerStarted || r.TimerStartTime == nil {
		return r.TimerDuration
	}
	running := now.Sub(*r.TimerStartTime).Milliseconds()
	if running < 0 {
		running = 0
	}
	return r.TimerDuration + running
}

// Progress derives completion percentage from elapsed time and the estimate.
func (r *ServiceRecord) Progress(now time.Time) int {
	if r.Status == RecordCompleted {
		return 100
	}
	if r.EstimatedDurationMs <= 0 {
		return 0
	}
	p := r.CurrentTimerValue(now) * 100 / r.EstimatedDurationMs
	if p > 100 {
		p = 100
	}
	return int(p)
}

func (r ServiceRecord) Clone() ServiceRecord {
	out := r
	out.TimerStartTime = cloneTime(r.TimerStartTime)
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.LiveUpdates = append([]LiveUpdate(nil), r.LiveUpdates...)
	return out
}
