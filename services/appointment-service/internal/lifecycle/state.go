// Package lifecycle owns appointment state: admission, status transitions and
// rescheduling.
package lifecycle

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

var transitions = map[model.AppointmentStatus][]model.AppointmentStatus{
	model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusInService, model.StatusCancelled},
	model.StatusInService: {model.StatusCompleted},
}

func CanTransition(from, to model.AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FeeTier charges Percent of the booking fee when the cancellation happens
// more than MoreThan before the appointment starts.
type FeeTier struct {
	MoreThan time.Duration
	Percent  int
}

// FeePolicy picks the first tier, longest lead first, whose MoreThan is
// exceeded. Cancellations that match no tier pay LatePercent.
type FeePolicy struct {
	Tiers       []FeeTier
	LatePercent int
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		Tiers:       []FeeTier{{MoreThan: 48 * time.Hour, Percent: 0}},
		LatePercent: 50,
	}
}

func (p FeePolicy) Percent(lead time.Duration) int {
	tiers := append([]FeeTier(nil), p.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MoreThan > tiers[j].MoreThan })
	for _, t := range tiers {
		if lead > t.MoreThan {
			return t.Percent
		}
	}
	return p.LatePercent
}

// CancellationFee is the fee in minor units for cancelling lead before start.
func CancellationFee(bookingFee int64, lead time.Duration, p FeePolicy) int64 {
	if bookingFee <= 0 {
		return 0
	}
	return bookingFee * int64(p.Percent(lead)) / 100
}

// ParseFeeTiers reads "48h:0,24h:25" into tiers.
func ParseFeeTiers(raw string) ([]FeeTier, error) {
	var tiers []FeeTier
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lead, pct, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("fee tier %q: want <duration>:<percent>", part)
		}
		d, err := time.ParseDuration(strings.TrimSpace(lead))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("fee tier %q: bad duration", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || n < 0 || n > 100 {
			return nil, fmt.Errorf("fee tier %q: percent must be 0-100", part)
		}
		tiers = append(tiers, FeeTier{MoreThan: d, Percent: n})
	}
	return tiers, nil
}

// Decision is the outcome of a legal transition, computed without side effects.
type Decision struct {
	From            model.AppointmentStatus
	To              model.AppointmentStatus
	At              time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	CancellationFee *int64
}

// Decide validates moving appt to status to at now.
func Decide(appt model.Appointment, to model.AppointmentStatus, now time.Time, loc *time.Location, policy FeePolicy) (Decision, error) {
	if !to.Valid() {
		return Decision{}, &model.InvalidInputError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	if !CanTransition(appt.Status, to) {
		return Decision{}, &model.InvalidTransitionError{From: appt.Status, To: to}
	}
	d := Decision{From: appt.Status, To: to, At: now}
	switch to {
	case model.StatusCompleted:
		d.CompletedAt = &now
	case model.StatusCancelled:
		d.CancelledAt = &now
		var lead time.Duration
		if start, err := appt.StartsAt(loc); err == nil {
			lead = start.Sub(now)
		}
		fee := CancellationFee(appt.BookingFee, lead, policy)
		d.CancellationFee = &fee
	}
	return d, nil
}

// Apply writes d onto appt and appends the history row.
func Apply(appt *model.Appointment, d Decision, actor, note string) {
	appt.AppendStatus(d.To, d.At, actor, note)
	appt.UpdatedAt = d.At
	if d.CompletedAt != nil {
		appt.CompletedAt = d.CompletedAt
	}
	if d.CancelledAt != nil {
		appt.CancelledAt = d.CancelledAt
		appt.CancelReason = note
	}
	if d.CancellationFee != nil {
		appt.CancellationFee = d.CancellationFee
	}
}
