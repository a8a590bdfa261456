package model

// TimeSlot is a computed bookable window. It is never persisted.
type TimeSlot struct {
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	CapacityTotal int    `json:"capacity_total"`
	CapacityUsed  int    `json:"capacity_used"`
}

func (s TimeSlot) Remaining() int {
	if s.CapacityUsed >= s.CapacityTotal {
		return 0
	}
	return s.CapacityTotal - s.CapacityUsed
}
