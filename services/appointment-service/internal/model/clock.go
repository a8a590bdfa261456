package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	DateLayout   = "2006-01-02"
	MinutesInDay = 24 * 60
)

var errClockFormat = errors.New(`time must be "HH:MM"`)

// ParseClock parses a 24-hour "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, errClockFormat
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, errClockFormat
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, errClockFormat
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight. 24:00 is accepted as the end of
// the day; anything later is an error.
func FormatClock(minutes int) (string, error) {
	if minutes < 0 || minutes > MinutesInDay {
		return "", fmt.Errorf("clock value %d out of range", minutes)
	}
	return FormatClockUnchecked(minutes), nil
}

func FormatClockUnchecked(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
