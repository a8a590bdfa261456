package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Serryudy/EAD-sub001/libs/config"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/assignment"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/availability"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/lifecycle"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, n := range names {
		d, ok := weekdays[strings.ToLower(n)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}

func calendarConfig() (availability.Config, error) {
	cfg := availability.DefaultConfig()
	cfg.Open = config.String("SHOP_OPEN", cfg.Open)
	cfg.Close = config.String("SHOP_CLOSE", cfg.Close)
	cfg.SlotStepMinutes = config.Int("SLOT_STEP_MINUTES", cfg.SlotStepMinutes)
	cfg.BayCapacity = config.Int("BAY_CAPACITY", cfg.BayCapacity)
	cfg.AdditionalVehicleFactor = config.Float("ADDITIONAL_VEHICLE_FACTOR", cfg.AdditionalVehicleFactor)
	cfg.MinVehicleFactor = config.Float("MIN_VEHICLE_FACTOR", cfg.MinVehicleFactor)
	cfg.BlockedDates = config.List("BLOCKED_DATES", "")

	closed, err := parseWeekdays(config.List("CLOSED_WEEKDAYS", "sunday"))
	if err != nil {
		return cfg, fmt.Errorf("CLOSED_WEEKDAYS: %w", err)
	}
	cfg.ClosedWeekdays = closed

	loc, err := time.LoadLocation(config.String("SHOP_TIMEZONE", "UTC"))
	if err != nil {
		return cfg, fmt.Errorf("SHOP_TIMEZONE: %w", err)
	}
	cfg.Location = loc
	return cfg, nil
}

func lifecycleConfig() (lifecycle.Config, error) {
	cfg := lifecycle.DefaultConfig()
	cfg.MaxVehicles = config.Int("MAX_VEHICLES_PER_BOOKING", cfg.MaxVehicles)
	cfg.Fees.LatePercent = config.Int("CANCEL_LATE_FEE_PERCENT", cfg.Fees.LatePercent)
	if raw := config.String("CANCEL_FEE_TIERS", ""); raw != "" {
		tiers, err := lifecycle.ParseFeeTiers(raw)
		if err != nil {
			return cfg, fmt.Errorf("CANCEL_FEE_TIERS: %w", err)
		}
		cfg.Fees.Tiers = tiers
	}
	return cfg, nil
}

func assignmentConfig() assignment.Config {
	cfg := assignment.DefaultConfig()
	cfg.MaxDailyLoad = config.Int("TECHNICIAN_MAX_DAILY_LOAD", cfg.MaxDailyLoad)
	cfg.RetryBatch = config.Int("ASSIGNMENT_RETRY_BATCH", cfg.RetryBatch)
	return cfg
}

func notifyConfig() notify.Config {
	cfg := notify.DefaultConfig()
	cfg.ChannelTimeout = config.Duration("NOTIFY_CHANNEL_TIMEOUT", cfg.ChannelTimeout)
	return cfg
}
