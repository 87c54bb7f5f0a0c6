package billing

import (
	"time"

	devices "nexusgrid/internal/devices/domain"
)

// ShiftKey identifies which time-of-use bucket a timestamp falls into.
type ShiftKey string

const (
	ShiftA ShiftKey = "A"
	ShiftB ShiftKey = "B"
	ShiftC ShiftKey = "C"
)

// RateAt resolves the unit rate for a timestamp against a tariff schedule.
// Shift B matches without wraparound; shift C supports windows that wrap
// past midnight (start > end); everything else falls back to shift A, or to
// defaultRate when shift A is unconfigured. Malformed schedules fall through
// to the defaults silently. Pure and deterministic.
func RateAt(schedule devices.TariffSchedule, at time.Time, defaultRate float64) (float64, ShiftKey) {
	hour := at.Hour()

	if shift := schedule.ShiftB; shift != nil {
		if hour >= shift.StartHour && hour < shift.EndHour {
			return shift.Rate, ShiftB
		}
	}

	if shift := schedule.ShiftC; shift != nil {
		if shift.StartHour > shift.EndHour {
			if hour >= shift.StartHour || hour < shift.EndHour {
				return shift.Rate, ShiftC
			}
		} else if hour >= shift.StartHour && hour < shift.EndHour {
			return shift.Rate, ShiftC
		}
	}

	if shift := schedule.ShiftA; shift != nil {
		return shift.Rate, ShiftA
	}
	return defaultRate, ShiftA
}
