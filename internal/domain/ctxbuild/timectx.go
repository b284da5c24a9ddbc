package ctxbuild

import (
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// Energy patterns shift the morning bands by a fixed number of hours.
var patternOffset = map[string]int{
	"":          0,
	"morning":   0,
	"afternoon": 4,
	"evening":   8,
}

const (
	defaultWorkStart = 9
	defaultWorkEnd   = 17
	// endOfDayHours is the remaining work time below which the day is ending.
	endOfDayHours = 2
)

// Energy maps a local hour to an energy level for the given pattern. The
// morning bands are 9-11 high, 13-17 medium, low otherwise.
func Energy(hour int, pattern string) string {
	h := hour - patternOffset[pattern]
	switch {
	case h >= 9 && h <= 11:
		return model.LevelHigh
	case h >= 13 && h <= 17:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

// TimeContext derives the scope-local clock from journey preferences.
// Unknown time zones fall back to UTC.
func TimeContext(now time.Time, prefs model.Preferences) model.TimeContext {
	loc := time.UTC
	if prefs.Timezone != "" {
		if l, err := time.LoadLocation(prefs.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	start, end := prefs.WorkHours.Start, prefs.WorkHours.End
	if start == 0 && end == 0 {
		start, end = defaultWorkStart, defaultWorkEnd
	}
	hour := local.Hour()
	remaining := end - hour
	if remaining < 0 {
		remaining = 0
	}
	return model.TimeContext{
		Local:       local,
		Hour:        hour,
		Weekday:     local.Weekday().String(),
		Energy:      Energy(hour, prefs.EnergyPattern),
		InWorkHours: hour >= start && hour < end,
		EndOfDay:    remaining < endOfDayHours,
	}
}
