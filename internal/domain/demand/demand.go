// Package demand aggregates referral dates into ISO weeks and forecasts next
// week's demand with a trailing rolling mean.
package demand

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrInvalidWindow = errors.New("rolling window must be at least 1 week")

// WeekDemand is the referral count for one ISO week. Weeks without any
// referral do not appear.
type WeekDemand struct {
	Year  int `json:"year"`
	Week  int `json:"week"`
	Count int `json:"referral_count"`
	// RollingAvg is the mean count over this week and up to window-1
	// preceding rows.
	RollingAvg float64 `json:"rolling_avg_demand"`
	// Predicted is the next row's rolling average. It is nil for the last row.
	Predicted *float64 `json:"predicted_next_week_demand"`
}

type isoWeek struct{ year, week int }

// Weekly groups dates by ISO year and week in ascending order and computes
// the rolling average over window rows.
func Weekly(dates []time.Time, window int) ([]WeekDemand, error) {
	if window < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, window)
	}

	counts := make(map[isoWeek]int)
	for _, d := range dates {
		y, w := d.ISOWeek()
		counts[isoWeek{y, w}]++
	}
	weeks := make([]isoWeek, 0, len(counts))
	for k := range counts {
		weeks = append(weeks, k)
	}
	sort.Slice(weeks, func(i, j int) bool {
		if weeks[i].year != weeks[j].year {
			return weeks[i].year < weeks[j].year
		}
		return weeks[i].week < weeks[j].week
	})

	out := make([]WeekDemand, len(weeks))
	sum := 0
	for i, k := range weeks {
		n := counts[k]
		sum += n
		if i >= window {
			sum -= counts[weeks[i-window]]
		}
		span := window
		if i+1 < window {
			span = i + 1
		}
		out[i] = WeekDemand{Year: k.year, Week: k.week, Count: n, RollingAvg: float64(sum) / float64(span)}
	}
	for i := 0; i+1 < len(out); i++ {
		next := out[i+1].RollingAvg
		out[i].Predicted = &next
	}
	return out, nil
}

// Next returns the most recent rolling average, which is the forecast for
// the week after the data ends. ok is false when there is no data.
func Next(weeks []WeekDemand) (float64, bool) {
	if len(weeks) == 0 {
		return 0, false
	}
	return weeks[len(weeks)-1].RollingAvg, true
}
