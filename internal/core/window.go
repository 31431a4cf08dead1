package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is an offset since local midnight. It encodes as "HH:MM" or
// "HH:MM:SS".
type TimeOfDay time.Duration

// NewTimeOfDay builds a TimeOfDay from clock components.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("parse time of day %q: want HH:MM or HH:MM:SS", s)
	}

	limits := []int{23, 59, 59}
	values := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("parse time of day %q: invalid component %q", s, part)
		}
		values[i] = n
	}

	return NewTimeOfDay(values[0], values[1], values[2]), nil
}

func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) }

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)
	if seconds == 0 {
		return fmt.Sprintf("%02d:%02d", hours, minutes)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Weekday wraps time.Weekday with a case-insensitive name encoding.
type Weekday time.Weekday

func ParseWeekday(s string) (Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return Weekday(d), nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 0 && n <= 6 {
		return Weekday(n), nil
	}
	return 0, fmt.Errorf("parse weekday %q", s)
}

func (d Weekday) String() string { return time.Weekday(d).String() }

func (d Weekday) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Weekday) UnmarshalText(text []byte) error {
	parsed, err := ParseWeekday(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// resolveLocation picks the first zone that loads: the context override, the
// flag's zone, then UTC.
func resolveLocation(candidates ...string) *time.Location {
	for _, name := range candidates {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// sinceMidnight returns the wall-clock offset of t from its local midnight,
// independent of DST transitions earlier in the day.
func sinceMidnight(t time.Time) TimeOfDay {
	hour, minute, second := t.Clock()
	return NewTimeOfDay(hour, minute, second) + TimeOfDay(t.Nanosecond())
}

// inWindow tests t against the inclusive window [start, end]. A start later
// than end wraps past midnight.
func inWindow(t, start, end TimeOfDay) bool {
	if start <= end {
		return t >= start && t <= end
	}
	return t >= start || t <= end
}

func containsWeekday(days []Weekday, d time.Weekday) bool {
	for _, candidate := range days {
		if time.Weekday(candidate) == d {
			return true
		}
	}
	return false
}
