package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry "250ms", "1m30s" or day/week units ("2d").
type Duration time.Duration

// Common durations.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ParseDuration parses a duration string. Besides the units understood by
// time.ParseDuration it accepts d (day) and w (week).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if !strings.ContainsAny(s, "dw") {
		return time.ParseDuration(s)
	}
	return parseExtendedDuration(s)
}

var (
	durationPartRegex = regexp.MustCompile(`([0-9.]+)([a-zµ]+)`)

	unitMap = map[string]time.Duration{
		"ns": time.Nanosecond,
		"us": time.Microsecond,
		"µs": time.Microsecond,
		"ms": time.Millisecond,
		"s":  time.Second,
		"m":  time.Minute,
		"h":  time.Hour,
		"d":  Day,
		"w":  Week,
	}
)

func parseExtendedDuration(s string) (time.Duration, error) {
	parts := durationPartRegex.FindAllStringSubmatch(s, -1)
	if len(parts) == 0 {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}

	var total time.Duration
	for _, p := range parts {
		val, err := strconv.ParseFloat(p[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in duration: %s", p[1])
		}
		base, ok := unitMap[p[2]]
		if !ok {
			return 0, fmt.Errorf("unknown unit: %s", p[2])
		}
		total += time.Duration(val * float64(base))
	}
	return total, nil
}
