package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// minutesPerDay is the wraparound modulus for schedule arithmetic.
const minutesPerDay = 24 * 60

// ParseClock converts "HH:MM" to minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// NormalizeClock accepts "HH:MM" or the bare "HHMM" form older settings
// files used, and returns canonical "HH:MM".
func NormalizeClock(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 && !strings.Contains(s, ":") {
		s = s[:2] + ":" + s[2:]
	}
	m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60), nil
}

// isActiveAt reports whether now falls inside [on, off), where off <= on
// means the window crosses midnight and on == off means always active.
func isActiveAt(now, on, off int) bool {
	switch {
	case on == off:
		return true
	case on < off:
		return on <= now && now < off
	default:
		return now >= on || now < off
	}
}

// minutesUntil returns the forward distance from now to target, mod one day.
func minutesUntil(now, target int) int {
	return ((target - now) % minutesPerDay + minutesPerDay) % minutesPerDay
}
