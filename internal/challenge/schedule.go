package challenge

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the storage format of start and end dates.
const DateLayout = "2006-01-02"

// DefaultStartDate is used when a record carries no start date.
const DefaultStartDate = "1970-01-01"

var (
	ErrInvalidTime = errors.New("invalid time of day")
	ErrInvalidDate = errors.New("invalid date")
	ErrEndNotAfter = errors.New("end date must be after today")
)

// Schedule is one persisted daily post.
type Schedule struct {
	ID        int64
	OwnerID   int64
	ChannelID string
	Message   string
	TimeOfDay string // HH:MM, 24h
	WithDate  bool
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD or empty
	CreatedAt time.Time
}

var timeOfDayRe = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)

// ParseTimeOfDay accepts "9:05" as well as "09:05".
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if !timeOfDayRe.MatchString(s) {
		return 0, 0, fmt.Errorf("%w: %q, expected HH:MM", ErrInvalidTime, s)
	}
	hh, mm, _ := strings.Cut(s, ":")
	hour, _ = strconv.Atoi(hh)
	minute, _ = strconv.Atoi(mm)
	return hour, minute, nil
}

// NormalizeTimeOfDay validates s and returns it zero-padded.
func NormalizeTimeOfDay(s string) (string, error) {
	h, m, err := ParseTimeOfDay(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC, which keeps
// day arithmetic free of DST shifts.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// CivilDate drops the clock and zone of t, keeping its calendar date.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns to - from in whole calendar days.
func DaysBetween(from, to time.Time) int {
	return int(CivilDate(to).Sub(CivilDate(from)).Hours() / 24)
}

// ValidateEndDate checks that end parses and lies strictly after today.
func ValidateEndDate(end string, today time.Time) (string, error) {
	d, err := ParseDate(end)
	if err != nil {
		return "", err
	}
	if DaysBetween(today, d) <= 0 {
		return "", ErrEndNotAfter
	}
	return d.Format(DateLayout), nil
}
