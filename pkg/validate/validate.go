package validate

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidUsername = errors.New("username must be 3-32 characters of letters, digits, '_', '.' or '-'")
	ErrInvalidSecret   = errors.New("password must be 3-64 characters")
	ErrInvalidDays     = errors.New("duration must be a whole number of days between 1 and 3650")
	ErrInvalidAmount   = errors.New("amount must contain digits only")
)

const (
	MinDays = 1
	MaxDays = 3650
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

func Username(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !usernameRe.MatchString(s) {
		return "", ErrInvalidUsername
	}
	return s, nil
}

func Secret(s string) (string, error) {
	s = strings.TrimSpace(s)
	if n := len([]rune(s)); n < 3 || n > 64 || strings.ContainsAny(s, " \t\n") {
		return "", ErrInvalidSecret
	}
	return s, nil
}

func Days(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < MinDays || n > MaxDays {
		return 0, ErrInvalidDays
	}
	return n, nil
}

// Amount parses a nominal like "5000" or "5.000". Separators are dropped,
// anything else is rejected.
func Amount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(".", "", ",", "", "_", "").Replace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return n, nil
}

// ExpiryDate returns the calendar date days after now in YYYY-MM-DD.
func ExpiryDate(now time.Time, days int) string {
	return now.AddDate(0, 0, days).Format(time.DateOnly)
}
