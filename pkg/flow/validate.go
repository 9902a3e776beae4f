package flow

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Input bounds. Amounts are in the configured currency's major unit.
const (
	maxAmount          = 1_000_000
	maxPlayerSiteIDLen = 50
	minPasswordLen     = 8
	minDisplayNameLen  = 2
	maxDisplayNameLen  = 64
	maxFieldValueLen   = 100
)

var (
	playerSiteIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailPattern        = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern        = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
)

// parseAmount validates a user-entered amount and returns its canonical
// two-decimal form. Zero, negative, non-numeric and absurdly large values
// are rejected; the smallest accepted value is 0.01.
func parseAmount(raw string) (string, bool) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v <= 0 || v > maxAmount {
		return "", false
	}
	out := strconv.FormatFloat(v, 'f', 2, 64)
	if out == "0.00" {
		return "", false
	}
	return out, true
}

// validPlayerSiteID checks the site-local player identifier.
func validPlayerSiteID(s string) bool {
	return s != "" && len(s) <= maxPlayerSiteIDLen && playerSiteIDPattern.MatchString(s)
}

func validEmail(s string) bool {
	return len(s) <= 254 && emailPattern.MatchString(s)
}

func validPassword(s string) bool {
	return len(s) >= minPasswordLen
}

func validDisplayName(s string) bool {
	n := len(strings.TrimSpace(s))
	return n >= minDisplayNameLen && n <= maxDisplayNameLen
}

// validPhone checks E.164 form.
func validPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// validFieldValue checks a withdraw required-field answer.
func validFieldValue(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && len(s) <= maxFieldValueLen
}

// maskAccount hides all but the last four characters of an account number.
func maskAccount(s string) string {
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
