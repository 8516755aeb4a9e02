// Package phone normalizes payer MSISDNs to E.164 so that numbers coming
// from the payment network ("254712345678", "0712345678") compare equal to
// the numbers tenants keep on file.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultRegion is used when a number carries no country prefix.
const DefaultRegion = "KE"

// Normalize parses a raw phone number and returns its E.164 form.
func Normalize(raw, region string) (string, error) {
	if region == "" {
		region = DefaultRegion
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty phone number")
	}
	// Payment networks often strip the leading '+' from international form.
	if !strings.HasPrefix(raw, "+") && !strings.HasPrefix(raw, "0") && len(raw) > 9 {
		raw = "+" + raw
	}

	p, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("parse phone number: %w", err)
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number %q is not valid for region %s", raw, region)
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

// Equal reports whether two numbers refer to the same subscriber. Numbers
// that fail to normalize fall back to a strict string comparison.
func Equal(a, b, region string) bool {
	na, errA := Normalize(a, region)
	nb, errB := Normalize(b, region)
	if errA != nil || errB != nil {
		return a == b
	}
	return na == nb
}
