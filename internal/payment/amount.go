// Package payment forwards subscription charges to the payment processor
// and records the resulting transactions.
package payment

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidAmount reports a malformed or out-of-range decimal amount.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrInvalidCurrency reports a currency code that is not three letters.
var ErrInvalidCurrency = errors.New("invalid currency")

// minorExponents lists currencies whose minor unit is not 1/100.
var minorExponents = map[string]int{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"KWD": 3,
	"BHD": 3,
	"JOD": 3,
	"OMR": 3,
	"TND": 3,
	"IQD": 3,
	"LYD": 3,
}

// NormalizeCurrency upper-cases and validates an ISO 4217 code.
func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if len(c) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
		}
	}
	return c, nil
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int {
	if e, ok := minorExponents[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// ToMinor converts a positive decimal string such as "99.5" into the
// currency's minor units (9950 for SAR). The conversion is exact: amounts
// with more fractional digits than the currency allows are rejected rather
// than rounded.
func ToMinor(amount, currency string) (int64, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if s[0] == '+' {
		s = s[1:]
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if hasDot && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	exp := Exponent(currency)
	frac = strings.TrimRight(frac, "0")
	if len(frac) > exp {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, amount, exp)
	}
	frac += strings.Repeat("0", exp-len(frac))

	var minor int64
	for _, r := range whole + frac {
		d := int64(r - '0')
		if minor > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, amount)
		}
		minor = minor*10 + d
	}
	if minor == 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return minor, nil
}

// FormatMinor renders minor units back as a decimal string with exactly
// the currency's number of fractional digits.
func FormatMinor(minor int64, currency string) string {
	exp := Exponent(currency)
	neg := minor < 0
	if neg {
		minor = -minor
	}
	digits := fmt.Sprintf("%0*d", exp+1, minor)
	out := digits
	if exp > 0 {
		out = digits[:len(digits)-exp] + "." + digits[len(digits)-exp:]
	}
	if neg {
		return "-" + out
	}
	return out
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
