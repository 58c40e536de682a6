// Package money provides fixed-point USDT amounts with 8 fractional digits.
// All arithmetic is integer-only; floats only appear at the boundaries to the
// payment processor and are rounded exactly once on conversion.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Amount is a monetary value in minor units (1 USDT = 1e8 units).
type Amount int64

// Digits is the number of fractional digits carried by Amount.
const Digits = 8

const unit = 100_000_000

var ErrInvalidAmount = errors.New("money: invalid amount")

// FromUnits wraps a raw minor-unit value.
func FromUnits(v int64) Amount { return Amount(v) }

// FromFloat converts a float value, rounding half away from zero at 8 digits.
func FromFloat(f float64) Amount {
	return Amount(math.Round(f * unit))
}

// Parse reads a decimal string with up to 8 fractional digits.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > Digits {
		return 0, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, Digits)
	}
	var v int64
	for _, r := range intPart {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		if v > (math.MaxInt64-9)/10 {
			return 0, fmt.Errorf("%w: %q exceeds the representable range", ErrInvalidAmount, s)
		}
		v = v*10 + int64(r-'0')
	}
	frac := int64(0)
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		frac = frac*10 + int64(r-'0')
	}
	for i := len(fracPart); i < Digits; i++ {
		frac *= 10
	}
	if v > (math.MaxInt64-frac)/unit {
		return 0, fmt.Errorf("%w: %q exceeds the representable range", ErrInvalidAmount, s)
	}
	v = v*unit + frac
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Units returns the raw minor-unit value.
func (a Amount) Units() int64 { return int64(a) }

// Float64 converts back to a float for outbound API payloads.
func (a Amount) Float64() float64 { return float64(a) / unit }

// IsPositive reports whether the amount is greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// Percent returns pct percent of the amount, rounded half away from zero.
func (a Amount) Percent(pct int64) Amount {
	v := int64(a) * pct
	if v >= 0 {
		return Amount((v + 50) / 100)
	}
	return Amount((v - 50) / 100)
}

// String renders the amount in decimal notation with trailing zeros trimmed.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / unit
	frac := v % unit
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	s := strings.TrimRight(fmt.Sprintf("%08d", frac), "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, s)
}
