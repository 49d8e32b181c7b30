package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Decimals is the fixed number of fractional digits for USDC.
const Decimals = 6

// unitsPerMajor is 10^Decimals: micro-USDC per whole USDC.
const unitsPerMajor int64 = 1_000_000

// Amount represents a USDC amount in atomic units (micro-USDC).
// All arithmetic is performed on int64 to avoid floating-point precision
// issues.
//
// Examples:
//   - 1.5 USDC  = Amount{Atomic: 1500000}
//   - 0.10 USDC = Amount{Atomic: 100000}
type Amount struct {
	Atomic int64
}

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrInvalidFormat occurs when parsing fails.
	ErrInvalidFormat = errors.New("money: invalid format")

	// ErrNegativeAmount occurs when a negative amount is invalid for an
	// operation.
	ErrNegativeAmount = errors.New("money: negative amount not allowed")
)

// Zero is the zero amount.
var Zero = Amount{}

// FromAtomic creates an Amount from atomic units.
func FromAtomic(atomic int64) Amount {
	return Amount{Atomic: atomic}
}

// ParseAtomic creates an Amount from an atomic units string, as used in
// x402 requirements ("maxAmountRequired" is smallest units).
func ParseAtomic(atomic string) (Amount, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(atomic), 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return Amount{Atomic: value}, nil
}

// FromMajor creates an Amount from a major unit decimal string
// (e.g. "10.50"). Uses half-up rounding beyond six fractional digits.
func FromMajor(major string) (Amount, error) {
	s := strings.TrimSpace(major)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}

	negative := false
	if s[0] == '+' || s[0] == '-' {
		negative = s[0] == '-'
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Amount{}, fmt.Errorf("%w: too many decimal points", ErrInvalidFormat)
	}

	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	if integerPart == "" && fractionalPart == "" {
		return Amount{}, fmt.Errorf("%w: no digits", ErrInvalidFormat)
	}
	if integerPart == "" {
		integerPart = "0"
	}

	integerVal, err := strconv.ParseInt(integerPart, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	// Fractional digits with half-up rounding past the sixth
	var atomicFromFraction int64
	if fractionalPart != "" {
		if len(fractionalPart) > Decimals {
			roundDigit := fractionalPart[Decimals]
			if roundDigit < '0' || roundDigit > '9' {
				return Amount{}, fmt.Errorf("%w: non-digit fraction", ErrInvalidFormat)
			}
			fractionalPart = fractionalPart[:Decimals]
			atomicFromFraction, err = strconv.ParseInt(fractionalPart, 10, 64)
			if err != nil {
				return Amount{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
			if roundDigit >= '5' {
				atomicFromFraction++
			}
		} else {
			padded := fractionalPart + strings.Repeat("0", Decimals-len(fractionalPart))
			atomicFromFraction, err = strconv.ParseInt(padded, 10, 64)
			if err != nil {
				return Amount{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
		}
	}

	if integerVal > (1<<63-1)/unitsPerMajor {
		return Amount{}, ErrOverflow
	}
	total := integerVal*unitsPerMajor + atomicFromFraction
	if negative {
		total = -total
	}

	return Amount{Atomic: total}, nil
}

// MustFromMajor is FromMajor that panics on error, for constants in tests
// and configuration defaults.
func MustFromMajor(major string) Amount {
	a, err := FromMajor(major)
	if err != nil {
		panic(err)
	}
	return a
}

// ToMajor converts the amount to a major unit decimal string with all six
// fractional digits ("1.500000").
func (a Amount) ToMajor() string {
	atomic := a.Atomic
	sign := ""
	if atomic < 0 {
		sign = "-"
		atomic = -atomic
	}

	integerPart := atomic / unitsPerMajor
	fractionalPart := atomic % unitsPerMajor

	return fmt.Sprintf("%s%d.%06d", sign, integerPart, fractionalPart)
}

// ToAtomic returns the atomic units as a decimal string.
func (a Amount) ToAtomic() string {
	return strconv.FormatInt(a.Atomic, 10)
}

// Add returns the sum, guarding against overflow.
func (a Amount) Add(other Amount) (Amount, error) {
	result := a.Atomic + other.Atomic
	if (result > a.Atomic) != (other.Atomic > 0) && other.Atomic != 0 {
		return Amount{}, ErrOverflow
	}
	return Amount{Atomic: result}, nil
}

// Sub returns the difference, guarding against underflow.
func (a Amount) Sub(other Amount) (Amount, error) {
	result := a.Atomic - other.Atomic
	if (result < a.Atomic) != (other.Atomic > 0) && other.Atomic != 0 {
		return Amount{}, ErrOverflow
	}
	return Amount{Atomic: result}, nil
}

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool {
	return a.Atomic > 0
}

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool {
	return a.Atomic < 0
}

// IsZero returns true if the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Atomic == 0
}

// LessThan returns true if a < other.
func (a Amount) LessThan(other Amount) bool {
	return a.Atomic < other.Atomic
}

// GreaterThan returns true if a > other.
func (a Amount) GreaterThan(other Amount) bool {
	return a.Atomic > other.Atomic
}

// Equal returns true if amounts are identical.
func (a Amount) Equal(other Amount) bool {
	return a.Atomic == other.Atomic
}

// Cmp compares two amounts: -1, 0, or +1.
func (a Amount) Cmp(other Amount) int {
	switch {
	case a.Atomic < other.Atomic:
		return -1
	case a.Atomic > other.Atomic:
		return 1
	default:
		return 0
	}
}

// Negate returns the negated amount.
func (a Amount) Negate() Amount {
	return Amount{Atomic: -a.Atomic}
}

// String returns a human-readable representation ("1.500000 USDC").
func (a Amount) String() string {
	return a.ToMajor() + " USDC"
}
