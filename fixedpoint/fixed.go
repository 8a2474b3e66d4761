package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Decimals is the number of decimal places carried by a Fixed value.
	Decimals = 8

	// One is the Fixed representation of the whole number 1.
	One Fixed = 100_000_000

	// Zero is the Fixed representation of 0.
	Zero Fixed = 0

	// Max is the largest value a Fixed can hold.
	Max Fixed = math.MaxInt64

	// Min is the smallest value a Fixed can hold.
	Min Fixed = math.MinInt64
)

var (
	// ErrOverflow is returned if the exact result of an operation does not
	// fit into the range of a Fixed value.
	ErrOverflow = errors.New("fixed-point overflow")

	// ErrPrecision is returned when parsing a number that carries more
	// decimal places than a Fixed value can represent.
	ErrPrecision = fmt.Errorf("fixed-point values carry at most %d "+
		"decimal places", Decimals)

	// ErrDivideByZero is returned by MulDivFloor if the divisor is zero.
	ErrDivideByZero = errors.New("fixed-point division by zero")

	maxDecimal = decimal.New(math.MaxInt64, 0)
	minDecimal = decimal.New(math.MinInt64, 0)
)

// Fixed is a signed fixed-point number with Decimals decimal places. The
// underlying integer counts base units, one base unit being 10^-8.
//
// All arithmetic is checked. Products are computed exactly and then rounded
// to the nearest base unit in the direction named by the method, so callers
// always decide explicitly who absorbs the rounding dust.
type Fixed int64

// New returns the Fixed value of the given whole number.
func New(whole int64) (Fixed, error) {
	return fromDecimal(decimal.New(whole, 0), false)
}

// FromUnits returns the Fixed value made of the given number of base units.
func FromUnits(units int64) Fixed {
	return Fixed(units)
}

// Parse parses a decimal string such as "0.1" or "1250" into a Fixed value.
// More than Decimals decimal places are rejected instead of being rounded.
func Parse(s string) (Fixed, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid fixed-point number %q: %w", s,
			err)
	}

	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrPrecision
	}

	return fromDecimal(d, false)
}

// MustParse is like Parse but panics on error. It is intended for constants
// and tests.
func MustParse(s string) Fixed {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return f
}

// fromDecimal rounds the decimal to Decimals places, rounding up if roundUp is
// set and down otherwise, and converts it into a Fixed value.
func fromDecimal(d decimal.Decimal, roundUp bool) (Fixed, error) {
	units := d.Shift(Decimals)
	if roundUp {
		units = units.Ceil()
	} else {
		units = units.Floor()
	}

	if units.Cmp(maxDecimal) > 0 || units.Cmp(minDecimal) < 0 {
		return 0, ErrOverflow
	}

	return Fixed(units.IntPart()), nil
}

// Decimal returns the exact decimal representation of the value.
func (f Fixed) Decimal() decimal.Decimal {
	return decimal.New(int64(f), -Decimals)
}

// Units returns the number of base units of the value.
func (f Fixed) Units() int64 {
	return int64(f)
}

// String returns the decimal text form of the value, e.g. "0.1".
func (f Fixed) String() string {
	return f.Decimal().String()
}

// IsZero returns true if the value is zero.
func (f Fixed) IsZero() bool {
	return f == 0
}

// IsPositive returns true if the value is strictly greater than zero.
func (f Fixed) IsPositive() bool {
	return f > 0
}

// Cmp compares f and g and returns -1, 0 or +1.
func (f Fixed) Cmp(g Fixed) int {
	switch {
	case f < g:
		return -1
	case f > g:
		return 1
	default:
		return 0
	}
}

// Add returns f + g.
func (f Fixed) Add(g Fixed) (Fixed, error) {
	sum := f + g
	if (g > 0 && sum < f) || (g < 0 && sum > f) {
		return 0, ErrOverflow
	}

	return sum, nil
}

// Sub returns f - g.
func (f Fixed) Sub(g Fixed) (Fixed, error) {
	diff := f - g
	if (g > 0 && diff > f) || (g < 0 && diff < f) {
		return 0, ErrOverflow
	}

	return diff, nil
}

// MulFloor returns a × b rounded down to the nearest base unit.
func MulFloor(a, b Fixed) (Fixed, error) {
	return fromDecimal(a.Decimal().Mul(b.Decimal()), false)
}

// MulCeil returns a × b rounded up to the nearest base unit.
func MulCeil(a, b Fixed) (Fixed, error) {
	return fromDecimal(a.Decimal().Mul(b.Decimal()), true)
}

// MulDivFloor returns a × b / c rounded down to the nearest base unit, where b
// and c are plain integers. The product is never truncated before the
// division.
func MulDivFloor(a Fixed, b, c int64) (Fixed, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}

	num := a.Decimal().Mul(decimal.New(b, 0))
	q, r := num.QuoRem(decimal.New(c, 0), Decimals)

	res, err := fromDecimal(q, false)
	if err != nil {
		return 0, err
	}

	// QuoRem truncates towards zero, so a negative quotient with a
	// remainder needs one more unit down to become a floor.
	if !r.IsZero() && (num.Sign() < 0) != (c < 0) {
		return res.Sub(1)
	}

	return res, nil
}

// Sum adds up all the given values.
func Sum(values ...Fixed) (Fixed, error) {
	var (
		total Fixed
		err   error
	)
	for _, v := range values {
		total, err = total.Add(v)
		if err != nil {
			return 0, err
		}
	}

	return total, nil
}

// MinOf returns the smaller of a and b.
func MinOf(a, b Fixed) Fixed {
	if a < b {
		return a
	}

	return b
}

// MarshalJSON encodes the value as a quoted decimal string so no precision is
// lost in JSON number handling.
func (f Fixed) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// UnmarshalJSON decodes a quoted or unquoted decimal number.
func (f *Fixed) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := Parse(s)
	if err != nil {
		return err
	}

	*f = v
	return nil
}

// UnmarshalFlag implements the go-flags Unmarshaler interface so Fixed values
// can be used directly in configuration structs.
func (f *Fixed) UnmarshalFlag(value string) error {
	v, err := Parse(value)
	if err != nil {
		return err
	}

	*f = v
	return nil
}

// MarshalFlag implements the go-flags Marshaler interface.
func (f Fixed) MarshalFlag() (string, error) {
	return f.String(), nil
}
