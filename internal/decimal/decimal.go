// Package decimal implements fixed-point arithmetic for monetary quantities.
//
// A Decimal is a signed mantissa with an implicit 18 fractional digits
// (1 unit == 1e-18). FromString and FromMantissa reject mantissas outside
// the signed 128-bit range. Add, Sub, Mul and Div compute on math/big and
// do not check their results against that range, so a result can exceed
// 128 bits.
package decimal

import (
	"errors"
	"fmt"
	"math/big"
)

// Scale is the number of implicit fractional digits.
const Scale = 18

// ErrDivByZero is returned by Div when the divisor is zero.
var ErrDivByZero = errors.New("decimal: division by zero")

var scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(Scale), nil)

// minInt128/maxInt128 bound the mantissa to a signed 128-bit range.
var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Decimal holds a mantissa scaled by 10^Scale.
type Decimal struct {
	mantissa big.Int
}

// Zero is the additive identity.
var Zero = Decimal{}

// New builds a Decimal from an integer whole-number value.
func New(whole int64) Decimal {
	var d Decimal
	d.mantissa.Mul(big.NewInt(whole), scaleFactor)
	return d
}

// FromString parses a base-10 decimal string such as "105.50" or "-0.001".
func FromString(s string) (Decimal, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, fmt.Errorf("decimal: invalid literal %q", s)
	}
	num := new(big.Int).Mul(r.Num(), scaleFactor)
	q := new(big.Int).Quo(num, r.Denom())
	return clamp(q)
}

// FromMantissa builds a Decimal directly from a raw scaled mantissa, as
// stored on the wire or in a checkpoint record.
func FromMantissa(m *big.Int) (Decimal, error) {
	return clamp(new(big.Int).Set(m))
}

// Mantissa returns the raw scaled integer, for serialization.
func (d Decimal) Mantissa() *big.Int {
	return new(big.Int).Set(&d.mantissa)
}

// GobEncode/GobDecode delegate to big.Int's own gob support so Decimal can
// be embedded in gob-encoded records (checkpoint, the event log, order
// intents persisted by ExecutionEngine) without losing its unexported
// mantissa to gob's default exported-fields-only struct encoding.
func (d Decimal) GobEncode() ([]byte, error) {
	return d.mantissa.GobEncode()
}

func (d *Decimal) GobDecode(data []byte) error {
	return d.mantissa.GobDecode(data)
}

func clamp(m *big.Int) (Decimal, error) {
	if m.Cmp(maxInt128) > 0 || m.Cmp(minInt128) < 0 {
		return Decimal{}, fmt.Errorf("decimal: mantissa %s overflows 128 bits", m)
	}
	var d Decimal
	d.mantissa.Set(m)
	return d, nil
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal {
	var out Decimal
	out.mantissa.Add(&d.mantissa, &other.mantissa)
	return out
}

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) Decimal {
	var out Decimal
	out.mantissa.Sub(&d.mantissa, &other.mantissa)
	return out
}

// Neg returns -d.
func (d Decimal) Neg() Decimal {
	var out Decimal
	out.mantissa.Neg(&d.mantissa)
	return out
}

// Mul returns d * other, computed on big.Int and rescaled by removing the
// extra scale factor. The result is not checked against the 128-bit range.
func (d Decimal) Mul(other Decimal) Decimal {
	wide := new(big.Int).Mul(&d.mantissa, &other.mantissa)
	wide.Quo(wide, scaleFactor)
	var out Decimal
	out.mantissa.Set(wide)
	return out
}

// Div returns d / other. Returns ErrDivByZero if other is zero.
func (d Decimal) Div(other Decimal) (Decimal, error) {
	if other.IsZero() {
		return Decimal{}, ErrDivByZero
	}
	wide := new(big.Int).Mul(&d.mantissa, scaleFactor)
	wide.Quo(wide, &other.mantissa)
	var out Decimal
	out.mantissa.Set(wide)
	return out, nil
}

// Cmp returns -1, 0, or 1 as d is less than, equal to, or greater than other.
// Ordering is total; equality is exact.
func (d Decimal) Cmp(other Decimal) int {
	return d.mantissa.Cmp(&other.mantissa)
}

// IsZero reports whether d is exactly zero.
func (d Decimal) IsZero() bool {
	return d.mantissa.Sign() == 0
}

// Sign returns -1, 0, or 1 for the sign of d.
func (d Decimal) Sign() int {
	return d.mantissa.Sign()
}

// Abs returns the absolute value of d.
func (d Decimal) Abs() Decimal {
	var out Decimal
	out.mantissa.Abs(&d.mantissa)
	return out
}

// String renders the decimal in base-10 with exactly Scale fractional
// digits; trailing zeros are kept (New(100) renders as
// "100.000000000000000000").
func (d Decimal) String() string {
	r := new(big.Rat).SetFrac(&d.mantissa, scaleFactor)
	return r.FloatString(Scale)
}
