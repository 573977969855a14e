// Package logvalue implements compressed-magnitude arithmetic.
//
// A positive real x is stored as Value(round(ln(x) * Precision)). Multiply,
// divide, power and root are exact in log space. Add is an approximation
// bounded within 2x of the true sum and must never be used for quantities
// that need exact accounting.
//
// ln is derived from a bit-length log2 approximation (integer part from the
// bit length, fractional part linear in the mantissa) scaled by ln(2). All
// conversions use integer arithmetic only, so every node and the settlement
// re-validation compute bit-identical values.
//
// Mul, Div, Pow and Root are exact on Values, but the linear mantissa makes
// ToLog itself approximate: Mul(ToLog(a), ToLog(b)) differs from ToLog(a*b)
// by at most MulErrorBound. Powers of two convert exactly.
package logvalue

import (
	"fmt"
	"math"
	"math/bits"
)

const (
	// Precision is the fixed-point scale of a Value
	Precision = 1000000
	// Ln2 is round(ln(2) * Precision)
	Ln2 Value = 693147
	// NegligibleGap is the gap beyond which the smaller Add operand is dropped
	NegligibleGap Value = 10 * Precision
	// MulErrorBound bounds |Mul(ToLog(a), ToLog(b)) - ToLog(a*b)|.
	// The linear log2 underestimates by at most 0.0861 per conversion, so
	// the sum is off by at most 2*0.0861*ln(2) ~= 0.1193 natural-log units.
	MulErrorBound Value = 120000

	fracBits = 32
	fracMask = 1<<fracBits - 1
)

// Value is a signed fixed-point natural logarithm
type Value int64

// Zero is ToLog(1)
const Zero Value = 0

func (v Value) String() string {
	sign := ""
	if v < 0 {
		sign = "-"
	}
	a := abs(int64(v))
	return fmt.Sprintf("e^%s%d.%06d", sign, a/Precision, a%Precision)
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// fromLog2Q converts a Q32 log2 value to a Value, rounding half up
func fromLog2Q(log2q int64) Value {
	return Value((log2q*int64(Ln2) + 1<<(fracBits-1)) >> fracBits)
}

// ToLog converts a positive integer into a Value. x must not be zero.
func ToLog(x uint64) Value {
	if x == 0 {
		panic("logvalue: ToLog(0) is undefined")
	}
	n := bits.Len64(x) - 1
	rem := x - 1<<uint(n)
	var frac uint64
	if n >= fracBits {
		frac = rem >> uint(n-fracBits)
	} else {
		frac = rem << uint(fracBits-n)
	}
	return fromLog2Q(int64(n)<<fracBits | int64(frac))
}

// FromFloat converts a positive float into a Value using the same
// piecewise-linear log2 as ToLog. It is meant for configuration values.
func FromFloat(x float64) Value {
	if !(x > 0) || math.IsInf(x, 1) {
		panic(fmt.Sprintf("logvalue: FromFloat(%v) is undefined", x))
	}
	mant, exp := math.Frexp(x) // x = mant * 2^exp, mant in [0.5, 1)
	f := int64(math.Floor((2*mant - 1) * (1 << fracBits)))
	return fromLog2Q(int64(exp-1)<<fracBits + f)
}

// toLog2Q inverts fromLog2Q, returning false when v is out of range
func toLog2Q(v Value) (int64, bool) {
	neg := v < 0
	u := uint64(abs(int64(v)))
	hi, lo := bits.Mul64(u, 1<<fracBits)
	var carry uint64
	lo, carry = bits.Add64(lo, uint64(Ln2/2), 0)
	hi += carry
	if hi >= uint64(Ln2) {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, uint64(Ln2))
	if q > math.MaxInt64 {
		return 0, false
	}
	if neg {
		return -int64(q), true
	}
	return int64(q), true
}

// FromLog converts a Value back to a float, returning +Inf or 0 when out of range
func FromLog(v Value) float64 {
	log2q, ok := toLog2Q(v)
	if !ok {
		if v > 0 {
			return math.Inf(1)
		}
		return 0
	}
	n := log2q >> fracBits
	f := log2q & fracMask
	if n > 2048 {
		return math.Inf(1)
	} else if n < -2048 {
		return 0
	}
	return math.Ldexp(1+float64(f)/(1<<fracBits), int(n))
}

// FromLogUint converts a Value to an integer, saturating at math.MaxUint64.
// Values below ln(1) return 0.
func FromLogUint(v Value) uint64 {
	if v < 0 {
		return 0
	}
	log2q, ok := toLog2Q(v)
	if !ok {
		return math.MaxUint64
	}
	n := uint(log2q >> fracBits)
	f := uint64(log2q & fracMask)
	if n >= 64 {
		return math.MaxUint64
	}
	base := uint64(1) << n
	var mant uint64
	if n >= fracBits {
		mant = f << (n - fracBits)
	} else {
		mant = f >> (fracBits - n)
	}
	return base + mant
}

// Mul returns the Value of the product, exact in log space
func Mul(a, b Value) Value {
	return a + b
}

// Div returns the Value of the quotient, exact in log space
func Div(a, b Value) Value {
	return a - b
}

// Pow returns the Value of a raised to n, exact in log space
func Pow(a Value, n int64) Value {
	return a * Value(n)
}

// Root returns the Value of the n-th root of a. n must be positive.
func Root(a Value, n int64) Value {
	if n <= 0 {
		panic(fmt.Sprintf("logvalue: Root with n=%d", n))
	}
	return a / Value(n)
}

// Add approximates the Value of the sum of a and b.
//
// If one operand is more than e^10 times the other the smaller one is
// dropped. Otherwise both are treated as equal and the larger one is
// doubled. The result is symmetric, never smaller than max(a, b), and
// within 2x of the true sum.
func Add(a, b Value) Value {
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi-lo > NegligibleGap {
		return hi
	}
	return hi + Ln2
}

// Max returns the larger Value
func Max(a, b Value) Value {
	if a > b {
		return a
	}
	return b
}

// Units converts whole natural-log units to a Value
func Units(n int64) Value {
	return Value(n * Precision)
}
