// Package rational provides an immutable exact rational number used for every
// time, duration, tempo and pitch value in the sequencer.
package rational

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// Rat is an exact rational number. The zero value is 0.
//
// A Rat never mutates the big.Rat it points to, so copies can share it.
type Rat struct {
	v *big.Rat
}

var zero = new(big.Rat)

func wrap(v *big.Rat) Rat { return Rat{v: v} }

func (r Rat) rat() *big.Rat {
	if r.v == nil {
		return zero
	}
	return r.v
}

// New returns num/den. It panics if den is zero.
func New(num, den int64) Rat {
	if den == 0 {
		panic("rational: zero denominator")
	}
	return wrap(big.NewRat(num, den))
}

// Int returns n/1.
func Int(n int64) Rat {
	return wrap(new(big.Rat).SetInt64(n))
}

// FromFloat returns the exact binary value of f. Non-finite values give 0.
func FromFloat(f float64) Rat {
	v := new(big.Rat)
	if v.SetFloat64(f) == nil {
		return Rat{}
	}
	return wrap(v)
}

// Parse accepts "n", "n/d" and decimal forms such as "0.25".
func Parse(s string) (Rat, error) {
	v, ok := new(big.Rat).SetString(s)
	if !ok {
		return Rat{}, fmt.Errorf("rational: invalid value %q", s)
	}
	return wrap(v), nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) Rat {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rat) Add(o Rat) Rat { return wrap(new(big.Rat).Add(r.rat(), o.rat())) }
func (r Rat) Sub(o Rat) Rat { return wrap(new(big.Rat).Sub(r.rat(), o.rat())) }
func (r Rat) Mul(o Rat) Rat { return wrap(new(big.Rat).Mul(r.rat(), o.rat())) }
func (r Rat) Neg() Rat      { return wrap(new(big.Rat).Neg(r.rat())) }
func (r Rat) Abs() Rat      { return wrap(new(big.Rat).Abs(r.rat())) }

// Quo returns r/o. It panics if o is zero.
func (r Rat) Quo(o Rat) Rat {
	if o.IsZero() {
		panic("rational: division by zero")
	}
	return wrap(new(big.Rat).Quo(r.rat(), o.rat()))
}

// MulInt returns r*n.
func (r Rat) MulInt(n int64) Rat { return r.Mul(Int(n)) }

// Cmp returns -1, 0 or +1.
func (r Rat) Cmp(o Rat) int { return r.rat().Cmp(o.rat()) }

func (r Rat) Equal(o Rat) bool  { return r.Cmp(o) == 0 }
func (r Rat) Less(o Rat) bool   { return r.Cmp(o) < 0 }
func (r Rat) LessEq(o Rat) bool { return r.Cmp(o) <= 0 }
func (r Rat) Sign() int         { return r.rat().Sign() }
func (r Rat) IsZero() bool      { return r.Sign() == 0 }
func (r Rat) IsInt() bool       { return r.rat().IsInt() }
func (r Rat) Num() *big.Int     { return new(big.Int).Set(r.rat().Num()) }
func (r Rat) Denom() *big.Int   { return new(big.Int).Set(r.rat().Denom()) }
func (r Rat) Positive() bool    { return r.Sign() > 0 }
func (r Rat) Negative() bool    { return r.Sign() < 0 }
func (r Rat) String() string    { return r.rat().RatString() }
func (r Rat) GoString() string  { return "rational.MustParse(\"" + r.String() + "\")" }

// Float64 returns the nearest float64 value.
func (r Rat) Float64() float64 {
	f, _ := r.rat().Float64()
	return f
}

// Floor returns the greatest integer <= r.
func (r Rat) Floor() int64 {
	v := r.rat()
	// Euclidean division floors for the always-positive denominator.
	q := new(big.Int).Div(v.Num(), v.Denom())
	return q.Int64()
}

// FloorRat is Floor as a Rat.
func (r Rat) FloorRat() Rat { return Int(r.Floor()) }

// Frac returns r - Floor(r), in [0, 1).
func (r Rat) Frac() Rat { return r.Sub(r.FloorRat()) }

// Min returns the smaller of a and b.
func Min(a, b Rat) Rat {
	if b.Less(a) {
		return b
	}
	return a
}

// Max returns the larger of a and b.
func Max(a, b Rat) Rat {
	if b.Cmp(a) > 0 {
		return b
	}
	return a
}

func (r Rat) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rat) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// UnmarshalJSON accepts both JSON strings and bare numbers.
func (r *Rat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return r.UnmarshalText([]byte(s))
	}
	return r.UnmarshalText(data)
}

// Snap rounds r to the nearest multiple of step (step > 0). A value exactly
// halfway between two multiples goes to the one nearer zero.
func Snap(r, step Rat) Rat {
	lo := r.Quo(step).FloorRat().Mul(step)
	hi := lo.Add(step)
	return Nearest(r, lo, hi)
}

// Nearest returns whichever of lo and hi is closer to r. On a tie it returns
// the candidate with the smaller magnitude.
func Nearest(r, lo, hi Rat) Rat {
	switch r.Sub(lo).Cmp(hi.Sub(r)) {
	case -1:
		return lo
	case 1:
		return hi
	}
	if lo.Abs().LessEq(hi.Abs()) {
		return lo
	}
	return hi
}
