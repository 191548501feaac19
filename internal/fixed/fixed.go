// Package fixed implements the fixed-point numeric model for on-chain values.
// All amounts are integers at a declared scale; arithmetic never touches
// binary floats, and the JSON codec round-trips values as decimal strings.
package fixed

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Config defines a fixed-point scale: an integer v is interpreted as v / Unit.
type Config struct {
	Decimals int32
	Unit     *big.Int // 10^Decimals
}

var (
	// Wad is the 18-digit scale used for price, size, leverage and PnL.
	Wad = Config{Decimals: 18, Unit: pow10(18)}

	// Collateral is the 6-digit scale of the collateral asset (margin).
	Collateral = Config{Decimals: 6, Unit: pow10(6)}
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

var bigZero = new(big.Int)

// Amount is an immutable fixed-point integer. The scale is contextual
// (Wad or Collateral, declared by the field that holds it).
// The zero value is zero.
type Amount struct {
	i *big.Int
}

// FromBig returns an Amount holding a copy of v.
func FromBig(v *big.Int) Amount {
	if v == nil {
		return Amount{}
	}
	return Amount{i: new(big.Int).Set(v)}
}

// FromInt64 returns an Amount with the raw integer value v.
func FromInt64(v int64) Amount {
	return Amount{i: big.NewInt(v)}
}

// Units returns n whole units at the given scale (n * cfg.Unit).
func Units(n int64, cfg Config) Amount {
	return Amount{i: new(big.Int).Mul(big.NewInt(n), cfg.Unit)}
}

// Parse parses a decimal string of the raw scaled integer ("-?[0-9]+").
func Parse(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("fixed: invalid amount %q", s)
	}
	return Amount{i: v}, nil
}

// MustParse is Parse for constants in tests and wiring code.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) ref() *big.Int {
	if a.i == nil {
		return bigZero
	}
	return a.i
}

// BigInt returns a copy of the raw scaled integer.
func (a Amount) BigInt() *big.Int { return new(big.Int).Set(a.ref()) }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{i: new(big.Int).Add(a.ref(), b.ref())}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{i: new(big.Int).Sub(a.ref(), b.ref())}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{i: new(big.Int).Neg(a.ref())}
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int { return a.ref().Cmp(b.ref()) }

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int { return a.ref().Sign() }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.ref().Sign() == 0 }

// Equal reports a == b.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

// String formats the raw scaled integer as a decimal string. This is the
// canonical serialized form; it never loses precision.
func (a Amount) String() string { return a.ref().String() }

// MulScaled returns a*b at the scale of cfg: (a * b) / cfg.Unit, truncated
// toward zero. With a and b both Wad this is the notional rule.
func (a Amount) MulScaled(b Amount, cfg Config) Amount {
	v := new(big.Int).Mul(a.ref(), b.ref())
	return Amount{i: v.Quo(v, cfg.Unit)}
}

// Rescale converts between scales, e.g. Rescale(Collateral, Wad) widens a
// 6-digit margin value to 18 digits. Narrowing truncates toward zero.
func (a Amount) Rescale(from, to Config) Amount {
	if from.Decimals == to.Decimals {
		return FromBig(a.ref())
	}
	if to.Decimals > from.Decimals {
		f := pow10(int64(to.Decimals - from.Decimals))
		return Amount{i: new(big.Int).Mul(a.ref(), f)}
	}
	f := pow10(int64(from.Decimals - to.Decimals))
	return Amount{i: new(big.Int).Quo(a.ref(), f)}
}

// Notional returns price*size at Wad scale.
func Notional(price, size Amount) Amount {
	return price.MulScaled(size, Wad)
}

// Decimal converts the amount to a human-unit decimal at its scale
// (e.g. 1500000 at Collateral scale becomes 1.5). Exact, no rounding.
func (a Amount) Decimal(cfg Config) decimal.Decimal {
	return decimal.NewFromBigInt(a.ref(), -cfg.Decimals)
}

// FromDecimal converts a human-unit decimal into a scaled Amount. Fractional
// digits beyond the scale are truncated toward zero.
func FromDecimal(d decimal.Decimal, cfg Config) Amount {
	shifted := d.Shift(cfg.Decimals).Truncate(0)
	return Amount{i: shifted.BigInt()}
}

// MarshalJSON encodes the raw scaled integer as a quoted decimal string,
// never as a JSON number, so 18-digit values survive any JSON round trip.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare integer literal.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*a = Amount{}
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
