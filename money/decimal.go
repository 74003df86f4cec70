// Package money provides the fixed-precision decimal type used for every
// balance, quantity, price and fee field in the system. Nothing touching
// cash or coin amounts should ever pass through a float64 — binary floats
// cannot represent KRW/coin quantities exactly and every rounding error
// compounds across fills.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the fractional-digit precision mandated by the data model:
// 20 integer + 8 fractional digits (NUMERIC(28,8) at the store layer).
const Scale = 8

// Decimal wraps shopspring/decimal.Decimal and always rounds to Scale on
// construction, so two Decimals built from the same mathematical value
// compare equal regardless of how many operations produced them.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: decimal.Zero}

// New builds a Decimal from a string, rejecting malformed input. Use this
// for anything that ultimately came from a client or the wire — never
// parse user-facing numbers as float64 first.
func New(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return Decimal{d: d.Round(Scale)}, nil
}

// NewFromFloat builds a Decimal from a float64, rounded to Scale. It
// converts float64 tick payload fields (see domain.Tick); the converted
// trade price is the execution price for market orders and limit fills,
// so those prices carry whatever binary rounding the float64 had.
func NewFromFloat(f float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(f).Round(Scale)}
}

// NewFromInt builds a Decimal from an integer quantity.
func NewFromInt(i int64) Decimal {
	return Decimal{d: decimal.NewFromInt(i).Round(Scale)}
}

func (d Decimal) Add(o Decimal) Decimal { return Decimal{d: d.d.Add(o.d).Round(Scale)} }
func (d Decimal) Sub(o Decimal) Decimal { return Decimal{d: d.d.Sub(o.d).Round(Scale)} }
func (d Decimal) Mul(o Decimal) Decimal { return Decimal{d: d.d.Mul(o.d).Round(Scale)} }

// Div performs decimal division rounded to Scale. Division by zero returns
// Zero — callers in this system never divide by a quantity that can be
// legitimately zero (weighted-average cost is only computed when the new
// quantity is positive), so this is a defensive fallback, not a silent
// business rule.
func (d Decimal) Div(o Decimal) Decimal {
	if o.IsZero() {
		return Zero
	}
	return Decimal{d: d.d.DivRound(o.d, Scale)}
}

func (d Decimal) Neg() Decimal { return Decimal{d: d.d.Neg()} }

func (d Decimal) Cmp(o Decimal) int   { return d.d.Cmp(o.d) }
func (d Decimal) GreaterThan(o Decimal) bool           { return d.d.GreaterThan(o.d) }
func (d Decimal) GreaterThanOrEqual(o Decimal) bool     { return d.d.GreaterThanOrEqual(o.d) }
func (d Decimal) LessThan(o Decimal) bool              { return d.d.LessThan(o.d) }
func (d Decimal) LessThanOrEqual(o Decimal) bool        { return d.d.LessThanOrEqual(o.d) }
func (d Decimal) Equal(o Decimal) bool                 { return d.d.Equal(o.d) }
func (d Decimal) IsZero() bool                         { return d.d.IsZero() }
func (d Decimal) IsNegative() bool                     { return d.d.IsNegative() }
func (d Decimal) IsPositive() bool                     { return d.d.IsPositive() }
func (d Decimal) Abs() Decimal                         { return Decimal{d: d.d.Abs()} }

// String renders the canonical fixed-point representation.
func (d Decimal) String() string { return d.d.StringFixed(Scale) }

// Float64 is for logging/metrics only — never feed this back into a
// balance computation.
func (d Decimal) Float64() float64 { f, _ := d.d.Float64(); return f }

// InexactFloat64 is an alias kept for call sites that only need an
// approximate value (e.g. a Prometheus gauge).
func (d Decimal) InexactFloat64() float64 { return d.d.InexactFloat64() }

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.d.StringFixed(Scale))
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("money: invalid decimal %q: %w", s, err)
		}
		d.d = parsed.Round(Scale)
		return nil
	}
	// Fall back to numeric JSON (tick payloads send bare numbers).
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("money: cannot unmarshal %s as decimal", data)
	}
	d.d = decimal.NewFromFloat(f).Round(Scale)
	return nil
}

// Value implements driver.Valuer for NUMERIC columns via pgx.
func (d Decimal) Value() (driver.Value, error) {
	return d.d.StringFixed(Scale), nil
}

// Scan implements sql.Scanner for NUMERIC columns via pgx.
func (d *Decimal) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		d.d = parsed.Round(Scale)
		return nil
	case []byte:
		parsed, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		d.d = parsed.Round(Scale)
		return nil
	case float64:
		d.d = decimal.NewFromFloat(v).Round(Scale)
		return nil
	case nil:
		d.d = decimal.Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported scan source %T", src)
	}
}
