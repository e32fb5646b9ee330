// Package money holds the fixed-point amounts used for budgets, fees and escrow.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Scale is the number of fraction digits every amount is kept at.
const Scale = 2

var ErrInvalidAmount = errors.New("money: invalid amount")

var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// Amount is a non-floating currency value rounded to two decimal places.
// The zero value is 0.00.
type Amount struct {
	d decimal.Decimal
}

func Zero() Amount { return Amount{} }

// FromCents builds an amount from minor units.
func FromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -Scale)}
}

func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d.Round(Scale)}
}

// Parse accepts plain user input such as "8", "8.5" or "8.00".
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return FromDecimal(d), nil
}

func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

func (a Amount) IsZero() bool { return a.d.IsZero() }

func (a Amount) IsNegative() bool { return a.d.IsNegative() }

func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

func (a Amount) Cents() int64 { return a.d.Shift(Scale).IntPart() }

func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) String() string { return a.d.StringFixed(Scale) }

// Sum adds amounts left to right.
func Sum(amounts ...Amount) Amount {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = Zero()
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	*a = FromDecimal(d)
	return nil
}

// Value stores amounts as fixed two-digit text so SQLite never turns them into REALs.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Zero()
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	case int64:
		*a = FromDecimal(decimal.NewFromInt(v))
		return nil
	case float64:
		*a = FromDecimal(decimal.NewFromFloat(v))
		return nil
	default:
		return fmt.Errorf("money: cannot scan %T", src)
	}
}

// Currency resolves an ISO 4217 code, defaulting to GBP.
func Currency(code string) (currency.Unit, error) {
	if strings.TrimSpace(code) == "" {
		return currency.GBP, nil
	}
	return currency.ParseISO(code)
}

// Format renders an amount with the currency symbol used in the UK, e.g. £11.28.
func Format(a Amount, unit currency.Unit) string {
	p := message.NewPrinter(language.BritishEnglish)
	symbol := p.Sprint(currency.Symbol(unit))
	return symbol + a.String()
}
