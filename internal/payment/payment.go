// Package payment computes errand totals and keeps the escrow ledger.
package payment

import (
	"errors"
	"fmt"

	"github.com/Chloe7243/Errandhub/internal/money"
)

var (
	ErrNegativeAmount = errors.New("payment: amounts must not be negative")
	ErrHoldNotFound   = errors.New("payment: no escrow hold for errand")
	ErrHoldClosed     = errors.New("payment: escrow hold already closed")
	ErrHoldExists     = errors.New("payment: escrow hold already exists")
)

// Breakdown is the line-by-line cost of an errand.
type Breakdown struct {
	ItemBudget    money.Amount `json:"item_budget"`
	HelperPayment money.Amount `json:"helper_payment"`
	ServiceFee    money.Amount `json:"service_fee"`
	PlatformFee   money.Amount `json:"platform_fee"`
	Currency      string       `json:"currency"`
}

// Total is itemBudget + helperPayment + serviceFee + platformFee.
func (b Breakdown) Total() money.Amount {
	return money.Sum(b.ItemBudget, b.HelperPayment, b.ServiceFee, b.PlatformFee)
}

// Lines returns label/amount pairs in display order.
func (b Breakdown) Lines() [][2]string {
	return [][2]string{
		{"Item Budget", b.ItemBudget.String()},
		{"Helper Payment", b.HelperPayment.String()},
		{"Service Fee", b.ServiceFee.String()},
		{"Stripe Fee", b.PlatformFee.String()},
		{"Total", b.Total().String()},
	}
}

// FeeSchedule holds the fees added on top of what the requester enters.
// PlatformFee is a flat pass-through card processing fee.
type FeeSchedule struct {
	PlatformFee money.Amount
	ServiceFee  money.Amount
	Currency    string
}

// DefaultFees charges a flat 0.28 GBP processing fee and no service fee.
func DefaultFees() FeeSchedule {
	return FeeSchedule{PlatformFee: money.FromCents(28), Currency: "GBP"}
}

// Quote builds the breakdown for an errand. Pickup errands pass a zero item budget.
func (f FeeSchedule) Quote(itemBudget, helperPayment money.Amount) (Breakdown, error) {
	if itemBudget.IsNegative() || helperPayment.IsNegative() {
		return Breakdown{}, ErrNegativeAmount
	}
	cur := f.Currency
	if cur == "" {
		cur = "GBP"
	}
	return Breakdown{
		ItemBudget:    itemBudget,
		HelperPayment: helperPayment,
		ServiceFee:    f.ServiceFee,
		PlatformFee:   f.PlatformFee,
		Currency:      cur,
	}, nil
}

// QuoteStrings parses user-entered amounts and quotes them.
func (f FeeSchedule) QuoteStrings(itemBudget, helperPayment string) (Breakdown, error) {
	item := money.Zero()
	if itemBudget != "" {
		parsed, err := money.Parse(itemBudget)
		if err != nil {
			return Breakdown{}, fmt.Errorf("item budget: %w", err)
		}
		item = parsed
	}
	pay, err := money.Parse(helperPayment)
	if err != nil {
		return Breakdown{}, fmt.Errorf("helper payment: %w", err)
	}
	return f.Quote(item, pay)
}

type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldReleased HoldStatus = "released"
	HoldRefunded HoldStatus = "refunded"
)

// Receipt is the result of an escrow operation.
type Receipt struct {
	PaymentID string       `json:"payment_id"`
	ErrandID  string       `json:"errand_id"`
	Status    HoldStatus   `json:"status" enum:"held,released,refunded"`
	Amount    money.Amount `json:"amount"`
	Currency  string       `json:"currency"`
	TS        string       `json:"ts" format:"date-time"`
}
