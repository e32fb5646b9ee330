package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/repo"
)

// ProviderError wraps a failure of the escrow backend itself, as opposed to a
// rejected operation such as releasing a closed hold.
type ProviderError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Ledger is an escrow provider that books holds in the payments table and
// records every movement as an immutable ledger entry. All calls run inside
// the caller's transaction so the errand and its money move together.
type Ledger struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (l Ledger) now() string {
	if l.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return l.Now().UTC().Format(time.RFC3339)
}

// Charge places the full errand total on hold.
func (l Ledger) Charge(ctx context.Context, tx *sql.Tx, errandID, payerID string, b Breakdown) (Receipt, error) {
	if b.ItemBudget.IsNegative() || b.HelperPayment.IsNegative() {
		return Receipt{}, ErrNegativeAmount
	}
	ts := l.now()
	p := domain.Payment{
		ID:            uuid.NewString(),
		ErrandID:      errandID,
		PayerID:       payerID,
		ItemBudget:    b.ItemBudget,
		HelperPayment: b.HelperPayment,
		ServiceFee:    b.ServiceFee,
		PlatformFee:   b.PlatformFee,
		Total:         b.Total(),
		Currency:      b.Currency,
		Status:        string(HoldHeld),
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if err := l.Repo.InsertPayment(ctx, tx, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return Receipt{}, ErrHoldExists
		}
		return Receipt{}, &ProviderError{Op: "charge", Retryable: true, Err: err}
	}
	if err := l.book(ctx, tx, p, HoldHeld, payerID, ts); err != nil {
		return Receipt{}, err
	}
	return receipt(p, HoldHeld, ts), nil
}

// Release pays out a held errand.
func (l Ledger) Release(ctx context.Context, tx *sql.Tx, errandID, actorID string) (Receipt, error) {
	return l.close(ctx, tx, errandID, actorID, HoldReleased)
}

// Refund returns a held errand's total to the payer.
func (l Ledger) Refund(ctx context.Context, tx *sql.Tx, errandID, actorID string) (Receipt, error) {
	return l.close(ctx, tx, errandID, actorID, HoldRefunded)
}

// Status reports the current hold for an errand.
func (l Ledger) Status(ctx context.Context, errandID string) (domain.Payment, []domain.LedgerEntry, error) {
	p, err := l.Repo.GetPaymentByErrand(ctx, nil, errandID)
	if errors.Is(err, repo.ErrNotFound) {
		return p, nil, ErrHoldNotFound
	}
	if err != nil {
		return p, nil, err
	}
	entries, err := l.Repo.ListLedgerEntries(ctx, p.ID)
	if err != nil {
		return p, nil, err
	}
	return p, entries, nil
}

func (l Ledger) close(ctx context.Context, tx *sql.Tx, errandID, actorID string, to HoldStatus) (Receipt, error) {
	p, err := l.Repo.GetPaymentByErrand(ctx, tx, errandID)
	if errors.Is(err, repo.ErrNotFound) {
		return Receipt{}, ErrHoldNotFound
	}
	if err != nil {
		return Receipt{}, &ProviderError{Op: string(to), Retryable: true, Err: err}
	}
	if p.Status != string(HoldHeld) {
		return Receipt{}, ErrHoldClosed
	}
	ts := l.now()
	ok, err := l.Repo.UpdatePaymentStatus(ctx, tx, p.ID, string(HoldHeld), string(to), ts)
	if err != nil {
		return Receipt{}, &ProviderError{Op: string(to), Retryable: true, Err: err}
	}
	if !ok {
		return Receipt{}, ErrHoldClosed
	}
	p.Status = string(to)
	p.UpdatedAt = ts
	if err := l.book(ctx, tx, p, to, actorID, ts); err != nil {
		return Receipt{}, err
	}
	return receipt(p, to, ts), nil
}

var entryKinds = map[HoldStatus]string{
	HoldHeld:     "hold",
	HoldReleased: "release",
	HoldRefunded: "refund",
}

func (l Ledger) book(ctx context.Context, tx *sql.Tx, p domain.Payment, status HoldStatus, actorID, ts string) error {
	_, err := l.Repo.InsertLedgerEntry(ctx, tx, domain.LedgerEntry{
		PaymentID: p.ID,
		Kind:      entryKinds[status],
		Amount:    p.Total,
		ActorID:   actorID,
		TS:        ts,
	})
	if err != nil {
		return &ProviderError{Op: entryKinds[status], Retryable: true, Err: err}
	}
	return nil
}

func receipt(p domain.Payment, status HoldStatus, ts string) Receipt {
	return Receipt{
		PaymentID: p.ID,
		ErrandID:  p.ErrandID,
		Status:    status,
		Amount:    p.Total,
		Currency:  p.Currency,
		TS:        ts,
	}
}
