package payment_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chloe7243/Errandhub/internal/db"
	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/migrate"
	"github.com/Chloe7243/Errandhub/internal/money"
	"github.com/Chloe7243/Errandhub/internal/payment"
	"github.com/Chloe7243/Errandhub/internal/repo"
)

func TestShoppingTotal(t *testing.T) {
	b, err := payment.DefaultFees().QuoteStrings("8.00", "3.00")
	require.NoError(t, err)
	assert.Equal(t, "11.28", b.Total().String())
	assert.Equal(t, "GBP", b.Currency)
	assert.True(t, b.ServiceFee.IsZero())
}

func TestPickupHasNoItemBudget(t *testing.T) {
	b, err := payment.DefaultFees().QuoteStrings("", "4.5")
	require.NoError(t, err)
	assert.True(t, b.ItemBudget.IsZero())
	assert.Equal(t, "4.78", b.Total().String())
}

func TestQuoteRejectsBadInput(t *testing.T) {
	_, err := payment.DefaultFees().QuoteStrings("8.001", "3")
	assert.ErrorIs(t, err, money.ErrInvalidAmount)

	_, err = payment.DefaultFees().Quote(money.FromCents(-1), money.Zero())
	assert.ErrorIs(t, err, payment.ErrNegativeAmount)
}

func TestBreakdownLines(t *testing.T) {
	b, err := payment.DefaultFees().QuoteStrings("8", "3")
	require.NoError(t, err)
	lines := b.Lines()
	require.Len(t, lines, 5)
	assert.Equal(t, [2]string{"Stripe Fee", "0.28"}, lines[3])
	assert.Equal(t, [2]string{"Total", "11.28"}, lines[4])
}

func newLedger(t *testing.T) (payment.Ledger, *sql.DB, string) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	r := repo.Repo{DB: conn}
	ctx := context.Background()
	ts := "2024-01-01T00:00:00Z"
	require.NoError(t, r.InsertUser(ctx, nil, domain.User{ID: "u1", FirstName: "A", LastName: "B", Email: "a@kcl.ac.uk", Phone: "07123456789", PasswordHash: "x", CreatedAt: ts}))
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.InsertErrand(ctx, tx, domain.Errand{
		ID: "e1", RequesterID: "u1", Title: "Milk", Description: "Milk", TaskType: "shopping",
		Stage: "posted", Status: "new", Currency: "GBP", CreatedAt: ts, UpdatedAt: ts,
	}))
	require.NoError(t, tx.Commit())

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return payment.Ledger{Repo: r, Now: func() time.Time { return now }}, conn, "e1"
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := conn.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func TestLedgerHoldRelease(t *testing.T) {
	l, conn, errandID := newLedger(t)
	ctx := context.Background()
	b, _ := payment.DefaultFees().QuoteStrings("8.00", "3.00")

	var held payment.Receipt
	require.NoError(t, inTx(t, conn, func(tx *sql.Tx) error {
		var err error
		held, err = l.Charge(ctx, tx, errandID, "u1", b)
		return err
	}))
	assert.Equal(t, payment.HoldHeld, held.Status)
	assert.Equal(t, "11.28", held.Amount.String())

	err := inTx(t, conn, func(tx *sql.Tx) error {
		_, err := l.Charge(ctx, tx, errandID, "u1", b)
		return err
	})
	assert.ErrorIs(t, err, payment.ErrHoldExists)

	require.NoError(t, inTx(t, conn, func(tx *sql.Tx) error {
		r, err := l.Release(ctx, tx, errandID, "u1")
		assert.Equal(t, payment.HoldReleased, r.Status)
		return err
	}))

	err = inTx(t, conn, func(tx *sql.Tx) error {
		_, err := l.Refund(ctx, tx, errandID, "u1")
		return err
	})
	assert.ErrorIs(t, err, payment.ErrHoldClosed)

	p, entries, err := l.Status(ctx, errandID)
	require.NoError(t, err)
	assert.Equal(t, "released", p.Status)
	require.Len(t, entries, 2)
	assert.Equal(t, "hold", entries[0].Kind)
	assert.Equal(t, "release", entries[1].Kind)
}

func TestLedgerRefundWithoutHold(t *testing.T) {
	l, conn, _ := newLedger(t)
	err := inTx(t, conn, func(tx *sql.Tx) error {
		_, err := l.Refund(context.Background(), tx, "missing", "u1")
		return err
	})
	assert.ErrorIs(t, err, payment.ErrHoldNotFound)
}

func TestLedgerSurfacesBackendFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM payments WHERE errand_id=").
		WithArgs("e1").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	l := payment.Ledger{Repo: repo.Repo{DB: conn}}
	tx, err := conn.Begin()
	require.NoError(t, err)
	_, err = l.Release(context.Background(), tx, "e1", "u1")
	require.NoError(t, tx.Rollback())

	var perr *payment.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable)
	assert.Equal(t, "released", perr.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}
