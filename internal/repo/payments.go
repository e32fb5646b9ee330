package repo

import (
	"context"
	"database/sql"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/money"
)

const paymentColumns = `id,errand_id,payer_id,item_budget,helper_payment,service_fee,platform_fee,total,currency,status,created_at,updated_at`

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO payments(`+paymentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ErrandID, p.PayerID, p.ItemBudget, p.HelperPayment, p.ServiceFee, p.PlatformFee, p.Total, p.Currency, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r Repo) GetPaymentByErrand(ctx context.Context, tx *sql.Tx, errandID string) (domain.Payment, error) {
	var p domain.Payment
	err := r.conn(tx).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE errand_id=?`, errandID).
		Scan(&p.ID, &p.ErrandID, &p.PayerID, &p.ItemBudget, &p.HelperPayment, &p.ServiceFee, &p.PlatformFee, &p.Total, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// UpdatePaymentStatus moves a payment out of fromStatus; it reports false
// when the payment was no longer in that status.
func (r Repo) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET status=?, updated_at=? WHERE id=? AND status=?`, toStatus, now, id, fromStatus)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) InsertLedgerEntry(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO payment_entries(payment_id,kind,amount,actor_id,ts) VALUES (?,?,?,?,?)`,
		e.PaymentID, e.Kind, e.Amount, e.ActorID, e.TS)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListLedgerEntries(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,payment_id,kind,amount,actor_id,ts FROM payment_entries WHERE payment_id=? ORDER BY id ASC`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.Kind, &e.Amount, &e.ActorID, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// HelperStats totals a helper's history. Earnings are summed in Go so the
// fixed-point amounts never pass through SQLite REAL arithmetic.
func (r Repo) HelperStats(ctx context.Context, helperID string) (domain.HelperStats, error) {
	stats := domain.HelperStats{HelperID: helperID, TotalEarned: money.Zero()}
	rows, err := r.DB.QueryContext(ctx, `SELECT stage, helper_payment, currency FROM errands WHERE helper_id=? AND stage IN ('completed','disputed')`, helperID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var stage, currency string
		var pay money.Amount
		if err := rows.Scan(&stage, &pay, &currency); err != nil {
			return stats, err
		}
		switch stage {
		case "completed":
			stats.Completed++
			stats.TotalEarned = stats.TotalEarned.Add(pay)
		case "disputed":
			stats.Disputed++
		}
		if stats.Currency == "" {
			stats.Currency = currency
		}
	}
	return stats, rows.Err()
}
