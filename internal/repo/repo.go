package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/Chloe7243/Errandhub/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn picks tx when one is open so reads see the caller's uncommitted writes.
func (r Repo) conn(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

type scanner interface {
	Scan(dest ...any) error
}

const errandColumns = `id,requester_id,helper_id,title,description,category,task_type,stage,status,store,delivery_location,allow_substitution,pickup_location,dropoff_location,pickup_reference,item_budget,helper_payment,service_fee,platform_fee,total,currency,created_at,updated_at,accepted_at,completed_at,cancelled_at`

func scanErrand(row scanner) (domain.Errand, error) {
	var e domain.Errand
	var helperID, acceptedAt, completedAt, cancelledAt sql.NullString
	err := row.Scan(&e.ID, &e.RequesterID, &helperID, &e.Title, &e.Description, &e.Category, &e.TaskType, &e.Stage, &e.Status,
		&e.Store, &e.DeliveryLocation, &e.AllowSubstitution, &e.PickupLocation, &e.DropoffLocation, &e.PickupReference,
		&e.ItemBudget, &e.HelperPayment, &e.ServiceFee, &e.PlatformFee, &e.Total, &e.Currency,
		&e.CreatedAt, &e.UpdatedAt, &acceptedAt, &completedAt, &cancelledAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.HelperID = stringPtr(helperID)
	e.AcceptedAt = stringPtr(acceptedAt)
	e.CompletedAt = stringPtr(completedAt)
	e.CancelledAt = stringPtr(cancelledAt)
	return e, nil
}

func (r Repo) InsertErrand(ctx context.Context, tx *sql.Tx, e domain.Errand) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO errands(`+errandColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.RequesterID, nullableStringPtr(e.HelperID), e.Title, e.Description, e.Category, e.TaskType, e.Stage, e.Status,
		e.Store, e.DeliveryLocation, e.AllowSubstitution, e.PickupLocation, e.DropoffLocation, e.PickupReference,
		e.ItemBudget, e.HelperPayment, e.ServiceFee, e.PlatformFee, e.Total, e.Currency,
		e.CreatedAt, e.UpdatedAt, nullableStringPtr(e.AcceptedAt), nullableStringPtr(e.CompletedAt), nullableStringPtr(e.CancelledAt))
	return err
}

// UpdateErrandStage writes the lifecycle columns of e. fromStage guards
// against a concurrent transition having moved the errand first.
func (r Repo) UpdateErrandStage(ctx context.Context, tx *sql.Tx, e domain.Errand, fromStage string) error {
	res, err := tx.ExecContext(ctx, `UPDATE errands SET helper_id=?, stage=?, status=?, updated_at=?, accepted_at=?, completed_at=?, cancelled_at=? WHERE id=? AND stage=?`,
		nullableStringPtr(e.HelperID), e.Stage, e.Status, e.UpdatedAt,
		nullableStringPtr(e.AcceptedAt), nullableStringPtr(e.CompletedAt), nullableStringPtr(e.CancelledAt),
		e.ID, fromStage)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetErrand(ctx context.Context, id string) (domain.Errand, error) {
	return r.GetErrandTx(ctx, nil, id)
}

func (r Repo) GetErrandTx(ctx context.Context, tx *sql.Tx, id string) (domain.Errand, error) {
	return scanErrand(r.conn(tx).QueryRowContext(ctx, `SELECT `+errandColumns+` FROM errands WHERE id=?`, id))
}

type ErrandFilters struct {
	RequesterID string
	HelperID    string
	// Stages restricts results to any of the listed stages.
	Stages []string
	// Open selects unassigned posted errands not owned by ExcludeRequesterID.
	Open               bool
	ExcludeRequesterID string
	Search             string
	Limit              int
	CursorCreatedAt    string
	CursorID           string
}

func (r Repo) ListErrands(ctx context.Context, f ErrandFilters) ([]domain.Errand, error) {
	var clauses []string
	var args []any
	if f.RequesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	if f.HelperID != "" {
		clauses = append(clauses, "helper_id=?")
		args = append(args, f.HelperID)
	}
	if f.Open {
		clauses = append(clauses, "helper_id IS NULL", "stage='posted'")
		if f.ExcludeRequesterID != "" {
			clauses = append(clauses, "requester_id<>?")
			args = append(args, f.ExcludeRequesterID)
		}
	}
	if len(f.Stages) > 0 {
		clauses = append(clauses, "stage IN ("+placeholders(len(f.Stages))+")")
		for _, s := range f.Stages {
			args = append(args, s)
		}
	}
	if f.Search != "" {
		clauses = append(clauses, "(title LIKE ? ESCAPE '\\' OR description LIKE ? ESCAPE '\\')")
		like := "%" + escapeLike(f.Search) + "%"
		args = append(args, like, like)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + errandColumns + ` FROM errands ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Errand
	for rows.Next() {
		e, err := scanErrand(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// SQLite LIKE is case-insensitive for ASCII, which covers title search.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
