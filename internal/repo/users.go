package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/Chloe7243/Errandhub/internal/domain"
)

var ErrDuplicate = errors.New("already exists")

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if u.PasswordHash == "" {
		return errors.New("password_hash required")
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO users(id,first_name,last_name,email,phone,password_hash,created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.FirstName, u.LastName, strings.ToLower(u.Email), u.Phone, u.PasswordHash, u.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const userColumns = `id,first_name,last_name,email,phone,password_hash,created_at`

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO sessions(id,user_id,role,created_at,expires_at) VALUES (?,?,?,?,?)`,
		s.ID, s.UserID, s.Role, s.CreatedAt, s.ExpiresAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return r.GetSessionTx(ctx, nil, id)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Session, error) {
	var s domain.Session
	var revoked sql.NullString
	err := r.conn(tx).QueryRowContext(ctx, `SELECT id,user_id,role,created_at,expires_at,revoked_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.UserID, &s.Role, &s.CreatedAt, &s.ExpiresAt, &revoked)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.RevokedAt = stringPtr(revoked)
	return s, nil
}

// SetSessionRole only succeeds while the session has no role and is not revoked.
func (r Repo) SetSessionRole(ctx context.Context, tx *sql.Tx, id, role string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET role=? WHERE id=? AND role='' AND revoked_at IS NULL`, role, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) RevokeSession(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
