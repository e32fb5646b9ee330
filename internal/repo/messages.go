package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/Chloe7243/Errandhub/internal/domain"
)

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO messages(id,thread_id,sender_id,text,image_url,sent_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.ThreadID, m.SenderID, m.Text, m.ImageURL, m.SentAt)
	return err
}

type MessageFilters struct {
	ThreadID string
	Limit    int
	// Messages strictly after the (sent_at, id) cursor, oldest first.
	CursorSentAt string
	CursorID     string
}

func (r Repo) ListMessages(ctx context.Context, f MessageFilters) ([]domain.Message, error) {
	clauses := []string{"thread_id=?"}
	args := []any{f.ThreadID}
	if f.CursorSentAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(sent_at > ? OR (sent_at = ? AND id > ?))")
		args = append(args, f.CursorSentAt, f.CursorSentAt, f.CursorID)
	}
	query := `SELECT id,thread_id,sender_id,text,image_url,sent_at FROM messages WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY sent_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Text, &m.ImageURL, &m.SentAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
