package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Chloe7243/Errandhub/internal/domain"
)

func (r Repo) InsertProof(ctx context.Context, tx *sql.Tx, p domain.Proof) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proofs(id,errand_id,helper_id,image_url,note,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.ErrandID, p.HelperID, p.ImageURL, p.Note, p.CreatedAt)
	return err
}

// LatestProof returns the most recent proof submitted for an errand.
func (r Repo) LatestProof(ctx context.Context, errandID string) (domain.Proof, error) {
	var p domain.Proof
	err := r.DB.QueryRowContext(ctx, `SELECT id,errand_id,helper_id,image_url,note,created_at FROM proofs WHERE errand_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, errandID).
		Scan(&p.ID, &p.ErrandID, &p.HelperID, &p.ImageURL, &p.Note, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertDispute(ctx context.Context, tx *sql.Tx, d domain.Dispute) error {
	images := d.EvidenceImages
	if images == nil {
		images = []string{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO disputes(id,errand_id,raised_by,reason,explanation,evidence_json,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.ErrandID, d.RaisedBy, d.Reason, d.Explanation, string(data), d.Status, d.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r Repo) GetDisputeByErrand(ctx context.Context, errandID string) (domain.Dispute, error) {
	var d domain.Dispute
	var evidence string
	err := r.DB.QueryRowContext(ctx, `SELECT id,errand_id,raised_by,reason,explanation,evidence_json,status,created_at FROM disputes WHERE errand_id=?`, errandID).
		Scan(&d.ID, &d.ErrandID, &d.RaisedBy, &d.Reason, &d.Explanation, &evidence, &d.Status, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal([]byte(evidence), &d.EvidenceImages); err != nil {
		return d, fmt.Errorf("decode evidence: %w", err)
	}
	return d, nil
}
