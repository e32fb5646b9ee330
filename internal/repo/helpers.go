package repo

import (
	"context"
	"database/sql"

	"github.com/Chloe7243/Errandhub/internal/domain"
)

func (r Repo) UpsertHelperProfile(ctx context.Context, tx *sql.Tx, p domain.HelperProfile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO helper_profiles(user_id,available,radius_km,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET available=excluded.available, radius_km=excluded.radius_km, updated_at=excluded.updated_at`,
		p.UserID, p.Available, p.RadiusKm, p.UpdatedAt)
	return err
}

func (r Repo) GetHelperProfile(ctx context.Context, userID string) (domain.HelperProfile, error) {
	var p domain.HelperProfile
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,available,radius_km,updated_at FROM helper_profiles WHERE user_id=?`, userID).
		Scan(&p.UserID, &p.Available, &p.RadiusKm, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertSafetyAlert(ctx context.Context, tx *sql.Tx, a domain.SafetyAlert) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO safety_alerts(id,errand_id,reporter_id,action,report,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, nullable(a.ErrandID), a.ReporterID, a.Action, a.Report, a.CreatedAt)
	return err
}

func (r Repo) ListSafetyAlerts(ctx context.Context, reporterID string) ([]domain.SafetyAlert, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,errand_id,reporter_id,action,report,created_at FROM safety_alerts WHERE reporter_id=? ORDER BY created_at DESC, id DESC`, reporterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SafetyAlert
	for rows.Next() {
		var a domain.SafetyAlert
		var errandID sql.NullString
		if err := rows.Scan(&a.ID, &errandID, &a.ReporterID, &a.Action, &a.Report, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ErrandID = errandID.String
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertMedia(ctx context.Context, tx *sql.Tx, m domain.Media) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO media(id,owner_id,key,url,content_type,size,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.OwnerID, m.Key, m.URL, m.ContentType, m.Size, m.CreatedAt)
	return err
}

func (r Repo) GetMedia(ctx context.Context, id string) (domain.Media, error) {
	var m domain.Media
	err := r.DB.QueryRowContext(ctx, `SELECT id,owner_id,key,url,content_type,size,created_at FROM media WHERE id=?`, id).
		Scan(&m.ID, &m.OwnerID, &m.Key, &m.URL, &m.ContentType, &m.Size, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}
