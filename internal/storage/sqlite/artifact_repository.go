package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/mediafetch/internal/storage"
)

// ArtifactRepository implements storage.ArtifactRepository on SQLite.
type ArtifactRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewArtifactRepository(db *sql.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db, now: time.Now}
}

func (r *ArtifactRepository) TrackArtifact(ctx context.Context, jobID, filePath, owner string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO artifacts (job_id, file_path, created_at, status, owner) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET file_path = excluded.file_path, status = excluded.status, owner = excluded.owner`,
		jobID, filePath, r.now().UTC().Format(time.RFC3339), storage.ArtifactStatusActive, owner,
	)

	return err
}

// MarkRemoved flags the artifact as deleted. Unknown ids are ignored.
func (r *ArtifactRepository) MarkRemoved(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE artifacts SET status = ? WHERE job_id = ?`, storage.ArtifactStatusRemoved, jobID)

	return err
}

func (r *ArtifactRepository) GetOrphanedArtifacts(ctx context.Context, owner string, limit int) ([]storage.ArtifactRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			job_id,
			file_path,
			created_at,
			status,
			COALESCE(owner, '')
		FROM artifacts
		WHERE status = ?
		AND (owner IS NULL OR owner != ?)
		ORDER BY id
		LIMIT ?`, storage.ArtifactStatusActive, owner, limit)
	if err != nil {
		return nil, err
	}

	return scanArtifacts(rows)
}

func scanArtifacts(rows *sql.Rows) ([]storage.ArtifactRecord, error) {
	defer rows.Close()

	var records []storage.ArtifactRecord

	for rows.Next() {
		var rec storage.ArtifactRecord
		if err := rows.Scan(&rec.JobID, &rec.FilePath, &rec.CreatedAt, &rec.Status, &rec.Owner); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
