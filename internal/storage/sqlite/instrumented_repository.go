package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/telemetry"
)

// InstrumentedArtifactRepository wraps ArtifactRepository with telemetry.
type InstrumentedArtifactRepository struct {
	repo      *ArtifactRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedArtifactRepository creates a new instrumented artifact repository.
func NewInstrumentedArtifactRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedArtifactRepository {
	return &InstrumentedArtifactRepository{
		repo:      NewArtifactRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedArtifactRepository) TrackArtifact(ctx context.Context, jobID, filePath, owner string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_artifact", func(ctx context.Context) error {
		return r.repo.TrackArtifact(ctx, jobID, filePath, owner)
	})
}

func (r *InstrumentedArtifactRepository) MarkRemoved(ctx context.Context, jobID string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_artifact_removed", func(ctx context.Context) error {
		return r.repo.MarkRemoved(ctx, jobID)
	})
}

func (r *InstrumentedArtifactRepository) GetOrphanedArtifacts(ctx context.Context, owner string, limit int) ([]storage.ArtifactRecord, error) {
	var result []storage.ArtifactRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_orphaned_artifacts", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetOrphanedArtifacts(ctx, owner, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

var _ storage.ArtifactRepository = (*InstrumentedArtifactRepository)(nil)
