package storage

import "context"

// Artifact ledger statuses.
const (
	ArtifactStatusActive  = "active"
	ArtifactStatusRemoved = "removed"
)

// ArtifactRecord represents a file the service wrote to the download directory.
type ArtifactRecord struct {
	JobID     string
	FilePath  string
	CreatedAt string
	Status    string
	Owner     string
}

// ArtifactReadRepository lists tracked artifacts.
type ArtifactReadRepository interface {
	// GetOrphanedArtifacts returns active records written by any instance other than owner.
	GetOrphanedArtifacts(ctx context.Context, owner string, limit int) ([]ArtifactRecord, error)
}

// ArtifactWriteRepository records artifact lifecycle changes.
type ArtifactWriteRepository interface {
	TrackArtifact(ctx context.Context, jobID, filePath, owner string) error
	MarkRemoved(ctx context.Context, jobID string) error
}

// ArtifactRepository is the full artifact ledger.
type ArtifactRepository interface {
	ArtifactReadRepository
	ArtifactWriteRepository
}
