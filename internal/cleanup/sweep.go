package cleanup

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/storage"
)

const sweepBatchSize = 100

// SweepOrphans removes artifacts that earlier runs tracked but never cleaned
// up, typically because the process stopped inside a retention window.
// Records owned by owner are left alone.
func SweepOrphans(ctx context.Context, ledger storage.ArtifactRepository, owner string) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	removed := 0

	for {
		records, err := ledger.GetOrphanedArtifacts(ctx, owner, sweepBatchSize)
		if err != nil {
			return removed, err
		}

		if len(records) == 0 {
			return removed, nil
		}

		for _, rec := range records {
			var size uint64
			if info, err := os.Stat(rec.FilePath); err == nil {
				size = uint64(info.Size())
			}

			if err := RemoveArtifact(rec.FilePath); err != nil {
				logger.Error("failed to delete orphaned artifact", "file", rec.FilePath, "err", err)

				return removed, err
			}

			if err := ledger.MarkRemoved(ctx, rec.JobID); err != nil {
				return removed, err
			}

			removed++

			logger.Info("deleted orphaned artifact",
				"file", rec.FilePath,
				"size", humanize.Bytes(size),
				"created_at", rec.CreatedAt,
				"owner", rec.Owner,
			)
		}
	}
}
