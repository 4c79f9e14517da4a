package repositories

import (
	"context"
	"time"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// Checkpoint is the durable record of completed sub-ranges for a fetch key
type Checkpoint struct {
	Key       string
	Completed *entities.RangeSet
	TotalLogs uint64
	UpdatedAt time.Time
}

// CheckpointRepository defines the interface for durable fetch progress.
// MarkComplete must only be called after the corresponding logs have been
// flushed to the output sink; implementations serialize concurrent calls
// against the same key.
type CheckpointRepository interface {
	// Load retrieves the checkpoint for a key, or an empty one if none exists
	Load(ctx context.Context, key string) (*Checkpoint, error)

	// MarkComplete records a completed sub-range and its log count
	MarkComplete(ctx context.Context, key string, r entities.BlockRange, logCount uint64) error

	// Residual returns the portions of full not yet marked complete
	Residual(ctx context.Context, key string, full entities.BlockRange) ([]entities.BlockRange, error)

	// Delete removes the checkpoint for a key
	Delete(ctx context.Context, key string) error
}
