package job

import (
	"context"
	"errors"

	"batchctl/internal/apperrors"
)

// Lookup describes jobs, falling back to the snapshot store once the
// compute service has dropped the live record.
type Lookup struct {
	backend   Backend
	snapshots SnapshotStore
}

// NewLookup creates a Lookup. snapshots may be nil.
func NewLookup(backend Backend, snapshots SnapshotStore) *Lookup {
	return &Lookup{backend: backend, snapshots: snapshots}
}

// Describe returns the live description of jobID, or the last snapshot.
func (l *Lookup) Describe(ctx context.Context, jobID string) (*Description, error) {
	descs, err := l.backend.Describe(ctx, []string{jobID})
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	if len(descs) > 0 {
		return &descs[0], nil
	}

	if l.snapshots == nil {
		return nil, apperrors.NotFound("job", jobID)
	}
	snap, err := l.snapshots.Load(ctx, jobID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("job", jobID)
		}
		return nil, err
	}
	return snap.Description(), nil
}
