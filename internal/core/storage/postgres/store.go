package postgres

import "github.com/aevon-lab/recalc/internal/core/storage"

// Store combines the record adapter and the checkpoint adapter over one
// connection pool.
type Store struct {
	*Adapter
	*CheckpointAdapter
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps an adapter, sharing its connection for checkpoints.
func NewStore(adapter *Adapter) *Store {
	return &Store{
		Adapter:           adapter,
		CheckpointAdapter: NewCheckpointAdapter(adapter.DB()),
	}
}
