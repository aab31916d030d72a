// Package blockchain persists the block index: one record per known header together with its
// validation status and disk positions, plus a small key/value state table.
package blockchain

import (
	"context"

	"github.com/bsv-blockchain/chainstate/model"
)

// State keys.
const (
	StateBestChain = "best_chain"
	StateLastFile  = "last_block_file"
	StateFSM       = "fsm_state"
)

type Store interface {
	// StoreRecords inserts or updates the given records atomically.
	StoreRecords(ctx context.Context, records []*model.BlockIndexRecord) error
	// LoadRecords returns every record ordered by height, so parents precede children.
	LoadRecords(ctx context.Context) ([]*model.BlockIndexRecord, error)
	// GetState returns ERR_NOT_FOUND for an unknown key.
	GetState(ctx context.Context, key string) ([]byte, error)
	SetState(ctx context.Context, key string, data []byte) error
	Close() error
}
