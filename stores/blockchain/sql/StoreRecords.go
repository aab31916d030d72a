package sql

import (
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/util"
	"github.com/ordishs/gocore"
)

// StoreRecords upserts the records in a single transaction. Only the mutable columns are
// updated for a hash that already exists.
func (s *SQL) StoreRecords(ctx context.Context, records []*model.BlockIndexRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("StoreRecords").AddTime(start)
	}()

	ctx, _, deferFn := s.tracer.Start(ctx, "sql:StoreRecords")
	defer func() {
		deferFn(err)
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("failed to begin block index transaction", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := `
		INSERT INTO block_index (
			 hash
			,previous_hash
			,height
			,chain_work
			,status
			,version
			,block_time
			,n_bits
			,nonce
			,merkle_root
			,state_root
			,data_file
			,data_pos
			,undo_file
			,undo_pos
			,tx_count
			,sequence_id
			,proof_of_stake
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (hash) DO UPDATE SET
			 status = EXCLUDED.status
			,data_file = EXCLUDED.data_file
			,data_pos = EXCLUDED.data_pos
			,undo_file = EXCLUDED.undo_file
			,undo_pos = EXCLUDED.undo_pos
			,tx_count = EXCLUDED.tx_count
			,sequence_id = EXCLUDED.sequence_id
			,updated_at = CURRENT_TIMESTAMP
	`

	for _, r := range records {
		if _, err = tx.ExecContext(ctx, q,
			r.Hash[:],
			r.PrevHash[:],
			r.Height,
			util.WorkToBytes(r.ChainWork),
			int64(r.Status),
			r.Version,
			int64(r.Timestamp),
			int64(r.Bits),
			int64(r.Nonce),
			r.MerkleRoot[:],
			r.StateRoot[:],
			r.DataPos.File,
			int64(r.DataPos.Pos),
			r.UndoPos.File,
			int64(r.UndoPos.Pos),
			int64(r.TxCount),
			r.SequenceID,
			r.ProofOfStake,
		); err != nil {
			return errors.NewStorageError("failed to store block index record %s", r.Hash, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit block index records", err)
	}

	return nil
}
