package sql

import (
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/util"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func (s *SQL) LoadRecords(ctx context.Context) ([]*model.BlockIndexRecord, error) {
	ctx, _, deferFn := s.tracer.Start(ctx, "sql:LoadRecords")
	defer deferFn()

	q := `
		SELECT
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
		FROM block_index
		ORDER BY height ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.NewStorageError("failed to query block index", err)
	}

	defer rows.Close()

	records := make([]*model.BlockIndexRecord, 0, 1024)

	for rows.Next() {
		var (
			hash, prevHash, chainWork, merkleRoot, stateRoot []byte
			status, timestamp, bits, nonce                   int64
			dataPos, undoPos, txCount                        int64
			r                                                = &model.BlockIndexRecord{}
		)

		if err = rows.Scan(
			&hash,
			&prevHash,
			&r.Height,
			&chainWork,
			&status,
			&r.Version,
			&timestamp,
			&bits,
			&nonce,
			&merkleRoot,
			&stateRoot,
			&r.DataPos.File,
			&dataPos,
			&r.UndoPos.File,
			&undoPos,
			&txCount,
			&r.SequenceID,
			&r.ProofOfStake,
		); err != nil {
			return nil, errors.NewStorageError("failed to scan block index record", err)
		}

		for _, h := range []struct {
			dst *chainhash.Hash
			src []byte
		}{{&r.Hash, hash}, {&r.PrevHash, prevHash}, {&r.MerkleRoot, merkleRoot}, {&r.StateRoot, stateRoot}} {
			if err = h.dst.SetBytes(h.src); err != nil {
				return nil, errors.NewStorageCorruptionError("malformed hash in block index", err)
			}
		}

		r.ChainWork = util.WorkFromBytes(chainWork)
		r.Status = uint32(status)
		r.Timestamp = uint32(timestamp)
		r.Bits = uint32(bits)
		r.Nonce = uint32(nonce)
		r.DataPos.Pos = uint32(dataPos)
		r.UndoPos.Pos = uint32(undoPos)
		r.TxCount = uint32(txCount)

		records = append(records, r)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.NewStorageError("block index iteration failed", err)
	}

	return records, nil
}
