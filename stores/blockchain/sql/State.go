package sql

import (
	"context"
	"database/sql"

	"github.com/bsv-blockchain/chainstate/errors"
)

func (s *SQL) GetState(ctx context.Context, key string) ([]byte, error) {
	ctx, _, deferFn := s.tracer.Start(ctx, "sql:GetState")
	defer deferFn()

	q := `
		SELECT data
		FROM state
		WHERE key = $1
	`

	var data []byte
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("state %s not found", key)
		}

		return nil, errors.NewStorageError("failed to get state %s", key, err)
	}

	return data, nil
}

func (s *SQL) SetState(ctx context.Context, key string, data []byte) error {
	ctx, _, deferFn := s.tracer.Start(ctx, "sql:SetState")
	defer deferFn()

	q := `
        INSERT INTO state (key, data, updated_at)
        VALUES ($1, $2, CURRENT_TIMESTAMP)
        ON CONFLICT (key) DO UPDATE SET
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at;
	`

	if _, err := s.db.ExecContext(ctx, q, key, data); err != nil {
		return errors.NewStorageError("failed to set state %s", key, err)
	}

	return nil
}
