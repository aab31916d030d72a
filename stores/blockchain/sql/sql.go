// Package sql stores the block index in postgres or sqlite.
package sql

import (
	"net/url"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/tracing"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/util"
	"github.com/bsv-blockchain/chainstate/util/usql"
	"github.com/ordishs/gocore"
)

var stat = gocore.NewStat("blockindex")

type SQL struct {
	db     *usql.DB
	engine util.SQLEngine
	logger ulogger.Logger
	tracer *tracing.Tracer
}

func New(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*SQL, error) {
	logger = logger.New("bisql")

	db, err := util.InitSQLDB(logger, storeURL, tSettings)
	if err != nil {
		return nil, errors.NewStorageError("failed to init sql db", err)
	}

	engine := util.SQLEngine(storeURL.Scheme)

	switch engine {
	case util.Postgres:
		err = createPostgresSchema(db)
	case util.Sqlite, util.SqliteMemory:
		err = createSqliteSchema(db)
	default:
		err = errors.NewConfigurationError("unknown database engine: %s", storeURL.Scheme)
	}

	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQL{
		db:     db,
		engine: engine,
		logger: logger,
		tracer: tracing.NewTracer("blockindex-sql"),
	}, nil
}

func (s *SQL) GetDB() *usql.DB {
	return s.db
}

func (s *SQL) GetDBEngine() util.SQLEngine {
	return s.engine
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func createPostgresSchema(db *usql.DB) error {
	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS state (
	    key            VARCHAR(32) PRIMARY KEY
	    ,data          BYTEA NOT NULL
        ,inserted_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        ,updated_at    TIMESTAMPTZ NULL
	  );
	`); err != nil {
		return errors.NewStorageError("could not create state table", err)
	}

	if _, err := db.Exec(`
      CREATE TABLE IF NOT EXISTS block_index (
	    id              BIGSERIAL PRIMARY KEY
	    ,hash           BYTEA NOT NULL
	    ,previous_hash  BYTEA NOT NULL
	    ,height         BIGINT NOT NULL
        ,chain_work     BYTEA NOT NULL
        ,status         BIGINT NOT NULL
        ,version        INTEGER NOT NULL
        ,block_time     BIGINT NOT NULL
        ,n_bits         BIGINT NOT NULL
        ,nonce          BIGINT NOT NULL
	    ,merkle_root    BYTEA NOT NULL
	    ,state_root     BYTEA NOT NULL
	    ,data_file      INTEGER NOT NULL
	    ,data_pos       BIGINT NOT NULL
	    ,undo_file      INTEGER NOT NULL
	    ,undo_pos       BIGINT NOT NULL
		,tx_count       BIGINT NOT NULL
		,sequence_id    BIGINT NOT NULL
		,proof_of_stake BOOLEAN NOT NULL DEFAULT FALSE
    	,inserted_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        ,updated_at     TIMESTAMPTZ NULL
	  );
	`); err != nil {
		return errors.NewStorageError("could not create block_index table", err)
	}

	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_block_index_hash ON block_index (hash);`); err != nil {
		return errors.NewStorageError("could not create ux_block_index_hash index", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_block_index_height ON block_index (height ASC, id ASC);`); err != nil {
		return errors.NewStorageError("could not create idx_block_index_height index", err)
	}

	return nil
}

func createSqliteSchema(db *usql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS state (
		 key            VARCHAR(32) PRIMARY KEY
	    ,data           BLOB NOT NULL
        ,inserted_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
        ,updated_at     TEXT NULL
	  );
	`); err != nil {
		return errors.NewStorageError("could not create state table", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS block_index (
		 id             INTEGER PRIMARY KEY AUTOINCREMENT
	    ,hash           BLOB NOT NULL
	    ,previous_hash  BLOB NOT NULL
	    ,height         BIGINT NOT NULL
        ,chain_work     BLOB NOT NULL
        ,status         BIGINT NOT NULL
        ,version        INTEGER NOT NULL
        ,block_time     BIGINT NOT NULL
        ,n_bits         BIGINT NOT NULL
        ,nonce          BIGINT NOT NULL
	    ,merkle_root    BLOB NOT NULL
	    ,state_root     BLOB NOT NULL
	    ,data_file      INTEGER NOT NULL
	    ,data_pos       BIGINT NOT NULL
	    ,undo_file      INTEGER NOT NULL
	    ,undo_pos       BIGINT NOT NULL
		,tx_count       BIGINT NOT NULL
		,sequence_id    BIGINT NOT NULL
		,proof_of_stake BOOLEAN NOT NULL DEFAULT FALSE
        ,inserted_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
        ,updated_at     TEXT NULL
	  );
	`); err != nil {
		return errors.NewStorageError("could not create block_index table", err)
	}

	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_block_index_hash ON block_index (hash);`); err != nil {
		return errors.NewStorageError("could not create ux_block_index_hash index", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_block_index_height ON block_index (height ASC, id ASC);`); err != nil {
		return errors.NewStorageError("could not create idx_block_index_height index", err)
	}

	return nil
}
