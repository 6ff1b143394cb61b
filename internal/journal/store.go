package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store persists batches of entries.
type Store interface {
	Insert(ctx context.Context, entries []Entry) (int, error)
}

// DB is the subset of *pgxpool.Pool the Postgres store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const schema = `
CREATE TABLE IF NOT EXISTS relay_journal (
	id          BIGSERIAL PRIMARY KEY,
	instance_id TEXT        NOT NULL,
	envelope_id TEXT        NOT NULL,
	channel     TEXT        NOT NULL,
	type        TEXT        NOT NULL,
	command     TEXT        NOT NULL DEFAULT '',
	status      TEXT        NOT NULL DEFAULT '',
	peer_id     TEXT        NOT NULL,
	delivered   INTEGER     NOT NULL,
	size_bytes  INTEGER     NOT NULL,
	routed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS relay_journal_envelope_idx ON relay_journal (envelope_id);
CREATE INDEX IF NOT EXISTS relay_journal_channel_time_idx ON relay_journal (channel, routed_at);
`

const insertEntry = `
	INSERT INTO relay_journal (instance_id, envelope_id, channel, type, command, status, peer_id, delivered, size_bytes, routed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// PGStore writes entries to the relay_journal table.
type PGStore struct {
	db         DB
	instanceID string
}

// NewPGStore creates a Postgres-backed store.
func NewPGStore(db DB, instanceID string) *PGStore {
	return &PGStore{db: db, instanceID: instanceID}
}

// EnsureSchema creates the journal table if it does not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Insert writes entries with pgx.Batch and returns the number of rows written.
func (s *PGStore) Insert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertEntry,
			s.instanceID, e.EnvelopeID, e.Channel, e.Type, e.Command, e.Status,
			e.PeerID, e.Delivered, e.Size, e.RoutedAt,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range entries {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert journal entry: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}
	return inserted, nil
}
