package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/promo-engine/internal/outbox"
)

const (
	claimOutboxSQL = `SELECT id, event_type, event_key, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markOutboxPublishedSQL = `UPDATE outbox SET published_at = now() WHERE id = ANY($1)`
)

var _ outbox.Store = (*OutboxRepository)(nil)

// OutboxRepository implements outbox.Store. Concurrent relays never claim the
// same row.
type OutboxRepository struct {
	db DB
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(db DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Process locks up to limit pending messages, hands them to fn, and marks
// them published when fn succeeds. The locks are held until fn returns.
func (r *OutboxRepository) Process(ctx context.Context, limit int, fn func(context.Context, []outbox.Message) error) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning outbox transaction: %w", err)
	}
	defer rollback(ctx, tx)

	rows, err := tx.Query(ctx, claimOutboxSQL, limit)
	if err != nil {
		return 0, fmt.Errorf("claiming outbox messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Message, error) {
		var m outbox.Message
		err := row.Scan(&m.ID, &m.EventType, &m.Key, &m.Payload, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return 0, fmt.Errorf("claiming outbox messages: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := fn(ctx, msgs); err != nil {
		return 0, err
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if _, err := tx.Exec(ctx, markOutboxPublishedSQL, ids); err != nil {
		return 0, fmt.Errorf("marking outbox messages published: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing outbox batch: %w", err)
	}
	return len(msgs), nil
}
