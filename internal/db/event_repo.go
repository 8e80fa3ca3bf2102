package db

import (
	"context"

	"membergate/internal/types"
)

// EventRepository is the append-only ledger of accepted webhook events.
// The event_id primary key is the only synchronization between concurrent
// deliveries of the same event.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates an EventRepository backed by the given
// connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// InsertEvent records rec and reports whether it was new. A duplicate
// event_id returns (false, nil) and leaves the stored row untouched.
func (r *EventRepository) InsertEvent(ctx context.Context, rec types.WebhookEventRecord) (bool, error) {
	payload := rec.RawPayload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO webhook_events (event_id, event_type, received_at, raw_payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.EventType, rec.ReceivedAt, payload,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record webhook event", err)
	}
	return tag.RowsAffected() == 1, nil
}
