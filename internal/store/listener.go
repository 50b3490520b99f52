package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ontoloom/ontoloom/internal/domain"
	"go.uber.org/zap"
)

const schemaChannel = "schema_changes"

// reconnect backoff after a dropped listen connection
const listenRetryDelay = 2 * time.Second

// SchemaListener delivers schema-change notifications over Postgres
// LISTEN/NOTIFY. A trigger on ontology_schemas emits the payload, so changes
// made by other processes sharing the store are observed too.
type SchemaListener struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSchemaListener(db *pgxpool.Pool, logger *zap.Logger) *SchemaListener {
	return &SchemaListener{db: db, logger: logger}
}

// Subscribe starts a background listen loop and returns the event channel.
// The channel closes when ctx is cancelled. Connection drops are retried with
// backoff; they never terminate the subscription.
func (l *SchemaListener) Subscribe(ctx context.Context) (<-chan domain.SchemaChangeEvent, error) {
	events := make(chan domain.SchemaChangeEvent, 16)

	go func() {
		defer close(events)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := l.listen(ctx, events); err != nil && ctx.Err() == nil {
				l.logger.Warn("schema listener disconnected, retrying",
					zap.Error(err),
					zap.Duration("retry_in", listenRetryDelay))
				select {
				case <-time.After(listenRetryDelay):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (l *SchemaListener) listen(ctx context.Context, events chan<- domain.SchemaChangeEvent) error {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+schemaChannel); err != nil {
		return fmt.Errorf("listen on %s: %w", schemaChannel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		event := decodeChangeEvent(notification.Payload)
		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decodeChangeEvent tolerates non-JSON payloads; the event still carries the
// receive timestamp so the coordinator can debounce it.
func decodeChangeEvent(payload string) domain.SchemaChangeEvent {
	event := domain.SchemaChangeEvent{ChangedAt: time.Now().UTC()}
	if payload == "" {
		return event
	}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		event.Op = payload
	}
	if event.ChangedAt.IsZero() {
		event.ChangedAt = time.Now().UTC()
	}
	return event
}

// Verify interface compliance at compile time
var _ domain.SchemaNotifier = (*SchemaListener)(nil)
