// Package outbox relays rows of the transactional outbox table to Kafka.
//
// The workflow store writes one outbox row per audit entry inside the
// transition's transaction. The relay claims unpublished rows with
// FOR UPDATE SKIP LOCKED, so several relays can run side by side, publishes
// them, and marks them published in the same transaction. Delivery is
// at-least-once: a crash between produce and commit republishes the batch.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"genecuration/pkg/platform/tx"
	"genecuration/pkg/requestcontext"
)

// Message is one outbox row.
type Message struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Publisher delivers a batch of messages. It returns only after every
// message is acknowledged or the batch failed.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

type Relay struct {
	db        *sql.DB
	publisher Publisher
	interval  time.Duration
	batchSize int
	txTimeout time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func NewRelay(db *sql.DB, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		publisher: publisher,
		interval:  time.Second,
		batchSize: 100,
		txTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the outbox every interval until ctx ends. A full batch is
// followed immediately by the next one.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.PublishBatch(ctx)
		if err != nil && ctx.Err() == nil && r.logger != nil {
			r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
		}
		if err == nil && n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishBatch publishes up to batchSize pending rows and returns how many
// it marked published.
func (r *Relay) PublishBatch(ctx context.Context) (int, error) {
	var published int
	err := tx.Run(ctx, r.db, r.txTimeout, func(ctx context.Context) error {
		sqlTx, _ := tx.From(ctx)
		msgs, err := r.claim(ctx, sqlTx)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		start := time.Now()
		if err := r.publisher.Publish(ctx, msgs); err != nil {
			r.metrics.IncrementFailures()
			return fmt.Errorf("publish outbox batch: %w", err)
		}
		r.metrics.ObservePublishDuration(time.Since(start))

		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		if _, err := sqlTx.ExecContext(ctx,
			`UPDATE outbox SET published_at = $1 WHERE id::text = ANY($2)`,
			requestcontext.Now(ctx), pq.Array(ids),
		); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
		published = len(msgs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.metrics.AddPublished(published)
		if r.logger != nil {
			r.logger.DebugContext(ctx, "outbox batch published", "count", published)
		}
	}
	return published, nil
}

func (r *Relay) claim(ctx context.Context, sqlTx *sql.Tx) ([]Message, error) {
	rows, err := sqlTx.QueryContext(ctx, `
		SELECT id::text, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("select outbox batch: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return msgs, nil
}
