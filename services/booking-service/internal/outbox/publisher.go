package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/libs/kafkax"
	otelx "github.com/roamly/roamly/libs/otel"
	"github.com/segmentio/kafka-go"
)

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

// Publisher drains outbox_events into Kafka. Rows are locked, written, and
// marked published inside one transaction per batch, so a crash mid-batch
// re-publishes at most one batch (consumers dedupe on event_id).
type Publisher struct {
	pool   *db.Pool
	repo   *Repository
	logger *slog.Logger
	cfg    PublisherConfig
	addrs  []string
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:   pool,
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		addrs:  kafkax.SplitBrokers(cfg.Brokers),
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.addrs) == 0 {
		p.logger.Warn("outbox publisher idle: no kafka brokers configured")
		return
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.addrs...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	defer writer.Close()

	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx, writer)
		}
	}
}

// drain publishes batches until the table has no unpublished rows left, so
// a burst clears in one tick instead of one batch per tick.
func (p *Publisher) drain(ctx context.Context, writer *kafka.Writer) {
	for {
		n, err := p.publishBatch(ctx, writer)
		if err != nil {
			p.logger.Error("outbox publish failed", "err", err)
			return
		}
		if n < p.cfg.BatchSize {
			return
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer *kafka.Writer) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		if err := writer.WriteMessages(ctx, messageFor(ctx, rec)); err != nil {
			return 0, err
		}
		ids = append(ids, rec.ID)
	}

	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}

// messageFor maps an outbox record onto a Kafka message. Topic equals the
// event type; the aggregate id keys the message so one aggregate's events
// stay ordered within a partition.
func messageFor(ctx context.Context, rec Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	msg := kafka.Message{
		Topic: rec.EventType,
		Key:   []byte(rec.AggregateID),
		Value: rec.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(rec.EventID)},
			{Key: "event_type", Value: []byte(rec.EventType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
