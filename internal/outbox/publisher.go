// Package outbox drains NEW outbox rows to RabbitMQ. State changes and
// their outbox records commit in one transaction; this loop only ships what
// is already durable, so a crash here loses nothing.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/campusgate/registrar/internal/adapters/crdb"
	"github.com/campusgate/registrar/internal/adapters/rabbit"
	"github.com/campusgate/registrar/internal/observability"
)

const (
	drainInterval = 5 * time.Second
	batchSize     = 10
)

type Publisher struct {
	store     *crdb.Store
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(store *crdb.Store, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{store: store, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.store.GetUnpublishedOutbox(ctx, batchSize)
	if err != nil {
		p.logger.Error("failed to fetch outbox batch: ", err)
		return
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithField("outbox_id", rec.ID).Error("failed to publish outbox record: ", err)
			continue
		}
		if err := p.store.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
			p.logger.WithField("outbox_id", rec.ID).Error("failed to mark outbox record published: ", err)
		}
	}

	if lag, err := p.store.OldestUnpublishedAge(ctx, time.Now().UTC()); err == nil {
		observability.OutboxLag.Set(lag.Seconds())
	}
}
