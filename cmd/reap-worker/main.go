package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/campusgate/registrar/internal/adapters/crdb"
	"github.com/campusgate/registrar/internal/adapters/rabbit"
	"github.com/campusgate/registrar/internal/config"
	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/gateway"
	"github.com/campusgate/registrar/internal/observability"
	"github.com/campusgate/registrar/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	store := crdb.NewStore(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	tr := tracker.New(store, gateway.NewClient(cfg), cfg.OrderTTL, cfg.PlatformFeeBps, logger)
	worker := NewReapWorker(tr, rabbitPub, logger)

	refundConsumer, err := rabbit.NewConsumer(conn, "settlement.q", []string{"order.refund_due"})
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.ReapInterval)
	go consumeRefunds(ctx, refundConsumer, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown reap worker")
}

// ReapWorker periodically expires abandoned payment orders so a stale
// pending order stops blocking its user from retrying.
type ReapWorker struct {
	tracker   *tracker.Tracker
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewReapWorker(tr *tracker.Tracker, rabbitPub *rabbit.Publisher, logger observability.Logger) *ReapWorker {
	return &ReapWorker{tracker: tr, rabbitPub: rabbitPub, logger: logger}
}

func (w *ReapWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := w.tracker.Reap(ctx)
			if err != nil {
				w.logger.Error("failed to reap orders: ", err)
				continue
			}
			for _, order := range expired {
				if err := w.publishWithRetry(ctx, order); err != nil {
					w.logger.WithField("order_id", order.ID).Error("failed to publish expiry after retries: ", err)
				}
			}
		}
	}
}

// consumeRefunds surfaces refund-due orders on the worker log so the
// settlement run has a place to pick them up from besides mongo.
func consumeRefunds(ctx context.Context, consumer *rabbit.Consumer, logger observability.Logger) {
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		logger.Error("failed to start refund consumer: ", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			logger.WithField("dedupe_key", msg.MessageId).Info("refund due: ", string(msg.Body))
			msg.Ack(false)
		}
	}
}

func (w *ReapWorker) publishWithRetry(ctx context.Context, order domain.PaymentOrder) error {
	maxRetries := 3
	payload, _ := json.Marshal(map[string]interface{}{
		"order_id": order.ID,
		"event_id": order.EventID,
		"user_id":  order.UserID,
		"receipt":  order.Receipt,
	})
	msg := amqp.Publishing{
		MessageId:   uuid.New().String(),
		ContentType: "application/json",
		Body:        payload,
	}

	for i := 0; i < maxRetries; i++ {
		if err := w.rabbitPub.Publish(ctx, "order.expired", msg); err == nil {
			return nil
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed after %d retries", maxRetries)
}
