// Package tracker models the external payment gateway's order as a local
// state machine. Gateway callbacks can arrive duplicated, out of order, or
// not at all; every transition out of CREATED is a conditional update, so a
// terminal order can never move again.
package tracker

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/observability"
)

type Store interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.PaymentOrder, error)
	// InsertOrder persists a CREATED order; it returns domain.ErrConflict
	// when the user already holds a non-terminal order for the event.
	InsertOrder(ctx context.Context, order domain.PaymentOrder) error
	// FinalizeOrder moves a CREATED order to the given terminal status,
	// reporting false when the order was already finalized. A non-nil note
	// is written in the same transaction.
	FinalizeOrder(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, paymentRef string, note *domain.OutboxRecord) (bool, error)
	MarkOrderSeated(ctx context.Context, orderID uuid.UUID) error
	MarkOrderRefundDue(ctx context.Context, orderID uuid.UUID, note *domain.OutboxRecord) error
	PaidOrder(ctx context.Context, eventID, userID uuid.UUID) (*domain.PaymentOrder, error)
	HasPendingOrder(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
	ExpireCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.PaymentOrder, error)
}

// Gateway is the slice of the payment provider the tracker needs: order
// creation. Confirmation arrives asynchronously through the coordinator.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error)
}

type Tracker struct {
	store    Store
	gateway  Gateway
	orderTTL time.Duration
	feeBps   int
	logger   observability.Logger
}

func New(store Store, gateway Gateway, orderTTL time.Duration, feeBps int, logger observability.Logger) *Tracker {
	return &Tracker{store: store, gateway: gateway, orderTTL: orderTTL, feeBps: feeBps, logger: logger}
}

// CreateOrder begins a paid-registration attempt. The gateway call happens
// first: no local row exists until the provider has acknowledged the order,
// so a gateway failure leaves nothing for the reaper to reconcile.
func (t *Tracker) CreateOrder(ctx context.Context, eventID, userID uuid.UUID) (*domain.PaymentOrder, error) {
	ev, err := t.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Free() {
		return nil, domain.ErrEventNotPayable
	}

	pending, err := t.store.HasPendingOrder(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, domain.ErrDuplicatePendingOrder
	}

	receipt := domain.NewReceipt()
	start := time.Now()
	gatewayRef, err := t.gateway.CreateOrder(ctx, ev.Price, "INR", receipt)
	observability.GatewayRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "gateway create order"), domain.ErrGatewayUnavailable)
	}

	order := domain.NewPaymentOrder(*ev, userID, gatewayRef, receipt, t.feeBps)
	if err := t.store.InsertOrder(ctx, order); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost a race with a concurrent attempt by the same user.
			return nil, domain.ErrDuplicatePendingOrder
		}
		return nil, err
	}

	observability.OrderTransitionsTotal.WithLabelValues(string(domain.OrderCreated)).Inc()
	return &order, nil
}

// MarkPaid finalizes an order as PAID exactly once. Replays of the same
// gateway confirmation report AlreadyFinalized with no side effects.
func (t *Tracker) MarkPaid(ctx context.Context, orderID uuid.UUID, gatewayPaymentRef string) (domain.FinalizeOutcome, error) {
	return t.finalize(ctx, orderID, domain.OrderPaid, gatewayPaymentRef)
}

func (t *Tracker) MarkFailed(ctx context.Context, orderID uuid.UUID) (domain.FinalizeOutcome, error) {
	return t.finalize(ctx, orderID, domain.OrderFailed, "")
}

func (t *Tracker) MarkExpired(ctx context.Context, orderID uuid.UUID) (domain.FinalizeOutcome, error) {
	return t.finalize(ctx, orderID, domain.OrderExpired, "")
}

func (t *Tracker) finalize(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, paymentRef string) (domain.FinalizeOutcome, error) {
	order, err := t.store.GetOrder(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OrderNotFound, nil
	}
	if err != nil {
		return "", err
	}

	note := domain.NewOutboxRecord("order", orderID, "order."+strings.ToLower(string(to)), map[string]interface{}{
		"order_id": orderID,
		"event_id": order.EventID,
		"user_id":  order.UserID,
		"receipt":  order.Receipt,
		"status":   to,
	})
	ok, err := t.store.FinalizeOrder(ctx, orderID, to, paymentRef, &note)
	if err != nil {
		return "", err
	}
	if !ok {
		return domain.AlreadyFinalized, nil
	}
	observability.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
	return domain.Confirmed, nil
}

// MarkSeated records that the paid order's seat was granted.
func (t *Tracker) MarkSeated(ctx context.Context, orderID uuid.UUID) error {
	return t.store.MarkOrderSeated(ctx, orderID)
}

// MarkRefundDue flags an order for the external settlement process: paid but
// unseated, a cancelled paid seat, or a verified payment that arrived after
// the order was locally finalized.
func (t *Tracker) MarkRefundDue(ctx context.Context, orderID uuid.UUID, reason string) error {
	order, err := t.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	note := domain.NewOutboxRecord("order", orderID, "order.refund_due", map[string]interface{}{
		"order_id":  orderID,
		"event_id":  order.EventID,
		"user_id":   order.UserID,
		"receipt":   order.Receipt,
		"org_share": order.OrgShare,
		"reason":    reason,
	})
	return t.store.MarkOrderRefundDue(ctx, orderID, &note)
}

func (t *Tracker) Order(ctx context.Context, orderID uuid.UUID) (*domain.PaymentOrder, error) {
	return t.store.GetOrder(ctx, orderID)
}

// PaidOrder returns the paid order backing a user's seat on a paid event.
func (t *Tracker) PaidOrder(ctx context.Context, eventID, userID uuid.UUID) (*domain.PaymentOrder, error) {
	return t.store.PaidOrder(ctx, eventID, userID)
}

// Reap expires every CREATED order older than the configured TTL so an
// abandoned checkout stops blocking the user's next attempt.
func (t *Tracker) Reap(ctx context.Context) ([]domain.PaymentOrder, error) {
	cutoff := time.Now().UTC().Add(-t.orderTTL)
	expired, err := t.store.ExpireCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, order := range expired {
		t.logger.WithField("order_id", order.ID).WithField("receipt", order.Receipt).Info("expired abandoned order")
		observability.OrderTransitionsTotal.WithLabelValues(string(domain.OrderExpired)).Inc()
		observability.ReapedOrdersTotal.Inc()
	}
	return expired, nil
}
