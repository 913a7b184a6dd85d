// Package coordinator composes the ledger and the tracker into the one
// registration protocol: direct admission for free events, a two-phase
// order-then-seat flow for paid ones.
package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/ledger"
	"github.com/campusgate/registrar/internal/observability"
	"github.com/campusgate/registrar/internal/tracker"
)

type EventReader interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
}

// Incidents is the operator escalation channel. A paid order that could not
// be seated is never silently dropped; it lands here for manual refund or a
// seat override.
type Incidents interface {
	RecordPaidUnseated(ctx context.Context, order domain.PaymentOrder, reason string) error
	RecordRefundDue(ctx context.Context, order domain.PaymentOrder, reason string) error
}

type Coordinator struct {
	events    EventReader
	ledger    *ledger.Ledger
	tracker   *tracker.Tracker
	incidents Incidents
	logger    observability.Logger
}

func New(events EventReader, lg *ledger.Ledger, tr *tracker.Tracker, incidents Incidents, logger observability.Logger) *Coordinator {
	return &Coordinator{events: events, ledger: lg, tracker: tr, incidents: incidents, logger: logger}
}

// Register handles free-event registration; ledger outcomes map one-to-one
// to user-facing results. Paid events must go through InitiatePayment.
func (c *Coordinator) Register(ctx context.Context, eventID, userID uuid.UUID) (domain.AdmitOutcome, error) {
	ev, err := c.events.GetEvent(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.EventNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if !ev.Free() {
		return "", errors.Mark(errors.New("event requires payment"), domain.ErrInvalidInput)
	}
	return c.ledger.TryAdmit(ctx, eventID, userID)
}

// InitiatePayment is phase one of the paid flow. The checks against the
// ledger here are advisory; phase two re-checks under the admission lock.
func (c *Coordinator) InitiatePayment(ctx context.Context, eventID, userID uuid.UUID) (*domain.PaymentOrder, error) {
	ev, err := c.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Free() {
		return nil, domain.ErrEventNotPayable
	}
	if !ev.RegistrationOpen(time.Now().UTC()) {
		return nil, domain.ErrRegistrationClosed
	}
	registered, err := c.ledger.Registered(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if registered {
		return nil, domain.ErrAlreadyRegistered
	}
	return c.tracker.CreateOrder(ctx, eventID, userID)
}

// ConfirmPayment is phase two. The seat is granted only on the first
// confirmation of the order; if the event filled or closed while the user
// was paying, the order is flagged paid-unseated and escalated.
func (c *Coordinator) ConfirmPayment(ctx context.Context, orderID uuid.UUID, gatewayPaymentRef string) (domain.ConfirmOutcome, error) {
	res, err := c.tracker.MarkPaid(ctx, orderID, gatewayPaymentRef)
	if err != nil {
		return "", err
	}
	switch res {
	case domain.OrderNotFound:
		return domain.ConfirmNotFound, nil
	case domain.AlreadyFinalized:
		return c.recoverFinalized(ctx, orderID)
	}

	order, err := c.tracker.Order(ctx, orderID)
	if err != nil {
		return "", err
	}
	return c.seat(ctx, order)
}

// recoverFinalized resolves a confirmation whose order already left CREATED.
// A paid order that never got its seat is re-driven. A locally FAILED or
// EXPIRED order with a verified payment confirmation on it means the money
// moved while the local state says it did not; that order goes to the refund
// queue. Replays of fully processed orders are a no-op.
func (c *Coordinator) recoverFinalized(ctx context.Context, orderID uuid.UUID) (domain.ConfirmOutcome, error) {
	order, err := c.tracker.Order(ctx, orderID)
	if err != nil {
		return "", err
	}
	switch {
	case order.RefundDue:
		return domain.AlreadyProcessed, nil
	case order.Status == domain.OrderPaid && !order.Seated:
		return c.seat(ctx, order)
	case order.Status == domain.OrderPaid:
		return domain.AlreadyProcessed, nil
	default:
		return c.escalateUnseated(ctx, order, "confirmed_after_"+strings.ToLower(string(order.Status)))
	}
}

func (c *Coordinator) seat(ctx context.Context, order *domain.PaymentOrder) (domain.ConfirmOutcome, error) {
	outcome, err := c.ledger.AdmitPaid(ctx, order.EventID, order.UserID, order.ID, order.Receipt)
	if err != nil {
		// Fail open for the webhook retry: the order stays paid and
		// unseated, and the next delivery re-drives seating.
		return "", err
	}

	switch outcome {
	case domain.Admitted:
		if err := c.tracker.MarkSeated(ctx, order.ID); err != nil {
			return "", err
		}
		return domain.Seated, nil
	case domain.AlreadyRegistered:
		existing, err := c.ledger.Seat(ctx, order.EventID, order.UserID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		if existing != nil && existing.OrderID != nil && *existing.OrderID == order.ID {
			// The seat from this very order is already down; only the
			// order's seated flag is missing.
			if err := c.tracker.MarkSeated(ctx, order.ID); err != nil {
				return "", err
			}
			return domain.Seated, nil
		}
		// The user holds a seat from somewhere else; this order bought
		// nothing.
		return c.escalateUnseated(ctx, order, string(outcome))
	default:
		// Full, RegistrationClosed or a vanished event: the money moved
		// and no seat can come from this order.
		return c.escalateUnseated(ctx, order, string(outcome))
	}
}

func (c *Coordinator) escalateUnseated(ctx context.Context, order *domain.PaymentOrder, reason string) (domain.ConfirmOutcome, error) {
	if err := c.tracker.MarkRefundDue(ctx, order.ID, reason); err != nil {
		return "", err
	}
	observability.PaidUnseatedTotal.Inc()
	c.logger.WithField("order_id", order.ID).WithField("reason", reason).Error("paid order could not be seated")
	if err := c.incidents.RecordPaidUnseated(ctx, *order, reason); err != nil {
		// The refund flag is already durable; the incident log is
		// best-effort on top of it.
		c.logger.WithField("order_id", order.ID).Error("failed to record paid-unseated incident: ", err)
	}
	return domain.PaidUnseated, nil
}

// FailPayment records a gateway-reported failure for an order.
func (c *Coordinator) FailPayment(ctx context.Context, orderID uuid.UUID) (domain.FinalizeOutcome, error) {
	return c.tracker.MarkFailed(ctx, orderID)
}

// CancelRegistration withdraws the seat and, for paid events, preserves the
// order linkage for downstream refund bookkeeping.
func (c *Coordinator) CancelRegistration(ctx context.Context, eventID, userID uuid.UUID) (domain.WithdrawOutcome, error) {
	outcome, err := c.ledger.Withdraw(ctx, eventID, userID)
	if err != nil || outcome != domain.Removed {
		return outcome, err
	}

	ev, err := c.events.GetEvent(ctx, eventID)
	if err != nil {
		c.logger.WithError(err).WithField("event_id", eventID).Error("failed to load event on cancel, skipping refund linkage")
		return outcome, nil
	}
	if ev.Free() {
		return outcome, nil
	}

	order, err := c.tracker.PaidOrder(ctx, eventID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return outcome, nil
	}
	if err != nil {
		c.logger.WithField("event_id", eventID).Error("failed to look up paid order on cancel: ", err)
		return outcome, nil
	}
	if err := c.tracker.MarkRefundDue(ctx, order.ID, "cancelled"); err != nil {
		c.logger.WithField("order_id", order.ID).Error("failed to flag refund on cancel: ", err)
		return outcome, nil
	}
	if err := c.incidents.RecordRefundDue(ctx, *order, "cancelled"); err != nil {
		c.logger.WithField("order_id", order.ID).Error("failed to record refund incident: ", err)
	}
	return outcome, nil
}
