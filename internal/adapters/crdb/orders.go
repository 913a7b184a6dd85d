package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campusgate/registrar/internal/domain"
)

const orderColumns = `id, gateway_order_ref, gateway_payment_ref, event_id, user_id, organisation_id,
	amount, currency, platform_fee, org_share, receipt, status, seated, refund_due, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.PaymentOrder, error) {
	var o domain.PaymentOrder
	var paymentRef *string
	err := row.Scan(&o.ID, &o.GatewayOrderRef, &paymentRef, &o.EventID, &o.UserID, &o.OrganisationID,
		&o.Amount, &o.Currency, &o.PlatformFee, &o.OrgShare, &o.Receipt, &o.Status, &o.Seated, &o.RefundDue,
		&o.CreatedAt, &o.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if paymentRef != nil {
		o.GatewayPaymentRef = *paymentRef
	}
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.PaymentOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// InsertOrder relies on the partial unique index over (event_id, user_id)
// WHERE status = 'CREATED' to reject a second pending order per attempt.
func (s *Store) InsertOrder(ctx context.Context, order domain.PaymentOrder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_orders (`+orderColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, order.ID, order.GatewayOrderRef, order.GatewayPaymentRef, order.EventID, order.UserID, order.OrganisationID,
		order.Amount, order.Currency, order.PlatformFee, order.OrgShare, order.Receipt, order.Status,
		order.Seated, order.RefundDue, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// FinalizeOrder moves CREATED to a terminal status; the status predicate in
// the UPDATE is what makes terminal states immutable.
func (s *Store) FinalizeOrder(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, paymentRef string, note *domain.OutboxRecord) (bool, error) {
	finalized := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE payment_orders
			SET status = $2, gateway_payment_ref = NULLIF($3, ''), updated_at = $4
			WHERE id = $1 AND status = 'CREATED'
		`, orderID, to, paymentRef, time.Now().UTC())
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return nil
		}
		finalized = true
		return s.insertOutbox(ctx, tx, note)
	})
	return finalized, err
}

func (s *Store) MarkOrderSeated(ctx context.Context, orderID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE payment_orders SET seated = TRUE, updated_at = $2 WHERE id = $1
	`, orderID, time.Now().UTC())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) MarkOrderRefundDue(ctx context.Context, orderID uuid.UUID, note *domain.OutboxRecord) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE payment_orders SET refund_due = TRUE, updated_at = $2 WHERE id = $1
		`, orderID, time.Now().UTC())
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return s.insertOutbox(ctx, tx, note)
	})
}

func (s *Store) PaidOrder(ctx context.Context, eventID, userID uuid.UUID) (*domain.PaymentOrder, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM payment_orders
		WHERE event_id = $1 AND user_id = $2 AND status = 'PAID'
		ORDER BY created_at DESC LIMIT 1
	`, eventID, userID)
	return scanOrder(row)
}

func (s *Store) HasPendingOrder(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_orders
			WHERE event_id = $1 AND user_id = $2 AND status = 'CREATED'
		)
	`, eventID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) ExpireCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.PaymentOrder, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE payment_orders
		SET status = 'EXPIRED', updated_at = $2
		WHERE status = 'CREATED' AND created_at <= $1
		RETURNING `+orderColumns+`
	`, cutoff, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []domain.PaymentOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *order)
	}
	return expired, rows.Err()
}
