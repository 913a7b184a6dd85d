// Package crdb is the authoritative store: events, seats, payment orders
// and the outbox, on postgres-compatible databases via pgx. Every
// check-and-set is a single conditional statement so the invariants hold
// across processes, not just behind the in-process admission lock.
package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusgate/registrar/internal/domain"
)

const (
	serializationFailureCode = "40001"
	uniqueViolationCode      = "23505"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	var ev domain.Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, organisation_id, title, venue, price, capacity, deadline, created_at
		FROM events WHERE id = $1
	`, eventID).Scan(&ev.ID, &ev.OrganisationID, &ev.Title, &ev.Venue, &ev.Price, &ev.Capacity, &ev.Deadline, &ev.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organisation_id, title, venue, price, capacity, deadline, created_at
		FROM events ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.OrganisationID, &ev.Title, &ev.Venue, &ev.Price, &ev.Capacity, &ev.Deadline, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) HasSeat(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM seats WHERE event_id = $1 AND user_id = $2)
	`, eventID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) GetSeat(ctx context.Context, eventID, userID uuid.UUID) (*domain.Seat, error) {
	var seat domain.Seat
	err := s.pool.QueryRow(ctx, `
		SELECT event_id, user_id, order_id, receipt, admitted_at
		FROM seats WHERE event_id = $1 AND user_id = $2
	`, eventID, userID).Scan(&seat.EventID, &seat.UserID, &seat.OrderID, &seat.Receipt, &seat.AdmittedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seat, nil
}

// InsertSeat admits only when the user has no seat and the attendee count is
// still under capacity, in one statement. RowsAffected distinguishes a
// refused admission from an error.
func (s *Store) InsertSeat(ctx context.Context, seat domain.Seat, capacity *int, note *domain.OutboxRecord) (bool, error) {
	admitted := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			INSERT INTO seats (event_id, user_id, order_id, receipt, admitted_at)
			SELECT $1, $2, $3, $4, $5
			WHERE NOT EXISTS (SELECT 1 FROM seats WHERE event_id = $1 AND user_id = $2)
			AND ($6::INT IS NULL OR (SELECT COUNT(*) FROM seats WHERE event_id = $1) < $6)
		`, seat.EventID, seat.UserID, seat.OrderID, seat.Receipt, seat.AdmittedAt, capacity)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return nil
		}
		admitted = true
		return s.insertOutbox(ctx, tx, note)
	})
	return admitted, err
}

func (s *Store) DeleteSeat(ctx context.Context, eventID, userID uuid.UUID, note *domain.OutboxRecord) (bool, error) {
	removed := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			DELETE FROM seats WHERE event_id = $1 AND user_id = $2
		`, eventID, userID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return nil
		}
		removed = true
		return s.insertOutbox(ctx, tx, note)
	})
	return removed, err
}

func (s *Store) CountAttendees(ctx context.Context, eventID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM seats WHERE event_id = $1
	`, eventID).Scan(&count)
	return count, err
}

func (s *Store) ListAttendees(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM seats WHERE event_id = $1 ORDER BY admitted_at ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListSeatsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Seat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, user_id, order_id, receipt, admitted_at
		FROM seats WHERE user_id = $1 ORDER BY admitted_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []domain.Seat
	for rows.Next() {
		var seat domain.Seat
		if err := rows.Scan(&seat.EventID, &seat.UserID, &seat.OrderID, &seat.Receipt, &seat.AdmittedAt); err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}
	return seats, rows.Err()
}
