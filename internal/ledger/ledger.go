// Package ledger is the sole authority over an event's attendee set.
// Admission for the same event is serialized through a per-event mutex, and
// the backing store enforces the capacity bound again with a conditional
// insert, so two callers racing for the last seat cannot both win even
// across processes.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/observability"
	"github.com/google/uuid"
)

type Store interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	HasSeat(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
	// GetSeat returns the user's seat or domain.ErrNotFound.
	GetSeat(ctx context.Context, eventID, userID uuid.UUID) (*domain.Seat, error)
	// InsertSeat admits atomically against the capacity bound and the
	// attendee uniqueness constraint; it reports false without error when
	// either would be violated. A non-nil note is written in the same
	// transaction.
	InsertSeat(ctx context.Context, seat domain.Seat, capacity *int, note *domain.OutboxRecord) (bool, error)
	DeleteSeat(ctx context.Context, eventID, userID uuid.UUID, note *domain.OutboxRecord) (bool, error)
	CountAttendees(ctx context.Context, eventID uuid.UUID) (int, error)
	ListAttendees(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error)
	ListSeatsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Seat, error)
}

type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func New(store Store) *Ledger {
	return &Ledger{store: store, locks: make(map[uuid.UUID]*sync.Mutex)}
}

// eventLock returns the mutex serializing admissions for one event.
// Distinct events never contend.
func (l *Ledger) eventLock(eventID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[eventID] = lock
	}
	return lock
}

// TryAdmit admits a user to a free-admission attendee set.
func (l *Ledger) TryAdmit(ctx context.Context, eventID, userID uuid.UUID) (domain.AdmitOutcome, error) {
	seat := domain.Seat{EventID: eventID, UserID: userID, AdmittedAt: time.Now().UTC()}
	return l.admit(ctx, seat)
}

// AdmitPaid admits a user whose payment order has been confirmed, carrying
// the order linkage onto the seat.
func (l *Ledger) AdmitPaid(ctx context.Context, eventID, userID, orderID uuid.UUID, receipt string) (domain.AdmitOutcome, error) {
	seat := domain.Seat{
		EventID:    eventID,
		UserID:     userID,
		OrderID:    &orderID,
		Receipt:    receipt,
		AdmittedAt: time.Now().UTC(),
	}
	return l.admit(ctx, seat)
}

func (l *Ledger) admit(ctx context.Context, seat domain.Seat) (domain.AdmitOutcome, error) {
	lock := l.eventLock(seat.EventID)
	lock.Lock()
	defer lock.Unlock()

	ev, err := l.store.GetEvent(ctx, seat.EventID)
	if errors.Is(err, domain.ErrNotFound) {
		return l.counted(domain.EventNotFound), nil
	}
	if err != nil {
		return "", err
	}

	if !ev.RegistrationOpen(time.Now().UTC()) {
		return l.counted(domain.RegistrationClosed), nil
	}

	taken, err := l.store.HasSeat(ctx, seat.EventID, seat.UserID)
	if err != nil {
		return "", err
	}
	if taken {
		return l.counted(domain.AlreadyRegistered), nil
	}

	note := domain.NewOutboxRecord("registration", seat.EventID, "registration.admitted", map[string]interface{}{
		"event_id": seat.EventID,
		"user_id":  seat.UserID,
		"receipt":  seat.Receipt,
	})
	ok, err := l.store.InsertSeat(ctx, seat, ev.Capacity, &note)
	if err != nil {
		return "", err
	}
	if !ok {
		// The store refused the insert after our own checks passed. With
		// an unbounded event the only constraint left is uniqueness.
		if ev.Capacity == nil {
			return l.counted(domain.AlreadyRegistered), nil
		}
		return l.counted(domain.Full), nil
	}
	return l.counted(domain.Admitted), nil
}

// Withdraw removes a user's seat. A second withdraw reports NotRegistered
// rather than an error.
func (l *Ledger) Withdraw(ctx context.Context, eventID, userID uuid.UUID) (domain.WithdrawOutcome, error) {
	lock := l.eventLock(eventID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := l.store.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WithdrawNotFound, nil
		}
		return "", err
	}

	note := domain.NewOutboxRecord("registration", eventID, "registration.cancelled", map[string]interface{}{
		"event_id": eventID,
		"user_id":  userID,
	})
	removed, err := l.store.DeleteSeat(ctx, eventID, userID, &note)
	if err != nil {
		return "", err
	}
	if !removed {
		return domain.NotRegistered, nil
	}
	return domain.Removed, nil
}

// Snapshot is a read-only view for analytics; it is taken outside the
// admission lock and may trail in-flight admits.
func (l *Ledger) Snapshot(ctx context.Context, eventID uuid.UUID) (*domain.Snapshot, error) {
	ev, err := l.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ids, err := l.store.ListAttendees(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &domain.Snapshot{
		EventID:       eventID,
		AttendeeCount: len(ids),
		Capacity:      ev.Capacity,
		AttendeeIDs:   ids,
	}, nil
}

// Registered reports whether the user currently holds a seat.
func (l *Ledger) Registered(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	return l.store.HasSeat(ctx, eventID, userID)
}

// Seat returns the user's seat for the event, with its order linkage, or
// domain.ErrNotFound.
func (l *Ledger) Seat(ctx context.Context, eventID, userID uuid.UUID) (*domain.Seat, error) {
	return l.store.GetSeat(ctx, eventID, userID)
}

// RegisteredEvents lists the seats a user currently holds.
func (l *Ledger) RegisteredEvents(ctx context.Context, userID uuid.UUID) ([]domain.Seat, error) {
	return l.store.ListSeatsByUser(ctx, userID)
}

func (l *Ledger) counted(outcome domain.AdmitOutcome) domain.AdmitOutcome {
	observability.AdmissionsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}
