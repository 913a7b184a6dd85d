// Package memory is an in-process store with the same conditional-update
// contract as the postgres adapter. It backs unit tests and single-node dev
// runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campusgate/registrar/internal/domain"
)

type Store struct {
	mu     sync.Mutex
	events map[uuid.UUID]domain.Event
	seats  map[uuid.UUID]map[uuid.UUID]domain.Seat
	orders map[uuid.UUID]*domain.PaymentOrder
	outbox []domain.OutboxRecord
}

func NewStore() *Store {
	return &Store{
		events: make(map[uuid.UUID]domain.Event),
		seats:  make(map[uuid.UUID]map[uuid.UUID]domain.Seat),
		orders: make(map[uuid.UUID]*domain.PaymentOrder),
	}
}

func (s *Store) AddEvent(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
}

func (s *Store) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ev, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]domain.Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) HasSeat(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seats[eventID][userID]
	return ok, nil
}

func (s *Store) GetSeat(ctx context.Context, eventID, userID uuid.UUID) (*domain.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats[eventID][userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := seat
	return &copied, nil
}

func (s *Store) InsertSeat(ctx context.Context, seat domain.Seat, capacity *int, note *domain.OutboxRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attendees, ok := s.seats[seat.EventID]
	if !ok {
		attendees = make(map[uuid.UUID]domain.Seat)
		s.seats[seat.EventID] = attendees
	}
	if _, taken := attendees[seat.UserID]; taken {
		return false, nil
	}
	if capacity != nil && len(attendees) >= *capacity {
		return false, nil
	}
	attendees[seat.UserID] = seat
	s.appendOutbox(note)
	return true, nil
}

func (s *Store) DeleteSeat(ctx context.Context, eventID, userID uuid.UUID, note *domain.OutboxRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attendees := s.seats[eventID]
	if _, ok := attendees[userID]; !ok {
		return false, nil
	}
	delete(attendees, userID)
	s.appendOutbox(note)
	return true, nil
}

func (s *Store) CountAttendees(ctx context.Context, eventID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seats[eventID]), nil
}

func (s *Store) ListAttendees(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.seats[eventID]))
	for id := range s.seats[eventID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) ListSeatsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var seats []domain.Seat
	for _, attendees := range s.seats {
		if seat, ok := attendees[userID]; ok {
			seats = append(seats, seat)
		}
	}
	return seats, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *Store) InsertOrder(ctx context.Context, order domain.PaymentOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.EventID == order.EventID && existing.UserID == order.UserID && existing.Status == domain.OrderCreated {
			return domain.ErrConflict
		}
	}
	copied := order
	s.orders[order.ID] = &copied
	return nil
}

func (s *Store) FinalizeOrder(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, paymentRef string, note *domain.OutboxRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if order.Status != domain.OrderCreated {
		return false, nil
	}
	order.Status = to
	order.GatewayPaymentRef = paymentRef
	order.UpdatedAt = time.Now().UTC()
	s.appendOutbox(note)
	return true, nil
}

func (s *Store) MarkOrderSeated(ctx context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	order.Seated = true
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) MarkOrderRefundDue(ctx context.Context, orderID uuid.UUID, note *domain.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	order.RefundDue = true
	order.UpdatedAt = time.Now().UTC()
	s.appendOutbox(note)
	return nil
}

func (s *Store) PaidOrder(ctx context.Context, eventID, userID uuid.UUID) (*domain.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.EventID == eventID && order.UserID == userID && order.Status == domain.OrderPaid {
			copied := *order
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) HasPendingOrder(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.EventID == eventID && order.UserID == userID && order.Status == domain.OrderCreated {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ExpireCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []domain.PaymentOrder
	for _, order := range s.orders {
		if order.Status == domain.OrderCreated && !order.CreatedAt.After(cutoff) {
			order.Status = domain.OrderExpired
			order.UpdatedAt = time.Now().UTC()
			expired = append(expired, *order)
		}
	}
	return expired, nil
}

// Outbox returns the records written so far; used by tests and the dev-mode
// publisher.
func (s *Store) Outbox() []domain.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboxRecord, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *Store) appendOutbox(note *domain.OutboxRecord) {
	if note == nil {
		return
	}
	rec := *note
	rec.CreatedAt = time.Now().UTC()
	s.outbox = append(s.outbox, rec)
}
