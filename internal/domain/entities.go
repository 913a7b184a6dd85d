package domain

import (
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID             uuid.UUID
	OrganisationID uuid.UUID
	Title          string
	Venue          string
	Price          int64 // paise; zero means free
	Capacity       *int  // nil means unlimited
	Deadline       time.Time
	CreatedAt      time.Time
}

func (e *Event) Free() bool {
	return e.Price == 0
}

func (e *Event) RegistrationOpen(now time.Time) bool {
	return now.Before(e.Deadline)
}

// Seat is the membership of a user in an event's attendee set. For paid
// events it is created strictly after the backing order is paid and carries
// the order's id and receipt code.
type Seat struct {
	EventID    uuid.UUID
	UserID     uuid.UUID
	OrderID    *uuid.UUID
	Receipt    string
	AdmittedAt time.Time
}

type Snapshot struct {
	EventID       uuid.UUID
	AttendeeCount int
	Capacity      *int
	AttendeeIDs   []uuid.UUID
}
