package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

func NewOutboxRecord(aggregateType string, aggregateID uuid.UUID, eventType string, payload map[string]interface{}) OutboxRecord {
	data, _ := json.Marshal(payload)
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		Status:        "NEW",
		DedupeKey:     uuid.New().String(),
	}
}
