package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/observability"
)

// RosterStore holds the organizer-facing attendee rosters, refreshed by the
// analytics aggregator off the write path.
type RosterStore struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewRosterStore(db *mongo.Database, logger observability.Logger) *RosterStore {
	return &RosterStore{
		coll:   db.Collection("event_rosters"),
		logger: logger,
	}
}

type RosterDoc struct {
	EventID       uuid.UUID   `bson:"_id"`
	AttendeeCount int         `bson:"attendee_count"`
	Capacity      *int        `bson:"capacity"`
	AttendeeIDs   []uuid.UUID `bson:"attendee_ids"`
	UpdatedAt     time.Time   `bson:"updated_at"`
}

func (r *RosterStore) Upsert(ctx context.Context, snap domain.Snapshot) error {
	doc := RosterDoc{
		EventID:       snap.EventID,
		AttendeeCount: snap.AttendeeCount,
		Capacity:      snap.Capacity,
		AttendeeIDs:   snap.AttendeeIDs,
		UpdatedAt:     time.Now().UTC(),
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": snap.EventID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		r.logger.Error("failed to upsert roster", err)
		return err
	}
	return nil
}

func (r *RosterStore) Get(ctx context.Context, eventID uuid.UUID) (*RosterDoc, error) {
	var doc RosterDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": eventID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
