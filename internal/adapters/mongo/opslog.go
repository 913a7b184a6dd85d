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

// OpsLog is the operator incident queue. Paid-but-unseated orders and
// refund linkage records land here for the settlement process and manual
// intervention.
type OpsLog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewOpsLog(db *mongo.Database, logger observability.Logger) *OpsLog {
	return &OpsLog{
		coll:   db.Collection("ops_incidents"),
		logger: logger,
	}
}

type Incident struct {
	ID         uuid.UUID `bson:"_id"`
	Kind       string    `bson:"kind"`
	OrderID    uuid.UUID `bson:"order_id"`
	EventID    uuid.UUID `bson:"event_id"`
	UserID     uuid.UUID `bson:"user_id"`
	Receipt    string    `bson:"receipt"`
	Amount     int64     `bson:"amount"`
	OrgShare   int64     `bson:"org_share"`
	Reason     string    `bson:"reason"`
	RecordedAt time.Time `bson:"recorded_at"`
	Resolved   bool      `bson:"resolved"`
}

func (l *OpsLog) RecordPaidUnseated(ctx context.Context, order domain.PaymentOrder, reason string) error {
	return l.record(ctx, "paid_unseated", order, reason)
}

func (l *OpsLog) RecordRefundDue(ctx context.Context, order domain.PaymentOrder, reason string) error {
	return l.record(ctx, "refund_due", order, reason)
}

func (l *OpsLog) record(ctx context.Context, kind string, order domain.PaymentOrder, reason string) error {
	incident := Incident{
		ID:         uuid.New(),
		Kind:       kind,
		OrderID:    order.ID,
		EventID:    order.EventID,
		UserID:     order.UserID,
		Receipt:    order.Receipt,
		Amount:     order.Amount,
		OrgShare:   order.OrgShare,
		Reason:     reason,
		RecordedAt: time.Now().UTC(),
	}
	_, err := l.coll.InsertOne(ctx, incident)
	if err != nil {
		l.logger.Error("failed to insert ops incident", err)
		return err
	}
	return nil
}

// Unresolved lists open incidents, oldest first.
func (l *OpsLog) Unresolved(ctx context.Context, limit int64) ([]Incident, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}}).SetLimit(limit)
	cur, err := l.coll.Find(ctx, bson.M{"resolved": false}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var incidents []Incident
	if err := cur.All(ctx, &incidents); err != nil {
		return nil, err
	}
	return incidents, nil
}
