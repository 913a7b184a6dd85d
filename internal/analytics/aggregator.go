// Package analytics derives read-only registration snapshots. It is never
// on the write path; a failure here is logged and absorbed, never surfaced
// to a registration or payment outcome.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	mongoadapter "github.com/campusgate/registrar/internal/adapters/mongo"
	redisadapter "github.com/campusgate/registrar/internal/adapters/redis"
	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/ledger"
	"github.com/campusgate/registrar/internal/observability"
)

const snapshotTTL = 30 * time.Second

type Aggregator struct {
	ledger  *ledger.Ledger
	cache   *redisadapter.Cache
	rosters *mongoadapter.RosterStore
	logger  observability.Logger
}

func New(lg *ledger.Ledger, cache *redisadapter.Cache, rosters *mongoadapter.RosterStore, logger observability.Logger) *Aggregator {
	return &Aggregator{ledger: lg, cache: cache, rosters: rosters, logger: logger}
}

// Snapshot serves a possibly cached view of an event's registrations and
// refreshes the organizer roster as a side effect.
func (a *Aggregator) Snapshot(ctx context.Context, eventID uuid.UUID) (*domain.Snapshot, error) {
	if a.cache != nil {
		if cached, err := a.cache.GetSnapshot(ctx, eventID.String()); err == nil && cached != nil {
			var snap domain.Snapshot
			if err := json.Unmarshal(cached, &snap); err == nil {
				return &snap, nil
			}
		}
	}

	snap, err := a.ledger.Snapshot(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if data, err := json.Marshal(snap); err == nil {
			if err := a.cache.SetSnapshot(ctx, eventID.String(), data, snapshotTTL); err != nil {
				a.logger.Warn("failed to cache snapshot: ", err)
			}
		}
	}
	if a.rosters != nil {
		if err := a.rosters.Upsert(ctx, *snap); err != nil {
			a.logger.Warn("failed to refresh roster: ", err)
		}
	}
	return snap, nil
}

// SnapshotAll fans out snapshot reads for a set of events.
func (a *Aggregator) SnapshotAll(ctx context.Context, eventIDs []uuid.UUID) ([]domain.Snapshot, error) {
	snaps := make([]domain.Snapshot, len(eventIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range eventIDs {
		i, id := i, id
		g.Go(func() error {
			snap, err := a.Snapshot(gctx, id)
			if err != nil {
				return err
			}
			snaps[i] = *snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snaps, nil
}
