// Package store defines the persistence interfaces the generation
// pipeline consumes. Durable storage is owned by an external
// collaborator; the core only reads and writes through these interfaces.
// Memory is the reference implementation used by tests and dry runs.
package store

import (
	"context"

	"github.com/norm/timeline-daemon/internal/timeline"
)

// ObservationStore persists transcribed observations.
type ObservationStore interface {
	InsertObservations(ctx context.Context, obs []timeline.Observation) error

	// ObservationsInRange returns observations overlapping [startTs, endTs),
	// ordered by start time.
	ObservationsInRange(ctx context.Context, startTs, endTs int64) ([]timeline.Observation, error)
}

// CardStore persists activity cards per day. Cards inside the sliding
// window are wholesale replaced each batch.
type CardStore interface {
	// CardsInRange returns the cards for day overlapping r (minutes since
	// midnight, rollover-corrected), ordered by start.
	CardsInRange(ctx context.Context, day string, r timeline.TimeRange) ([]timeline.ActivityCard, error)

	// ReplaceCardsInRange deletes the day's cards overlapping r and
	// inserts cards in their place.
	ReplaceCardsInRange(ctx context.Context, day string, r timeline.TimeRange, cards []timeline.ActivityCard) error
}

// Store combines the persistence surfaces the pipeline needs.
type Store interface {
	ObservationStore
	CardStore
}
