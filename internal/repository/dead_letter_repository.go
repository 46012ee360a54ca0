package repository

import (
	"context"
	"time"

	"event-integrations/internal/domain/integration"
)

// DeadLetterRepository stores messages the dispatch pipeline gave up on.
type DeadLetterRepository interface {
	Insert(ctx context.Context, dl *integration.DeadLetter) error
	// List returns the newest dead letters of type t. A zero t lists every type.
	List(ctx context.Context, t integration.Type, limit int) ([]*integration.DeadLetter, error)
	Get(ctx context.Context, id string) (*integration.DeadLetter, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
