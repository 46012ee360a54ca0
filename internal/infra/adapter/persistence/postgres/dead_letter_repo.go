package postgres

import (
	"context"
	"fmt"
	"time"

	"event-integrations/internal/domain/integration"
	"event-integrations/internal/observability/metrics"
	"event-integrations/internal/repository"
	"event-integrations/internal/resilience/circuitbreaker"
	"event-integrations/internal/resilience/retry"

	"github.com/google/uuid"
)

// defaultListLimit caps List when the caller passes a non-positive limit.
const defaultListLimit = 100

type DeadLetterRepo struct {
	db          circuitbreaker.SQLExecutor
	retryConfig retry.Config
}

// NewDeadLetterRepo accepts a *sql.DB or a *circuitbreaker.DBCircuitBreaker.
func NewDeadLetterRepo(db circuitbreaker.SQLExecutor) repository.DeadLetterRepository {
	return &DeadLetterRepo{db: db, retryConfig: retry.DBConfig()}
}

func observe(operation string, start time.Time) {
	metrics.RecordDBQuery(operation, time.Since(start))
}

func scanDeadLetter(scan func(dest ...any) error) (*integration.DeadLetter, error) {
	var (
		dl       integration.DeadLetter
		typeName string
		cause    string
	)
	if err := scan(
		&dl.ID, &typeName, &dl.MessageID, &dl.OrganizationID, &dl.RetryCount,
		&cause, &dl.Category, &dl.Reason, &dl.Payload, &dl.CreatedAt,
	); err != nil {
		return nil, err
	}
	t, err := integration.ParseType(typeName)
	if err != nil {
		return nil, err
	}
	dl.Type = t
	dl.Cause = integration.DeadLetterCause(cause)
	return &dl, nil
}

// Insert stores dl, retrying transient database errors. Inserting the same
// ID twice is a no-op so that a redelivered message is recorded once.
func (repo *DeadLetterRepo) Insert(ctx context.Context, dl *integration.DeadLetter) error {
	const query = `
INSERT INTO integration_dead_letters
    (id, integration_type, message_id, organization_id, retry_count, cause, category, reason, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`

	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}

	defer observe("dead_letter_insert", time.Now())

	err := retry.WithBackoff(ctx, repo.retryConfig, func() error {
		_, err := repo.db.ExecContext(ctx, query,
			dl.ID, dl.Type.String(), dl.MessageID, dl.OrganizationID, dl.RetryCount,
			string(dl.Cause), dl.Category, dl.Reason, dl.Payload, dl.CreatedAt,
		)
		if circuitbreaker.IsRejection(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

func (repo *DeadLetterRepo) List(ctx context.Context, t integration.Type, limit int) ([]*integration.DeadLetter, error) {
	const query = `
SELECT id, integration_type, message_id, organization_id, retry_count, cause, category, reason, payload, created_at
FROM integration_dead_letters
WHERE ($1 = '' OR integration_type = $1)
ORDER BY created_at DESC
LIMIT $2`

	defer observe("dead_letter_list", time.Now())

	if limit <= 0 {
		limit = defaultListLimit
	}
	typeName := ""
	if t.Valid() {
		typeName = t.String()
	}

	rows, err := repo.db.QueryContext(ctx, query, typeName, limit)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	letters := make([]*integration.DeadLetter, 0, limit)
	for rows.Next() {
		dl, err := scanDeadLetter(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return letters, nil
}

func (repo *DeadLetterRepo) Get(ctx context.Context, id string) (*integration.DeadLetter, error) {
	const query = `
SELECT id, integration_type, message_id, organization_id, retry_count, cause, category, reason, payload, created_at
FROM integration_dead_letters
WHERE id = $1
LIMIT 1`

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("Get: invalid id %q: %w", id, err)
	}

	defer observe("dead_letter_get", time.Now())

	rows, err := repo.db.QueryContext(ctx, query, parsed)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("Get: %w", err)
		}
		return nil, nil
	}
	dl, err := scanDeadLetter(rows.Scan)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return dl, nil
}

// PurgeOlderThan deletes dead letters created before cutoff and returns how
// many were removed.
func (repo *DeadLetterRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM integration_dead_letters WHERE created_at < $1`

	defer observe("dead_letter_purge", time.Now())

	res, err := repo.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("PurgeOlderThan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("PurgeOlderThan: %w", err)
	}
	return n, nil
}
