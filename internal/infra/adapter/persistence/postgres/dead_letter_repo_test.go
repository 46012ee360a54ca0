package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"event-integrations/internal/domain/integration"
	"event-integrations/internal/infra/adapter/persistence/postgres"
	"event-integrations/internal/resilience/circuitbreaker"
)

/* ──────────────────────────────── helpers ──────────────────────────────── */

var deadLetterColumns = []string{
	"id", "integration_type", "message_id", "organization_id", "retry_count",
	"cause", "category", "reason", "payload", "created_at",
}

func sampleDeadLetter() *integration.DeadLetter {
	return &integration.DeadLetter{
		ID:             uuid.MustParse("6f1c2d9e-4a7b-4c1d-9b0e-2f3a4b5c6d7e"),
		Type:           integration.Slack,
		MessageID:      "m-1",
		OrganizationID: "org-1",
		RetryCount:     6,
		Cause:          integration.CauseRetriesExhausted,
		Category:       "service_unavailable",
		Reason:         "slack responded 503",
		Payload:        []byte(`{"message_id":"m-1"}`),
		CreatedAt:      time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func deadLetterRow(rows *sqlmock.Rows, dl *integration.DeadLetter) *sqlmock.Rows {
	return rows.AddRow(
		dl.ID.String(), dl.Type.String(), dl.MessageID, dl.OrganizationID, dl.RetryCount,
		string(dl.Cause), dl.Category, dl.Reason, dl.Payload, dl.CreatedAt,
	)
}

/* ──────────────────────────────── 1. Insert ──────────────────────────────── */

func TestDeadLetterRepo_Insert(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	dl := sampleDeadLetter()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO integration_dead_letters`)).
		WithArgs(dl.ID, "slack", "m-1", "org-1", 6, "retries_exhausted", "service_unavailable",
			"slack responded 503", dl.Payload, dl.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := postgres.NewDeadLetterRepo(db)
	if err := repo.Insert(context.Background(), dl); err != nil {
		t.Fatalf("Insert err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeadLetterRepo_Insert_FillsIdentity(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO integration_dead_letters`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	dl := &integration.DeadLetter{Type: integration.Webhook, Cause: integration.CauseUndecodable}
	repo := postgres.NewDeadLetterRepo(db)
	if err := repo.Insert(context.Background(), dl); err != nil {
		t.Fatalf("Insert err=%v", err)
	}
	if dl.ID == uuid.Nil {
		t.Error("Insert did not assign an id")
	}
	if dl.CreatedAt.IsZero() {
		t.Error("Insert did not assign created_at")
	}
}

func TestDeadLetterRepo_Insert_RetriesThenFails(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	for i := 0; i < 3; i++ {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO integration_dead_letters`)).
			WillReturnError(sql.ErrConnDone)
	}

	repo := postgres.NewDeadLetterRepo(db)
	err := repo.Insert(context.Background(), sampleDeadLetter())
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("Insert err=%v, want ErrConnDone", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeadLetterRepo_Insert_OpenBreakerStopsRetrying(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	// One failure trips the breaker; the second attempt is rejected without
	// reaching the database.
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO integration_dead_letters`)).
		WillReturnError(sql.ErrConnDone)

	cfg := circuitbreaker.DBConfig()
	cfg.MinRequests = 1
	repo := postgres.NewDeadLetterRepo(circuitbreaker.NewDBCircuitBreakerWithConfig(db, cfg))

	err := repo.Insert(context.Background(), sampleDeadLetter())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Insert err=%v, want ErrOpenState", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

/* ──────────────────────────────── 2. List ──────────────────────────────── */

func TestDeadLetterRepo_List(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	want := sampleDeadLetter()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, integration_type`)).
		WithArgs("slack", 10).
		WillReturnRows(deadLetterRow(sqlmock.NewRows(deadLetterColumns), want))

	repo := postgres.NewDeadLetterRepo(db)
	got, err := repo.List(context.Background(), integration.Slack, 10)
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	if diff := cmp.Diff([]*integration.DeadLetter{want}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeadLetterRepo_List_AllTypesDefaultLimit(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, integration_type`)).
		WithArgs("", 100).
		WillReturnRows(sqlmock.NewRows(deadLetterColumns))

	repo := postgres.NewDeadLetterRepo(db)
	got, err := repo.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	if len(got) != 0 {
		t.Fatalf("List len=%d, want 0", len(got))
	}
}

func TestDeadLetterRepo_List_UnknownType(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	bad := sampleDeadLetter()
	rows := sqlmock.NewRows(deadLetterColumns).AddRow(
		bad.ID.String(), "fax", bad.MessageID, bad.OrganizationID, bad.RetryCount,
		string(bad.Cause), bad.Category, bad.Reason, bad.Payload, bad.CreatedAt,
	)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, integration_type`)).WillReturnRows(rows)

	repo := postgres.NewDeadLetterRepo(db)
	if _, err := repo.List(context.Background(), 0, 5); err == nil {
		t.Fatal("List should fail on an unknown integration type")
	}
}

/* ──────────────────────────────── 3. Get ──────────────────────────────── */

func TestDeadLetterRepo_Get(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	want := sampleDeadLetter()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, integration_type`)).
		WithArgs(want.ID).
		WillReturnRows(deadLetterRow(sqlmock.NewRows(deadLetterColumns), want))

	repo := postgres.NewDeadLetterRepo(db)
	got, err := repo.Get(context.Background(), want.ID.String())
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDeadLetterRepo_Get_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, integration_type`)).
		WillReturnRows(sqlmock.NewRows(deadLetterColumns))

	repo := postgres.NewDeadLetterRepo(db)
	got, err := repo.Get(context.Background(), uuid.NewString())
	if err != nil || got != nil {
		t.Fatalf("Get = %v, %v; want nil, nil", got, err)
	}
}

func TestDeadLetterRepo_Get_InvalidID(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	repo := postgres.NewDeadLetterRepo(db)
	if _, err := repo.Get(context.Background(), "not-a-uuid"); err == nil {
		t.Fatal("Get should reject an invalid id")
	}
}

/* ──────────────────────────────── 4. PurgeOlderThan ──────────────────────────────── */

func TestDeadLetterRepo_PurgeOlderThan(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM integration_dead_letters WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	repo := postgres.NewDeadLetterRepo(db)
	n, err := repo.PurgeOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeOlderThan err=%v", err)
	}
	if n != 42 {
		t.Fatalf("PurgeOlderThan = %d, want 42", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeadLetterRepo_PurgeOlderThan_Error(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM integration_dead_letters`)).
		WillReturnError(sql.ErrConnDone)

	repo := postgres.NewDeadLetterRepo(db)
	if _, err := repo.PurgeOlderThan(context.Background(), time.Now()); !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("PurgeOlderThan err=%v, want ErrConnDone", err)
	}
}
