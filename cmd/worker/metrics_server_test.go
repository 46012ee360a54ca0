package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"event-integrations/internal/config"
	"event-integrations/internal/domain/integration"
	"event-integrations/internal/infra/adapter/persistence/postgres"
	"event-integrations/internal/infra/notifier"
	"event-integrations/internal/infra/transport/memory"
	"event-integrations/internal/usecase/dispatch"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deadLetterColumns = []string{
	"id", "integration_type", "message_id", "organization_id", "retry_count",
	"cause", "category", "reason", "payload", "created_at",
}

var storedAt = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func addDeadLetterRow(rows *sqlmock.Rows, id uuid.UUID, typ, messageID string) *sqlmock.Rows {
	return rows.AddRow(id.String(), typ, messageID, "org-1", 6,
		"retries_exhausted", "service_unavailable", "provider responded 503",
		[]byte(`{"message_id":"`+messageID+`"}`), storedAt)
}

func serve(t *testing.T, mux http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// failingRepo is a dead letter repository whose reads always fail.
type failingRepo struct{ err error }

func (f failingRepo) Insert(context.Context, *integration.DeadLetter) error { return f.err }
func (f failingRepo) List(context.Context, integration.Type, int) ([]*integration.DeadLetter, error) {
	return nil, f.err
}
func (f failingRepo) Get(context.Context, string) (*integration.DeadLetter, error) { return nil, f.err }
func (f failingRepo) PurgeOlderThan(context.Context, time.Time) (int64, error) { return 0, f.err }

func TestListenersHandler(t *testing.T) {
	listeners, err := config.NewListenerConfigurations(config.DefaultSettings())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memory.NewBus(memory.DefaultConfig())
	t.Cleanup(func() { _ = bus.Close() })

	host, err := dispatch.NewHost(listeners, senderLookup(notifier.NewDryRunRegistry(logger)), dispatch.Dependencies{
		Transport:   bus,
		Topology:    dispatch.QueueTopology{},
		Store:       dispatch.NewStaticConfigurationStore(),
		Renderer:    dispatch.NewJSONRenderer(),
		DeadLetters: dispatch.LoggingDeadLetterSink{},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	listenersHandler(host)(rec, httptest.NewRequest(http.MethodGet, "/listeners", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []ListenerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, len(listeners))

	for _, status := range got {
		assert.NotEmpty(t, status.IntegrationType)
		assert.Len(t, status.Subscriptions, 3)
		assert.NotEqual(t, status.Dispatch, status.Retry)
		assert.Equal(t, config.DefaultMaxRetries, status.MaxRetries)
	}
}

func TestSenderLookup(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lookup := senderLookup(notifier.NewDryRunRegistry(logger))

	for _, typ := range integration.Types() {
		s, ok := lookup(typ)
		require.True(t, ok, typ.String())
		assert.Equal(t, typ, s.Type())
	}

	_, ok := lookup(integration.Type(0))
	assert.False(t, ok)
}

func TestDeadLettersEndpoint_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	first, second := uuid.New(), uuid.New()
	rows := sqlmock.NewRows(deadLetterColumns)
	addDeadLetterRow(rows, first, "slack", "m-1")
	addDeadLetterRow(rows, second, "slack", "m-2")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM integration_dead_letters`)).
		WithArgs("slack", 2).
		WillReturnRows(rows)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := newMetricsMux(logger, nil, postgres.NewDeadLetterRepo(db))

	rec := serve(t, mux, "/deadletters?type=slack&limit=2")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []DeadLetterStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, first.String(), got[0].ID)
	assert.Equal(t, "slack", got[0].IntegrationType)
	assert.Equal(t, "retries_exhausted", got[0].Cause)
	assert.Equal(t, "m-2", got[1].MessageID)
	assert.Empty(t, got[0].Payload, "list omits payloads")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLettersEndpoint_BadQuery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := newMetricsMux(logger, nil, failingRepo{err: errors.New("must not be called")})

	for _, target := range []string{
		"/deadletters?type=pagerduty",
		"/deadletters?limit=0",
		"/deadletters?limit=many",
		"/deadletters?limit=100000",
		"/deadletters/not-a-uuid",
	} {
		assert.Equal(t, http.StatusBadRequest, serve(t, mux, target).Code, target)
	}
}

func TestDeadLettersEndpoint_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(addDeadLetterRow(sqlmock.NewRows(deadLetterColumns), id, "webhook", "m-9"))
	missing := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WithArgs(missing).
		WillReturnRows(sqlmock.NewRows(deadLetterColumns))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := newMetricsMux(logger, nil, postgres.NewDeadLetterRepo(db))

	rec := serve(t, mux, "/deadletters/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var got DeadLetterStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "webhook", got.IntegrationType)
	assert.Equal(t, `{"message_id":"m-9"}`, got.Payload)
	assert.True(t, got.CreatedAt.Equal(storedAt))

	assert.Equal(t, http.StatusNotFound, serve(t, mux, "/deadletters/"+missing.String()).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLettersEndpoint_StoreErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	open := newMetricsMux(logger, nil, failingRepo{err: gobreaker.ErrOpenState})
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, open, "/deadletters").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, open, "/deadletters/"+uuid.NewString()).Code)

	broken := newMetricsMux(logger, nil, failingRepo{err: errors.New("connection reset")})
	assert.Equal(t, http.StatusInternalServerError, serve(t, broken, "/deadletters").Code)
}

func TestDeadLettersEndpoint_AbsentWithoutStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := newMetricsMux(logger, nil, nil)

	assert.Equal(t, http.StatusNotFound, serve(t, mux, "/deadletters").Code)
}
