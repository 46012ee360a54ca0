package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"event-integrations/internal/domain/integration"
	"event-integrations/internal/repository"
	"event-integrations/internal/resilience/circuitbreaker"
	"event-integrations/internal/usecase/dispatch"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxDeadLetterPage caps the limit query parameter of /deadletters.
const maxDeadLetterPage = 500

// ListenerStatus describes the broker routes of one listener.
type ListenerStatus struct {
	IntegrationType string   `json:"integration_type"`
	MaxRetries      int      `json:"max_retries"`
	Subscriptions   []string `json:"subscriptions"`
	Dispatch        string   `json:"dispatch"`
	Retry           string   `json:"retry"`
}

// DeadLetterStatus is the JSON form of a stored dead letter. Payload is only
// filled in by the single-letter endpoint.
type DeadLetterStatus struct {
	ID              string    `json:"id"`
	IntegrationType string    `json:"integration_type"`
	MessageID       string    `json:"message_id"`
	OrganizationID  string    `json:"organization_id"`
	RetryCount      int       `json:"retry_count"`
	Cause           string    `json:"cause"`
	Category        string    `json:"category,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Payload         string    `json:"payload,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func newDeadLetterStatus(dl *integration.DeadLetter) DeadLetterStatus {
	return DeadLetterStatus{
		ID:              dl.ID.String(),
		IntegrationType: dl.Type.String(),
		MessageID:       dl.MessageID,
		OrganizationID:  dl.OrganizationID,
		RetryCount:      dl.RetryCount,
		Cause:           string(dl.Cause),
		Category:        dl.Category,
		Reason:          dl.Reason,
		CreatedAt:       dl.CreatedAt,
	}
}

// startMetricsServer serves /metrics and /listeners on port until ctx is
// cancelled, then shuts down within 5 seconds. The read-only /deadletters
// endpoints are added when deadLetters is not nil.
func startMetricsServer(ctx context.Context, logger *slog.Logger, port int, host *dispatch.Host, deadLetters repository.DeadLetterRepository) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newMetricsMux(logger, host, deadLetters),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
			return err
		}
		logger.Info("metrics server stopped")
		return http.ErrServerClosed
	case err := <-errChan:
		return err
	}
}

func newMetricsMux(logger *slog.Logger, host *dispatch.Host, deadLetters repository.DeadLetterRepository) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/listeners", listenersHandler(host))
	if deadLetters != nil {
		mux.HandleFunc("GET /deadletters", deadLettersHandler(logger, deadLetters))
		mux.HandleFunc("GET /deadletters/{id}", deadLetterHandler(logger, deadLetters))
	}
	return mux
}

// listenersHandler reports the routes every listener consumes and publishes to.
func listenersHandler(host *dispatch.Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]ListenerStatus, 0, len(host.Listeners()))
		for _, l := range host.Listeners() {
			routes := l.Routes()
			subs := make([]string, 0, 3)
			for _, sub := range routes.Subscriptions() {
				subs = append(subs, sub.Topic+"/"+sub.Name)
			}
			statuses = append(statuses, ListenerStatus{
				IntegrationType: l.Config().Type.String(),
				MaxRetries:      l.Config().MaxRetries,
				Subscriptions:   subs,
				Dispatch:        routes.Dispatch.String(),
				Retry:           routes.Retry.String(),
			})
		}

		writeJSON(w, http.StatusOK, statuses)
	}
}

// deadLettersHandler lists the newest dead letters. Query parameters:
// type filters by integration type, limit bounds the page size.
func deadLettersHandler(logger *slog.Logger, repo repository.DeadLetterRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t integration.Type
		if raw := r.URL.Query().Get("type"); raw != "" {
			parsed, err := integration.ParseType(raw)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			t = parsed
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxDeadLetterPage {
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxDeadLetterPage))
				return
			}
			limit = n
		}

		letters, err := repo.List(r.Context(), t, limit)
		if err != nil {
			writeRepoError(w, logger, "list dead letters", err)
			return
		}

		statuses := make([]DeadLetterStatus, 0, len(letters))
		for _, dl := range letters {
			statuses = append(statuses, newDeadLetterStatus(dl))
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

// deadLetterHandler returns one dead letter with its payload.
func deadLetterHandler(logger *slog.Logger, repo repository.DeadLetterRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := uuid.Parse(id); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid dead letter id")
			return
		}

		dl, err := repo.Get(r.Context(), id)
		if err != nil {
			writeRepoError(w, logger, "get dead letter", err)
			return
		}
		if dl == nil {
			writeJSONError(w, http.StatusNotFound, "dead letter not found")
			return
		}

		status := newDeadLetterStatus(dl)
		status.Payload = string(dl.Payload)
		writeJSON(w, http.StatusOK, status)
	}
}

func writeRepoError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if circuitbreaker.IsRejection(err) {
		writeJSONError(w, http.StatusServiceUnavailable, "dead letter store unavailable")
		return
	}
	logger.Error("failed to "+op, slog.Any("error", err))
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
