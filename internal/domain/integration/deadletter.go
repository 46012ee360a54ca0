package integration

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DeadLetterCause says why a message left the pipeline without being delivered.
type DeadLetterCause string

const (
	// CauseNonRetryable is a failure that cannot succeed without human remediation.
	CauseNonRetryable DeadLetterCause = "non_retryable"

	// CauseRetriesExhausted is a retryable failure whose RetryCount exceeded MaxRetries.
	CauseRetriesExhausted DeadLetterCause = "retries_exhausted"

	// CauseUndecodable is a payload that could not be decoded into a Message.
	CauseUndecodable DeadLetterCause = "undecodable"
)

// DeadLetter is the terminal record of a message that was not delivered.
type DeadLetter struct {
	ID             uuid.UUID
	Type           Type
	MessageID      string
	OrganizationID string
	RetryCount     int
	Cause          DeadLetterCause

	// Category is the last failure category name; empty for undecodable payloads.
	Category string
	Reason   string

	// Payload is the raw message body as received from the broker.
	Payload   []byte
	CreatedAt time.Time
}

// deadLetterNamespace scopes the name-based dead-letter IDs.
var deadLetterNamespace = uuid.MustParse("6f1c2d4e-8a3b-5c7d-9e0f-1a2b3c4d5e6f")

// DeadLetterID derives the record ID from the message identity, so a
// redelivered message maps onto the row already written for it.
func DeadLetterID(messageID string, retryCount int, cause DeadLetterCause) uuid.UUID {
	return uuid.NewSHA1(deadLetterNamespace, []byte(messageID+"/"+strconv.Itoa(retryCount)+"/"+string(cause)))
}

// PoisonDeadLetterID derives the record ID of an undecodable payload from its bytes.
func PoisonDeadLetterID(t Type, payload []byte) uuid.UUID {
	return uuid.NewSHA1(deadLetterNamespace, append([]byte(t.String()+"/"+string(CauseUndecodable)+"/"), payload...))
}

// NewDeadLetter records a failed delivery attempt of m.
func NewDeadLetter(m *Message, cause DeadLetterCause, result HandlerResult, payload []byte, at time.Time) *DeadLetter {
	return &DeadLetter{
		ID:             DeadLetterID(m.MessageID, m.RetryCount, cause),
		Type:           m.Type,
		MessageID:      m.MessageID,
		OrganizationID: m.OrganizationID,
		RetryCount:     m.RetryCount,
		Cause:          cause,
		Category:       result.CategoryName(),
		Reason:         result.FailureReason,
		Payload:        payload,
		CreatedAt:      at,
	}
}
