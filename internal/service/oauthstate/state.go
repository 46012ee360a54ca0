// Package oauthstate builds and verifies the state parameter carried through
// an integration's OAuth authorization round trip.
//
// The state has the form "<integration id>.<org hash>.<issued unix seconds>".
// The org hash binds the state to the organization that started the flow
// without putting the organization id itself on the wire.
package oauthstate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"event-integrations/internal/domain/integration"

	"github.com/google/uuid"
)

// MaxAge is how long a state stays valid after it was issued.
const MaxAge = 20 * time.Minute

// hashLength is the number of hex characters kept from the SHA-256 digest.
const hashLength = 12

// Clock abstracts the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// State is the decoded OAuth state for one integration.
type State struct {
	IntegrationID      uuid.UUID
	OrganizationIDHash string
	Issued             time.Time
}

// FromIntegration creates a state for the integration, issued now.
func FromIntegration(i integration.Integration, clock Clock) *State {
	return &State{
		IntegrationID:      i.ID,
		OrganizationIDHash: hashOrganization(i.OrganizationID),
		Issued:             clock.Now().Truncate(time.Second),
	}
}

// String formats the state for the authorization URL.
func (s *State) String() string {
	return s.IntegrationID.String() + "." + s.OrganizationIDHash + "." + strconv.FormatInt(s.Issued.Unix(), 10)
}

// FromString parses a state returned by the provider. It returns nil when the
// value is malformed or older than MaxAge.
func FromString(value string, clock Clock) *State {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return nil
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return nil
	}

	if !isHash(parts[1]) {
		return nil
	}

	seconds, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil
	}
	issued := time.Unix(seconds, 0)

	if clock.Now().Sub(issued) > MaxAge {
		return nil
	}

	return &State{
		IntegrationID:      id,
		OrganizationIDHash: parts[1],
		Issued:             issued,
	}
}

// ValidateOrg reports whether the state was issued for organizationID.
func (s *State) ValidateOrg(organizationID string) bool {
	expected := hashOrganization(organizationID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(s.OrganizationIDHash)) == 1
}

func hashOrganization(organizationID string) string {
	sum := sha256.Sum256([]byte(organizationID))
	return hex.EncodeToString(sum[:])[:hashLength]
}

func isHash(s string) bool {
	if len(s) != hashLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
