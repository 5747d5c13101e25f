package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ProvisionalPrefix marks ids minted locally for messages the server has not confirmed yet.
const ProvisionalPrefix = "tmp"

// GenerateSecureID generates a cryptographically secure ID with the given prefix and length.
// Uses only alphanumeric characters (0-9, a-z) - no dashes or special characters.
func GenerateSecureID(prefix string, length int) (string, error) {
	bytes := make([]byte, length*2)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	const charset = "0123456789abcdefghijklmnopqrstuvwxyz"
	encoded := make([]byte, length)
	for i := 0; i < length; i++ {
		encoded[i] = charset[bytes[i]%36]
	}

	return fmt.Sprintf("%s_%s", prefix, string(encoded)), nil
}

// NewProvisionalID returns a local id for an optimistic message entry.
// Ids are ULIDs, so ids minted later in the same process sort after earlier ones.
func NewProvisionalID() string {
	return ProvisionalPrefix + "_" + strings.ToLower(ulid.Make().String())
}

// NewEntityID returns a server-side id for conversations and messages.
func NewEntityID() string {
	return uuid.NewString()
}

// IsUUID reports whether id parses as a UUID.
func IsUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
