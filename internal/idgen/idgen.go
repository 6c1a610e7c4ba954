// Package idgen provides identifier generation for the partitioned id space.
//
// Records created on-device get a local-only identifier until the central
// service acknowledges the create and assigns a server-confirmed identifier.
// The two spaces must never collide, so local identifiers carry a reserved
// prefix that the server never issues.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LocalPrefix marks identifiers generated on-device. The remote service never
// assigns identifiers with this prefix.
const LocalPrefix = "local-"

// NewLocalID generates a new local-only identifier.
func NewLocalID() string {
	return LocalPrefix + uuid.New().String()
}

// IsLocal reports whether id belongs to the local-only namespace.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// ValidateServerID returns an error if id is empty or intrudes into the
// local-only namespace.
func ValidateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("server id is empty")
	}
	if IsLocal(id) {
		return fmt.Errorf("server id %q uses the reserved local prefix", id)
	}
	return nil
}
