// Package util holds small helpers shared across packages.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// Entity id prefixes.
const (
	PrefixUser          = "usr"
	PrefixBoard         = "brd"
	PrefixList          = "lst"
	PrefixCard          = "crd"
	PrefixParticipation = "prt"
	PrefixTokenID       = "jti"
)

// NewID returns prefix_<uuid> with dashes removed. Version 7 uuids are used
// so ids sort roughly by creation time.
func NewID(prefix string) string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	id := strings.ReplaceAll(u.String(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewSecret returns an opaque 64 hex character token made of two random
// uuids. Unlike NewID it carries no timestamp.
func NewSecret() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
