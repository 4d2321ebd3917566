package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewToken returns an opaque token for the client or session side of a link.
func NewToken() string {
	return uuid.NewString()
}

// NewCodeCandidate returns size hex characters of entropy for a pairing code
// candidate. Uniqueness among unexpired codes is enforced by the allocator,
// not here.
func NewCodeCandidate(size int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	for len(raw) < size {
		raw += strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return raw[:size]
}
