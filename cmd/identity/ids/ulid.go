// Package ids provides the ULID primitives used for token ids, websocket client ids and work-order ids.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars) stamped with now.
// ULIDs sort lexicographically by creation time, which keeps logs and token ids ordered.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot surface an error (ids for log correlation).
// It falls back to ulid.Make, which never fails.
func MustULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		return ulid.Make().String()
	}
	return id
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
