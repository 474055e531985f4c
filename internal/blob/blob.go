// Package blob is the content-addressed store behind post content and
// media refs. A ref is "0x" followed by the hex SHA-256 of the payload, so
// identical payloads share one entry and a Put is idempotent.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

// Store persists payloads under their content id.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// ContentID returns the ref for data. An empty payload maps to
// models.EmptyRef.
func ContentID(data []byte) string {
	if len(data) == 0 {
		return models.EmptyRef
	}
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// ValidID reports whether id has the shape of a content id.
func ValidID(id string) bool {
	if len(id) != 66 || !strings.HasPrefix(id, "0x") {
		return false
	}
	_, err := hex.DecodeString(id[2:])
	return err == nil
}

func checkID(op, id string) error {
	if !ValidID(id) {
		return apperr.New(apperr.KindValidation, op, "malformed content id")
	}
	return nil
}

func notFound(op string) error {
	return apperr.New(apperr.KindNotFound, op, "blob not found")
}
