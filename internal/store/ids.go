package store

import (
	"crypto/md5"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// UUIDFromString derives a stable UUID from an arbitrary string: the MD5
// digest of its UTF-8 bytes read as a UUID. Used for conversation ids given
// as free text and for embedding ids derived from content.
func UUIDFromString(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, errors.New("string ID cannot be empty")
	}
	sum := md5.Sum([]byte(s))
	return uuid.Parse(hex.EncodeToString(sum[:]))
}
