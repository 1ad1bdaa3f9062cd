package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a ULID string. IDs sort by creation time.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether id is a well-formed ULID. Handlers use it to
// reject malformed IDs before touching the store.
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// IDTime returns the creation time encoded in id.
func IDTime(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}
