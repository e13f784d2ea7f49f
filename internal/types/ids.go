package types

import (
	"time"

	"github.com/google/uuid"
)

// NewEventID generates a UUIDv7 event identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewEventID() EventID {
	return EventID(uuid.Must(uuid.NewV7()).String())
}

// NewSubscriberID generates a UUIDv7 subscriber identifier.
func NewSubscriberID() SubscriberID {
	return SubscriberID(uuid.Must(uuid.NewV7()).String())
}

// ParseSubscriberID validates and converts a string to SubscriberID.
func ParseSubscriberID(s string) (SubscriberID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return SubscriberID(s), nil
}

// EventIDTime extracts the timestamp embedded in a UUIDv7 event ID.
// Returns zero time for other IDs; caller should check IsZero().
func EventIDTime(id EventID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil || u.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
