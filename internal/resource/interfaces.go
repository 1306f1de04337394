package resource

import "time"

// Hasher computes digests for integrity verification and idempotent keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces message IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
