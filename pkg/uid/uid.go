package uid

import "github.com/google/uuid"

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// NewRunID generates an identifier for a sync run.
func NewRunID() string {
	return "run_" + uuid.New().String()
}
