package util

import "github.com/google/uuid"

// NewID returns "<prefix>-<uuid v4>", unique enough to correlate one test action.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
