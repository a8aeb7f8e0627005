package idgen

import (
	"github.com/google/uuid"
)

// New generates a unique request ID for API tracing
func New() string {
	return uuid.New().String()
}
