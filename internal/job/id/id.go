// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

const prefix = "job_"

// Generate creates a new unique job ID.
// Format: job_<uuidv7>, so IDs sort by creation time.
// Example: job_01928c3e-5f7a-7b3c-9d2e-8f1a2b3c4d5e
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails.
		u = uuid.New()
	}
	return prefix + u.String()
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return false
	}
	return uuid.Validate(rest) == nil
}
