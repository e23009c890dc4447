package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EncodeDeps serializes a dependency id set for single-column storage.
func EncodeDeps(deps []uuid.UUID) string {
	if len(deps) == 0 {
		return ""
	}
	parts := make([]string, len(deps))
	for i, id := range deps {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// DecodeDeps parses a dependency id set stored by EncodeDeps.
func DecodeDeps(s string) ([]uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	deps := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("bad dependency id %q: %w", part, err)
		}
		deps = append(deps, id)
	}
	return deps, nil
}
