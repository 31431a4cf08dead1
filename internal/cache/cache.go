// Package cache holds the flag definition caches used by the evaluator: an
// in-process otter cache and a shared Redis cache.
package cache

import (
	"errors"
	"strings"
)

// DefaultKeyPrefix namespaces flag entries in shared caches.
const DefaultKeyPrefix = "flagchain"

var errNilClient = errors.New("cache client is nil")

func normalizePrefix(prefix string) string {
	if trimmed := strings.TrimSpace(prefix); trimmed != "" {
		return strings.TrimSuffix(trimmed, ":")
	}
	return DefaultKeyPrefix
}
