// Package env reads process environment values outside envconfig, for the
// few settings needed before config.Load runs.
package env

import (
	"os"
	"strings"
)

// Get returns the trimmed value of key or fallback when unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// First returns the first non-blank value among keys, else fallback.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := Get(key, ""); val != "" {
			return val
		}
	}
	return fallback
}
