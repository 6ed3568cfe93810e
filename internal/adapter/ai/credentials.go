// Package ai provides the upstream credential pool, the failover controller
// that rotates through it, and the evaluator that decides whether a generated
// answer can be returned to the caller.
package ai

import "strings"

// credentialSeparator delimits entries in the raw configuration value.
const credentialSeparator = ","

// Credentials is an ordered, immutable pool of upstream API keys.
// Index position defines rotation order.
type Credentials struct {
	keys []string
}

// LoadCredentials splits raw on commas, trims each entry and drops blanks,
// preserving order. An empty result is valid: the service still starts and
// every generation reports a configuration error.
func LoadCredentials(raw string) Credentials {
	return NewCredentials(strings.Split(raw, credentialSeparator)...)
}

// NewCredentials builds a pool from already split keys, applying the same normalisation.
func NewCredentials(keys ...string) Credentials {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k)
	}
	return Credentials{keys: out}
}

// Len returns the pool size.
func (c Credentials) Len() int { return len(c.keys) }

// Empty reports whether no credential is configured.
func (c Credentials) Empty() bool { return len(c.keys) == 0 }

// At returns the credential at index i.
func (c Credentials) At(i int) string { return c.keys[i] }

// Keys returns a copy of the pool in rotation order.
func (c Credentials) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}
