package models

import (
	"strings"
)

// KeyPrefix namespaces counter keys in shared key-value stores.
const KeyPrefix = "ratelimit"

// Key is a value object encapsulating counter key construction for key-value
// backends. It centralizes the key format and sanitization to prevent key
// collision attacks.
type Key struct {
	action     Action
	identifier string
}

// NewKey creates the storage key for one (identifier, action) pair.
func NewKey(identifier string, action Action) Key {
	return Key{
		action:     Action(sanitizeKeySegment(string(action))),
		identifier: sanitizeKeySegment(identifier),
	}
}

// String returns the formatted key for storage lookup.
func (k Key) String() string {
	return KeyPrefix + ":" + string(k.action) + ":" + k.identifier
}

// sanitizeKeySegment escapes delimiter characters in key segments so that
// user-controlled identifiers containing ':' cannot address adjacent counters.
//
// Escape rules (order matters):
//  1. Escape '_' to '__' (escape the escape character first)
//  2. Escape ':' to '_c' (escape the delimiter)
//
// Examples:
//   - "ip:1.2.3.4"  → "ip_c1.2.3.4"
//   - "user_admin"  → "user__admin"
//   - "user_:admin" → "user___cadmin"
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
