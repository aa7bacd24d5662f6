// Package identity derives the per-client identifiers the rate limiter counts
// against. Identifiers are opaque: a hash of the network address plus a
// normalized client signature, so raw addresses never reach the counter store.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"

	"leadgate/pkg/platform/privacy"
)

const (
	prefixDerived = "id:"
	prefixIP      = "ip:"
)

// Derive returns "id:" followed by the hex SHA-256 of the client address and
// its normalized user agent. Minor browser upgrades keep the same identifier.
func Derive(ip, userAgent string) string {
	data := fmt.Sprintf("%s|%s", normalizeIP(ip), Signature(userAgent))
	hash := sha256.Sum256([]byte(data))
	return prefixDerived + hex.EncodeToString(hash[:])
}

// ForIP returns the address-only identifier, used where the client signature
// is meaningless (server-to-server webhooks).
func ForIP(ip string) string {
	return prefixIP + normalizeIP(ip)
}

// Signature reduces a User-Agent header to browser|major|os|platform.
func Signature(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "unknown|unknown|unknown|unknown"
	}

	ua := useragent.New(userAgent)
	browser, version := ua.Browser()

	majorVersion := "unknown"
	if major, _, _ := strings.Cut(version, "."); major != "" {
		majorVersion = major
	}

	platform := "desktop"
	if ua.Bot() {
		platform = "bot"
	} else if ua.Mobile() {
		platform = "mobile"
	}

	return strings.Join([]string{
		orUnknown(browser),
		majorVersion,
		orUnknown(ua.OS()),
		platform,
	}, "|")
}

func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "unknown"
	}
	return ip
}

func orUnknown(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}

// Redact prepares an identifier for logs: "ip:" identifiers are reduced to
// their network prefix, hashed identifiers pass through unchanged.
func Redact(identifier string) string {
	if ip, ok := strings.CutPrefix(identifier, prefixIP); ok {
		return prefixIP + privacy.AnonymizeIP(ip)
	}
	return identifier
}
