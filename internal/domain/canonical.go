package domain

import (
	"net/url"
	"strings"
)

// NormalizeCanonicalURL returns the normalized form used to store a project URL.
// Scheme and host are lowercased; userinfo, trailing slashes and fragments are dropped.
// Percent-escapes in the path are kept, so an escaped slash never collapses into a path separator.
// Unparseable values and values without a host normalize to "".
func NormalizeCanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.Scheme == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	escaped := strings.TrimRight(u.EscapedPath(), "/")
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return ""
	}
	u.Path = decoded
	u.RawPath = escaped
	return u.String()
}

// CanonicalKey returns the case-insensitive matching key for a URL.
func CanonicalKey(raw string) string {
	return strings.ToLower(NormalizeCanonicalURL(raw))
}
