package epubflat

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// hrefWithoutFragment returns the href with the fragment (#...) removed.
func hrefWithoutFragment(href string) string {
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		return href[:idx]
	}
	return href
}

// fragment returns the "#..." suffix of href, or "" if it has none.
func fragment(href string) string {
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		return href[idx:]
	}
	return ""
}

// resolveHref resolves a directory-relative reference against baseDir and
// returns the resulting filesystem path. The fragment is dropped and
// percent-escapes are decoded. If the reference is absolute, carries a URI
// scheme, or escapes root, an empty string is returned.
func resolveHref(root, baseDir, href string) string {
	href = strings.TrimSpace(hrefWithoutFragment(href))
	if href == "" || strings.HasPrefix(href, "/") || hasURIScheme(href) {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	joined := filepath.Join(baseDir, filepath.FromSlash(path.Clean(href)))
	if !within(root, joined) {
		return ""
	}
	return joined
}

// within reports whether p lies inside root (or is root itself).
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

// hasURIScheme reports whether s starts with a URI scheme like "http:",
// "mailto:" or "data:".
func hasURIScheme(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	// RFC 3986: URI scheme must start with a letter.
	if !((s[0] >= 'A' && s[0] <= 'Z') || (s[0] >= 'a' && s[0] <= 'z')) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ':' {
			return i > 1
		}
		if !(c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return false
}
