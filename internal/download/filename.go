package download

import (
	"strings"

	"github.com/JakeFAU/page-downloader/internal/hash/sha256"
)

const (
	// maxBaseLen bounds the name before the hash suffix is appended.
	maxBaseLen = 200
	fileSuffix = ".html"
	emptyName  = "page"
	emptyPart  = "x"
)

// Filename maps a URL to a filesystem-safe file name. It never fails and is a
// pure function of its input.
//
// The scheme and fragment are dropped, the host is lower-cased, and the host
// plus each path segment are sanitized and joined with "_". A URL with no path
// segments but a query string gets an "_index" base. Whenever the URL has path
// segments or a query, an 8-digit hash of the raw URL is appended so distinct
// URLs sharing a sanitized prefix do not collide. Bare-host URLs carry no hash,
// so two hosts that sanitize identically share a name.
func Filename(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		rest = rest[:i]
	}
	query := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}

	host, path := rest, "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, path = rest[:i], rest[i:]
	}

	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, sanitize(seg))
		}
	}

	base := sanitize(strings.ToLower(host))
	switch {
	case len(segments) > 0:
		base += "_" + strings.Join(segments, "_")
	case query != "":
		base += "_index"
	}
	if len(base) > maxBaseLen {
		base = strings.TrimRight(base[:maxBaseLen], "_")
	}

	name := base
	if len(segments) > 0 || query != "" {
		name += "_" + sha256.Short(rawURL)
	}
	name = strings.Trim(name, "_.")
	if name == "" {
		name = emptyName
	}
	return name + fileSuffix
}

// sanitize keeps ASCII letters, digits, '.', '-' and '_'. Each run of other
// bytes becomes a single '_', literal underscores are kept as they are, and
// edge underscores are trimmed. An empty result becomes "x".
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafe(c) {
			b.WriteByte(c)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return emptyPart
	}
	return out
}

func isSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '.', c == '-', c == '_':
		return true
	default:
		return false
	}
}
