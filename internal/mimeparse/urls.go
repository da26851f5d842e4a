package mimeparse

import (
	"regexp"
	"strings"
)

const maxURLLen = 2048

var (
	hrefRe = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)
	urlRe  = regexp.MustCompile(`(?i)(https?://|ftp://|mailto:)[^\s<>"']+`)
)

var acceptedSchemes = []string{"http://", "https://", "ftp://", "mailto:"}

// ExtractURLs collects links from html first, then from text, matching
// spec §4.5's "HTML first, then text" ordering, deduplicating while
// preserving first-seen order.
func ExtractURLs(html, text string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(u string) {
		u = trimURL(u)
		if u == "" || len(u) > maxURLLen {
			return
		}
		if !hasAcceptedScheme(u) {
			return
		}
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, m := range hrefRe.FindAllStringSubmatch(html, -1) {
		add(m[1])
	}
	for _, m := range urlRe.FindAllString(html, -1) {
		add(m)
	}
	for _, m := range urlRe.FindAllString(text, -1) {
		add(m)
	}

	return out
}

func hasAcceptedScheme(u string) bool {
	lower := strings.ToLower(u)
	for _, scheme := range acceptedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// trimURL trims trailing punctuation that is almost always prose, not
// part of the URL: a trailing comma/semicolon/bang, an unpaired closing
// paren, and a trailing period unless it directly follows a '/' (a "."
// path segment).
func trimURL(u string) string {
	u = strings.TrimSpace(u)
	for {
		if u == "" {
			return u
		}
		last := u[len(u)-1]
		switch last {
		case ',', ';', '!':
			u = u[:len(u)-1]
			continue
		case ')':
			if strings.Count(u, "(") < strings.Count(u, ")") {
				u = u[:len(u)-1]
				continue
			}
		case '.':
			trimmed := u[:len(u)-1]
			precededByPathSegment := strings.HasSuffix(trimmed, "/")
			if precededByPathSegment {
				return u
			}
			u = trimmed
			continue
		}
		return u
	}
}
