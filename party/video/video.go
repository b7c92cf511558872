// Package video parses watch-party video references and extracts
// canonical video identifiers from them.
//
// Only YouTube-style references are accepted. A reference is rejected
// when its host is not in the allowed set or when no identifier can be
// extracted from it; rejection never mutates any room state, callers
// are expected to signal the requester and move on.
package video

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrHostNotAllowed is returned for references pointing outside the
	// allowed host set.
	ErrHostNotAllowed = errors.New("video host not allowed")

	// ErrNoVideoID is returned when the reference is well-formed but no
	// video identifier could be extracted from it.
	ErrNoVideoID = errors.New("no video id in reference")
)

// allowedHosts is the set of hosts a video reference may point at.
var allowedHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"youtu.be":        true,
}

// ExtractID validates a raw video reference and returns the canonical
// video identifier it names.
//
// Three reference shapes are understood:
//   - watch URLs: https://www.youtube.com/watch?v=<id>
//   - short links: https://youtu.be/<id>
//   - embed URLs:  https://www.youtube.com/embed/<id>
func ExtractID(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse video reference: %w", err)
	}

	host := strings.ToLower(u.Hostname())
	if !allowedHosts[host] {
		return "", ErrHostNotAllowed
	}

	var id string
	switch host {
	case "youtu.be":
		id = firstPathSegment(u.Path)
	default:
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		if rest, ok := strings.CutPrefix(strings.TrimPrefix(u.Path, "/"), "embed/"); ok {
			id = firstPathSegment(rest)
		}
	}

	if id == "" {
		return "", ErrNoVideoID
	}
	return id, nil
}

// firstPathSegment returns the first non-empty segment of a URL path.
func firstPathSegment(path string) string {
	for _, seg := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}
