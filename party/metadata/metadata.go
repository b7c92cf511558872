// Package metadata resolves video identifiers into descriptive and
// streaming metadata through the Invidious API.
//
// The room session only depends on the Resolver interface; the
// Invidious client is one implementation of it. Resolution is the most
// expensive and most failure-prone step of a video change, so callers
// cache the resulting broadcast payload and resolve at most once per
// video change.
package metadata

import "context"

// Track describes a single audio or video stream of a resolved video.
type Track struct {
	Itag    string `json:"itag,omitempty"`
	Type    string `json:"type,omitempty"`
	Bitrate string `json:"bitrate,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Video is the resolved metadata for one video identifier.
//
// Title is always present. The remaining fields are populated when the
// upstream reports the video as restricted (not family friendly), in
// which case clients need the raw stream tracks to play it themselves.
type Video struct {
	Title          string
	FamilyFriendly bool
	LengthSeconds  int
	Thumbnail      string
	AudioTracks    []Track
	VideoTracks    []Track
}

// Resolver translates a video identifier into its metadata.
type Resolver interface {
	Resolve(ctx context.Context, videoID string) (*Video, error)
}
