package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultInstance is used until the instance pool has been
	// refreshed at least once.
	DefaultInstance = "https://inv.tux.pizza"

	// defaultInstancesURL lists the public Invidious instances together
	// with their uptime monitors.
	defaultInstancesURL = "https://api.invidious.io/instances.json"

	// videoFields trims the upstream response to the fields the relay
	// actually consumes.
	videoFields = "title,isFamilyFriendly,lengthSeconds,videoThumbnails,adaptiveFormats"

	// minUptime is the monitor uptime percentage an instance must reach
	// to be admitted into the pool.
	minUptime = 70.0
)

// Client resolves video metadata against a pool of Invidious
// instances, failing over to the next instance when one is down or
// returns garbage.
type Client struct {
	httpClient   *http.Client
	instancesURL string

	mu        sync.RWMutex
	instances []string
}

// NewClient creates a resolver client seeded with the default
// instance. Call RefreshInstances to populate the pool from the public
// instance directory.
func NewClient() *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		instancesURL: defaultInstancesURL,
		instances:    []string{DefaultInstance},
	}
}

// Instances returns a snapshot of the current instance pool.
func (c *Client) Instances() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.instances))
	copy(out, c.instances)
	return out
}

// instanceEntry mirrors one element of the instance directory, which
// is shaped as a [name, info] tuple.
type instanceInfo struct {
	URI     string `json:"uri"`
	Monitor *struct {
		Uptime float64 `json:"uptime"`
		Down   bool    `json:"down"`
	} `json:"monitor"`
}

// RefreshInstances replaces the instance pool with the healthy subset
// of the public instance directory: monitored, not down, uptime above
// the threshold, and reachable over HTTP(S). The previous pool is kept
// when the directory itself cannot be fetched or yields no candidates.
func (c *Client) RefreshInstances(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.instancesURL, nil)
	if err != nil {
		return fmt.Errorf("build instances request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch instances: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch instances: unexpected status %d", resp.StatusCode)
	}

	var entries [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("decode instances: %w", err)
	}

	var healthy []string
	for _, entry := range entries {
		if len(entry) < 2 {
			continue
		}
		var info instanceInfo
		if err := json.Unmarshal(entry[1], &info); err != nil {
			continue
		}
		if info.Monitor == nil || info.Monitor.Down || info.Monitor.Uptime <= minUptime {
			continue
		}
		if !strings.HasPrefix(info.URI, "http") {
			continue
		}
		healthy = append(healthy, strings.TrimSuffix(info.URI, "/"))
	}

	if len(healthy) == 0 {
		return fmt.Errorf("instance directory yielded no healthy instances")
	}

	c.mu.Lock()
	c.instances = healthy
	c.mu.Unlock()

	log.Printf("[metadata] instance pool refreshed: %d healthy instances", len(healthy))
	return nil
}

// invidiousVideo mirrors the subset of the Invidious video response the
// relay consumes.
type invidiousVideo struct {
	Title            string `json:"title"`
	IsFamilyFriendly bool   `json:"isFamilyFriendly"`
	LengthSeconds    int    `json:"lengthSeconds"`
	VideoThumbnails  []struct {
		Quality string `json:"quality"`
		URL     string `json:"url"`
	} `json:"videoThumbnails"`
	AdaptiveFormats []struct {
		Itag    string `json:"itag"`
		Type    string `json:"type"`
		Bitrate string `json:"bitrate"`
		URL     string `json:"url"`
	} `json:"adaptiveFormats"`
}

// Resolve fetches metadata for videoID, trying each pooled instance in
// order until one answers with a usable response.
func (c *Client) Resolve(ctx context.Context, videoID string) (*Video, error) {
	instances := c.Instances()

	var lastErr error
	for _, base := range instances {
		video, err := c.resolveFrom(ctx, base, videoID)
		if err != nil {
			lastErr = err
			continue
		}
		log.Printf("[metadata] resolved video %s via %s", videoID, base)
		return video, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("instance pool is empty")
	}
	return nil, fmt.Errorf("resolve video %s: %w", videoID, lastErr)
}

// resolveFrom queries a single instance for the video metadata.
func (c *Client) resolveFrom(ctx context.Context, base, videoID string) (*Video, error) {
	url := fmt.Sprintf("%s/api/v1/videos/%s?fields=%s", base, videoID, videoFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", base, resp.StatusCode)
	}

	var raw invidiousVideo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", base, err)
	}
	if raw.Title == "" {
		return nil, fmt.Errorf("%s: response carries no title", base)
	}

	video := &Video{
		Title:          raw.Title,
		FamilyFriendly: raw.IsFamilyFriendly,
		LengthSeconds:  raw.LengthSeconds,
	}

	// Restricted videos need the raw stream data so clients can play
	// them without the official embed.
	if !raw.IsFamilyFriendly {
		video.Thumbnail = pickThumbnail(raw)
		for _, f := range raw.AdaptiveFormats {
			track := Track{Itag: f.Itag, Type: f.Type, Bitrate: f.Bitrate, URL: f.URL}
			switch {
			case strings.HasPrefix(f.Type, "audio/"):
				video.AudioTracks = append(video.AudioTracks, track)
			case strings.HasPrefix(f.Type, "video/"):
				video.VideoTracks = append(video.VideoTracks, track)
			}
		}
	}

	return video, nil
}

// pickThumbnail prefers the medium thumbnail and falls back to the
// first one offered.
func pickThumbnail(raw invidiousVideo) string {
	for _, t := range raw.VideoThumbnails {
		if t.Quality == "medium" {
			return t.URL
		}
	}
	if len(raw.VideoThumbnails) > 0 {
		return raw.VideoThumbnails[0].URL
	}
	return ""
}
