package room

import (
	"encoding/json"

	"github.com/joaovs2004/jvs-together-websocket/party/metadata"
)

// Room-originated server messages. Connection-scoped messages (ping,
// clientConnected, unlockSetVideo) live with the protocol handler.

type connectedClientsMsg struct {
	Type    string   `json:"type"`
	Clients []string `json:"clients"`
}

type updateHistoryMsg struct {
	Type    string         `json:"type"`
	History []HistoryEntry `json:"history"`
}

type setPlayingMsg struct {
	Type   string `json:"type"`
	Status bool   `json:"status"`
}

type setVideoMsg struct {
	Type              string           `json:"type"`
	VideoID           string           `json:"videoId"`
	IsRestrictedVideo bool             `json:"isRestrictedVideo"`
	Duration          int              `json:"duration,omitempty"`
	Thumbnail         string           `json:"thumbnail,omitempty"`
	AudioTracks       []metadata.Track `json:"audioTracks,omitempty"`
	VideoTracks       []metadata.Track `json:"videoTracks,omitempty"`
}

func encodeConnectedClients(names []string) []byte {
	data, _ := json.Marshal(connectedClientsMsg{Type: "connectedClients", Clients: names})
	return data
}

func encodeUpdateHistory(history []HistoryEntry) []byte {
	if history == nil {
		history = []HistoryEntry{}
	}
	data, _ := json.Marshal(updateHistoryMsg{Type: "updateHistory", History: history})
	return data
}

func encodeSetPlaying(status bool) []byte {
	data, _ := json.Marshal(setPlayingMsg{Type: "setPlaying", Status: status})
	return data
}

// encodeSetVideo builds the broadcast payload for a video change. For
// restricted videos the payload carries everything a client needs to
// play the raw streams itself: duration, thumbnail and the adaptive
// audio/video tracks.
func encodeSetVideo(videoID string, v *metadata.Video) []byte {
	msg := setVideoMsg{
		Type:              "setVideo",
		VideoID:           videoID,
		IsRestrictedVideo: !v.FamilyFriendly,
	}
	if !v.FamilyFriendly {
		msg.Duration = v.LengthSeconds
		msg.Thumbnail = v.Thumbnail
		msg.AudioTracks = v.AudioTracks
		msg.VideoTracks = v.VideoTracks
	}
	data, _ := json.Marshal(msg)
	return data
}
