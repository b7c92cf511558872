// Package protocol decodes inbound client messages and dispatches them
// to the room registry.
//
// Every message is a JSON envelope with a string "type" tag plus
// kind-specific fields. Unknown kinds are relayed verbatim to the rest
// of the stated room; the server never needs to understand their
// payload. Malformed envelopes are dropped without terminating the
// connection.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/joaovs2004/jvs-together-websocket/party/room"
)

// Conn is what the router needs from a connection: the room-facing
// send surface plus the liveness acknowledgment hook.
type Conn interface {
	room.Conn
	MarkAlive()
}

// Envelope is the inbound message shape. Only the fields relevant to
// the tagged kind are populated; the rest stay zero.
type Envelope struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId,omitempty"`
	ID        string `json:"id,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	Broadcast bool   `json:"broadcast,omitempty"`
}

// Connection-scoped server messages. Room-scoped broadcasts are built
// by the room package, which owns their state.
var (
	pingMsg   = []byte(`{"type":"ping"}`)
	unlockMsg = []byte(`{"type":"unlockSetVideo"}`)
)

// Ping is the liveness probe sent on the probe interval.
func Ping() []byte { return pingMsg }

// UnlockSetVideo releases the requester's client-side UI lock after a
// video change attempt, successful or not.
func UnlockSetVideo() []byte { return unlockMsg }

// ClientConnected greets a freshly accepted connection with its
// server-generated identifier.
func ClientConnected(id string) []byte {
	data, _ := json.Marshal(struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}{Type: "clientConnected", ID: id})
	return data
}

// Handler routes inbound messages to room state transitions.
type Handler struct {
	rooms *room.Registry
}

// NewHandler creates a router over the given registry.
func NewHandler(rooms *room.Registry) *Handler {
	return &Handler{rooms: rooms}
}

// Handle processes one inbound message from conn. Messages from a
// single connection arrive here sequentially; across connections this
// runs concurrently, so all shared state lives behind the registry.
func (h *Handler) Handle(conn Conn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[protocol] dropping malformed message clientId=%s: %v", conn.ID(), err)
		return
	}

	switch env.Type {
	case "pong":
		conn.MarkAlive()

	case "sendToRoom":
		h.rooms.Join(env.RoomID, env.ClientID, conn)

	case "setName":
		if err := h.rooms.Rename(env.RoomID, env.ID, env.Name); err != nil {
			log.Printf("[protocol] setName room=%s: %v", env.RoomID, err)
		}

	case "setReady":
		if err := h.rooms.SetReady(env.RoomID); err != nil {
			log.Printf("[protocol] setReady room=%s: %v", env.RoomID, err)
		}

	case "setVideo":
		// The resolver call inside SetVideo is the only suspension
		// point; a disconnect during it does not cancel the transition,
		// the rest of the room still gets the broadcast.
		err := h.rooms.SetVideo(context.Background(), env.RoomID, env.URL)
		if err != nil && !errors.Is(err, room.ErrSameVideo) {
			log.Printf("[protocol] setVideo room=%s rejected: %v", env.RoomID, err)
		}
		conn.Send(UnlockSetVideo())

	default:
		h.rooms.Relay(env.RoomID, conn, data, env.Broadcast)
	}
}
