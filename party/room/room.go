package room

import (
	"sort"
	"sync"
)

// historyLimit caps the per-room viewing history. The history is
// append-only and would otherwise grow without bound in long-lived
// rooms; the oldest entries are trimmed first.
const historyLimit = 500

// Conn is the transport-owned handle the room holds for each member.
// The room only ever sends through it; accepting, closing and liveness
// belong to the transport layer.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Client is one member of a room. ID is the server-generated
// connection identifier; Name defaults to it until the member picks a
// display name.
type Client struct {
	ID   string
	Name string
	Conn Conn
}

// HistoryEntry records one video change: the reference the requester
// submitted, the canonical identifier extracted from it, and the
// resolved title.
type HistoryEntry struct {
	URL     string `json:"url"`
	VideoID string `json:"videoId"`
	Title   string `json:"title"`
}

// Room is the state machine for one party.
//
// members is keyed by the caller-supplied slot identifier from the
// join message; a member's own identity is always its connection ID.
// The slot key only decides overwrite-versus-new-entry semantics on
// repeated joins.
type Room struct {
	id string

	mu           sync.Mutex
	members      map[string]*Client
	closed       bool
	readyCount   int
	currentVideo string
	videoPayload []byte
	history      []HistoryEntry
}

func newRoom(id string) *Room {
	return &Room{
		id:      id,
		members: make(map[string]*Client),
	}
}

// ID returns the externally supplied room identifier.
func (r *Room) ID() string { return r.id }

// memberNamesLocked returns the display names of all members, sorted
// for a stable wire representation. Callers must hold r.mu.
func (r *Room) memberNamesLocked() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// broadcastLocked sends data to every member. Sends are best effort; a
// member whose connection is gone simply misses the message and will
// be evicted by the disconnect path. Callers must hold r.mu.
func (r *Room) broadcastLocked(data []byte) {
	for _, m := range r.members {
		m.Conn.Send(data)
	}
}

// historyLocked returns a copy of the viewing history. Callers must
// hold r.mu.
func (r *Room) historyLocked() []HistoryEntry {
	out := make([]HistoryEntry, len(r.history))
	copy(out, r.history)
	return out
}

// appendHistoryLocked appends an entry and trims the oldest entries
// beyond the cap. Callers must hold r.mu.
func (r *Room) appendHistoryLocked(e HistoryEntry) {
	r.history = append(r.history, e)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
}
