package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/joaovs2004/jvs-together-websocket/party/metadata"
	"github.com/joaovs2004/jvs-together-websocket/party/video"
)

var (
	// ErrRoomNotFound is returned when an operation names a room the
	// registry does not hold. Concurrent close/cleanup races legitimately
	// produce stale references, so callers treat this as a no-op.
	ErrRoomNotFound = errors.New("room not found")

	// ErrSameVideo is returned when a video change names the video that
	// is already active; the transition is an idempotent no-op.
	ErrSameVideo = errors.New("video already active")
)

// Registry is the process-wide mapping of room identifier to room. It
// is injected into the router and the API server rather than living in
// a package-level variable, which keeps ownership and test isolation
// explicit.
type Registry struct {
	resolver metadata.Resolver

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry backed by the given metadata
// resolver.
func NewRegistry(resolver metadata.Resolver) *Registry {
	return &Registry{
		resolver: resolver,
		rooms:    make(map[string]*Room),
	}
}

// GetOrCreate returns the room for roomID, creating it when unseen.
func (reg *Registry) GetOrCreate(roomID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		reg.rooms[roomID] = r
		log.Printf("[room] created room=%s", roomID)
	}
	return r
}

func (reg *Registry) lookup(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// Join registers conn in the room under the caller-supplied slot
// identifier, creating the room on demand. The new connection receives
// the current member list, the full history and, when a video is
// active, the cached last-broadcast payload, so a late joiner reaches
// the exact state a mid-stream joiner saw without a second metadata
// resolution. The updated member list is then broadcast to everyone in
// the room, the new member included.
func (reg *Registry) Join(roomID, slotID string, conn Conn) {
	// GetOrCreate releases the registry lock before the room lock is
	// taken, so the room may have been emptied and deleted in between.
	// A closed room refuses the join and a fresh one is created.
	for {
		r := reg.GetOrCreate(roomID)
		if r.join(slotID, conn) {
			return
		}
	}
}

func (r *Room) join(slotID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	r.members[slotID] = &Client{ID: conn.ID(), Name: conn.ID(), Conn: conn}

	conn.Send(encodeConnectedClients(r.memberNamesLocked()))
	conn.Send(encodeUpdateHistory(r.historyLocked()))
	if r.currentVideo != "" && r.videoPayload != nil {
		conn.Send(r.videoPayload)
	}

	r.broadcastLocked(encodeConnectedClients(r.memberNamesLocked()))

	log.Printf("[room] joined room=%s clientId=%s members=%d", r.id, conn.ID(), len(r.members))
	return true
}

// Remove evicts the member owning conn from every room holding it; a
// connection can sit in several rooms after repeated joins. A room left
// empty is closed and deleted with nothing broadcast; otherwise the
// remaining members receive the updated member list. A connection that
// is in no room is a no-op.
func (reg *Registry) Remove(conn Conn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for roomID, r := range reg.rooms {
		r.mu.Lock()

		removed := false
		for slot, m := range r.members {
			if m.ID == conn.ID() {
				delete(r.members, slot)
				removed = true
			}
		}
		if !removed {
			r.mu.Unlock()
			continue
		}

		if len(r.members) == 0 {
			r.closed = true
			delete(reg.rooms, roomID)
			r.mu.Unlock()
			log.Printf("[room] removed empty room=%s", roomID)
			continue
		}

		if r.readyCount > len(r.members) {
			r.readyCount = len(r.members)
		}
		r.broadcastLocked(encodeConnectedClients(r.memberNamesLocked()))
		r.mu.Unlock()

		log.Printf("[room] left room=%s clientId=%s members=%d", roomID, conn.ID(), len(r.members))
	}
}

// SetReady increments the room's readiness counter. When every current
// member has signaled ready, all members receive the begin-playback
// signal and the counter resets to zero.
func (reg *Registry) SetReady(roomID string) error {
	r, ok := reg.lookup(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.readyCount++
	if r.readyCount >= len(r.members) {
		r.broadcastLocked(encodeSetPlaying(true))
		r.readyCount = 0
		log.Printf("[room] quorum reached room=%s", roomID)
	}
	return nil
}

// Rename updates the display name of the member in the given slot and
// broadcasts the updated member list. Unknown rooms or slots are
// no-ops.
func (reg *Registry) Rename(roomID, slotID, name string) error {
	r, ok := reg.lookup(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[slotID]
	if !ok {
		return nil
	}
	m.Name = name
	r.broadcastLocked(encodeConnectedClients(r.memberNamesLocked()))
	return nil
}

// SetVideo runs the video change transition for a room.
//
// The raw reference is validated and reduced to a canonical video
// identifier; a reference that is malformed, points at a disallowed
// host, or names the already-active video aborts the transition with
// no state mutated. Metadata resolution happens without the room lock
// held, and the idempotence condition is re-checked before committing
// so that two identical concurrent requests produce exactly one
// history entry and one broadcast.
func (reg *Registry) SetVideo(ctx context.Context, roomID, rawURL string) error {
	videoID, err := video.ExtractID(rawURL)
	if err != nil {
		return err
	}

	r, ok := reg.lookup(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	if r.currentVideo == videoID {
		r.mu.Unlock()
		return ErrSameVideo
	}
	r.mu.Unlock()

	info, err := reg.resolver.Resolve(ctx, videoID)
	if err != nil {
		return fmt.Errorf("resolve video %s: %w", videoID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// An identical request may have committed while we were resolving.
	if r.currentVideo == videoID {
		return ErrSameVideo
	}

	r.currentVideo = videoID
	r.readyCount = 0
	r.appendHistoryLocked(HistoryEntry{URL: rawURL, VideoID: videoID, Title: info.Title})
	r.videoPayload = encodeSetVideo(videoID, info)

	r.broadcastLocked(r.videoPayload)
	r.broadcastLocked(encodeUpdateHistory(r.historyLocked()))

	log.Printf("[room] video set room=%s videoId=%s title=%q", roomID, videoID, info.Title)
	return nil
}

// Relay forwards a raw message verbatim to the members of a room,
// excluding the sender unless includeSender is set. This is the
// default path for playback-position sync and other schema-agnostic
// events the server does not need to understand.
func (reg *Registry) Relay(roomID string, sender Conn, data []byte, includeSender bool) {
	r, ok := reg.lookup(roomID)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		if !includeSender && m.ID == sender.ID() {
			continue
		}
		m.Conn.Send(data)
	}
}

// Info is a read-only snapshot of one room, served by the inspection
// endpoints.
type Info struct {
	ID            string   `json:"id"`
	Clients       []string `json:"clients"`
	CurrentVideo  string   `json:"currentVideo,omitempty"`
	ReadyCount    int      `json:"readyCount"`
	HistoryLength int      `json:"historyLength"`
}

// Stats returns the number of rooms and connected clients.
func (reg *Registry) Stats() (rooms, clients int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	rooms = len(reg.rooms)
	for _, r := range reg.rooms {
		r.mu.Lock()
		clients += len(r.members)
		r.mu.Unlock()
	}
	return rooms, clients
}

// Rooms returns a snapshot of every room in the registry.
func (reg *Registry) Rooms() []Info {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Info, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r.snapshot())
	}
	return out
}

// Info returns the snapshot of a single room.
func (reg *Registry) Info(roomID string) (Info, bool) {
	r, ok := reg.lookup(roomID)
	if !ok {
		return Info{}, false
	}
	return r.snapshot(), true
}

// History returns a copy of a room's viewing history.
func (reg *Registry) History(roomID string) ([]HistoryEntry, bool) {
	r, ok := reg.lookup(roomID)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.historyLocked(), true
}

func (r *Room) snapshot() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		ID:            r.id,
		Clients:       r.memberNamesLocked(),
		CurrentVideo:  r.currentVideo,
		ReadyCount:    r.readyCount,
		HistoryLength: len(r.history),
	}
}
