package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joaovs2004/jvs-together-websocket/party/metadata"
	"github.com/joaovs2004/jvs-together-websocket/party/video"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error { return nil }

// messages decodes everything sent so far into generic maps.
func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.sent))
	for _, data := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("sent frame is not JSON: %v (%s)", err, data)
		}
		out = append(out, m)
	}
	return out
}

// countType returns how many sent messages carry the given type tag.
func (c *fakeConn) countType(t *testing.T, msgType string) int {
	t.Helper()
	n := 0
	for _, m := range c.messages(t) {
		if m["type"] == msgType {
			n++
		}
	}
	return n
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	video *metadata.Video
	err   error
	delay time.Duration
}

func (f *fakeResolver) Resolve(ctx context.Context, videoID string) (*metadata.Video, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.video != nil {
		return f.video, nil
	}
	return &metadata.Video{Title: "T", FamilyFriendly: true}, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRegistry_JoinAndRemove(t *testing.T) {
	t.Run("join creates room on demand", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		conn := &fakeConn{id: "c1"}

		reg.Join("r1", "slot1", conn)

		rooms, clients := reg.Stats()
		if rooms != 1 || clients != 1 {
			t.Errorf("Stats() = (%d, %d), want (1, 1)", rooms, clients)
		}
	})

	t.Run("new member receives member list and history", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		conn := &fakeConn{id: "c1"}

		reg.Join("r1", "slot1", conn)

		msgs := conn.messages(t)
		if len(msgs) < 3 {
			t.Fatalf("expected at least 3 messages on join, got %d", len(msgs))
		}
		if msgs[0]["type"] != "connectedClients" {
			t.Errorf("first message type = %v, want connectedClients", msgs[0]["type"])
		}
		if msgs[1]["type"] != "updateHistory" {
			t.Errorf("second message type = %v, want updateHistory", msgs[1]["type"])
		}
	})

	t.Run("member list broadcast includes existing members", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		first := &fakeConn{id: "c1"}
		second := &fakeConn{id: "c2"}

		reg.Join("r1", "slot1", first)
		reg.Join("r1", "slot2", second)

		msgs := first.messages(t)
		last := msgs[len(msgs)-1]
		if last["type"] != "connectedClients" {
			t.Fatalf("existing member last message type = %v, want connectedClients", last["type"])
		}
		clients := last["clients"].([]any)
		if len(clients) != 2 {
			t.Errorf("broadcast member list has %d entries, want 2", len(clients))
		}
	})

	t.Run("removing sole member deletes room", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		conn := &fakeConn{id: "c1"}

		reg.Join("r1", "slot1", conn)
		reg.Remove(conn)

		rooms, clients := reg.Stats()
		if rooms != 0 || clients != 0 {
			t.Errorf("Stats() = (%d, %d), want (0, 0)", rooms, clients)
		}
	})

	t.Run("removing one of several broadcasts updated list", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		leaver := &fakeConn{id: "c1"}
		stayer := &fakeConn{id: "c2"}

		reg.Join("r1", "slot1", leaver)
		reg.Join("r1", "slot2", stayer)
		reg.Remove(leaver)

		rooms, clients := reg.Stats()
		if rooms != 1 || clients != 1 {
			t.Fatalf("Stats() = (%d, %d), want (1, 1)", rooms, clients)
		}

		msgs := stayer.messages(t)
		last := msgs[len(msgs)-1]
		if last["type"] != "connectedClients" {
			t.Fatalf("remaining member last message type = %v, want connectedClients", last["type"])
		}
		if clients := last["clients"].([]any); len(clients) != 1 {
			t.Errorf("member list after removal has %d entries, want 1", len(clients))
		}
	})

	t.Run("removal evicts from every joined room", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		leaver := &fakeConn{id: "c1"}
		stayer := &fakeConn{id: "c2"}

		reg.Join("r1", "s1", leaver)
		reg.Join("r2", "s1", leaver)
		reg.Join("r2", "s2", stayer)

		reg.Remove(leaver)

		rooms, clients := reg.Stats()
		if rooms != 1 || clients != 1 {
			t.Fatalf("Stats() = (%d, %d), want (1, 1)", rooms, clients)
		}
		if _, ok := reg.Info("r1"); ok {
			t.Error("emptied room r1 still registered")
		}

		msgs := stayer.messages(t)
		last := msgs[len(msgs)-1]
		if last["type"] != "connectedClients" {
			t.Fatalf("remaining member last message type = %v, want connectedClients", last["type"])
		}
		if clients := last["clients"].([]any); len(clients) != 1 {
			t.Errorf("member list after removal has %d entries, want 1", len(clients))
		}
	})

	t.Run("join after deletion lands in a fresh room", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		first := &fakeConn{id: "c1"}

		reg.Join("r1", "s1", first)
		stale, ok := reg.lookup("r1")
		if !ok {
			t.Fatal("room not registered after join")
		}
		reg.Remove(first)

		// A join racing the removal may still hold the deleted room; it
		// must be refused so the caller retries against the registry.
		second := &fakeConn{id: "c2"}
		if stale.join("s2", second) {
			t.Fatal("deleted room accepted a new member")
		}

		reg.Join("r1", "s2", second)
		fresh, ok := reg.lookup("r1")
		if !ok {
			t.Fatal("room not registered after rejoin")
		}
		if fresh == stale {
			t.Error("rejoin reused the deleted room")
		}

		rooms, clients := reg.Stats()
		if rooms != 1 || clients != 1 {
			t.Errorf("Stats() = (%d, %d), want (1, 1)", rooms, clients)
		}
	})

	t.Run("removing unknown connection is a no-op", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		member := &fakeConn{id: "c1"}
		stranger := &fakeConn{id: "ghost"}

		reg.Join("r1", "slot1", member)
		reg.Remove(stranger)
		reg.Remove(stranger)

		rooms, clients := reg.Stats()
		if rooms != 1 || clients != 1 {
			t.Errorf("Stats() = (%d, %d), want (1, 1)", rooms, clients)
		}
	})

	t.Run("rejoining a slot overwrites the entry", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		old := &fakeConn{id: "c1"}
		replacement := &fakeConn{id: "c2"}

		reg.Join("r1", "slot1", old)
		reg.Join("r1", "slot1", replacement)

		_, clients := reg.Stats()
		if clients != 1 {
			t.Errorf("client count after slot overwrite = %d, want 1", clients)
		}
	})
}

func TestRegistry_SetReady(t *testing.T) {
	t.Run("quorum fires when every member is ready", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		a := &fakeConn{id: "c1"}
		b := &fakeConn{id: "c2"}
		reg.Join("r1", "s1", a)
		reg.Join("r1", "s2", b)

		if err := reg.SetReady("r1"); err != nil {
			t.Fatalf("SetReady: %v", err)
		}
		if n := a.countType(t, "setPlaying"); n != 0 {
			t.Errorf("setPlaying broadcast before quorum: %d messages", n)
		}

		if err := reg.SetReady("r1"); err != nil {
			t.Fatalf("SetReady: %v", err)
		}
		if n := a.countType(t, "setPlaying"); n != 1 {
			t.Errorf("setPlaying count for member a = %d, want 1", n)
		}
		if n := b.countType(t, "setPlaying"); n != 1 {
			t.Errorf("setPlaying count for member b = %d, want 1", n)
		}
	})

	t.Run("counter resets after quorum", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		a := &fakeConn{id: "c1"}
		reg.Join("r1", "s1", a)

		reg.SetReady("r1")
		reg.SetReady("r1")

		if n := a.countType(t, "setPlaying"); n != 2 {
			t.Errorf("setPlaying count = %d, want 2 (one per quorum)", n)
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		if err := reg.SetReady("nope"); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("SetReady(unknown) = %v, want ErrRoomNotFound", err)
		}
	})
}

func TestRegistry_Rename(t *testing.T) {
	reg := NewRegistry(&fakeResolver{})
	a := &fakeConn{id: "c1"}
	b := &fakeConn{id: "c2"}
	reg.Join("r1", "s1", a)
	reg.Join("r1", "s2", b)

	if err := reg.Rename("r1", "s1", "alice"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	msgs := b.messages(t)
	last := msgs[len(msgs)-1]
	if last["type"] != "connectedClients" {
		t.Fatalf("last message type = %v, want connectedClients", last["type"])
	}

	found := false
	for _, name := range last["clients"].([]any) {
		if name == "alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("broadcast member list %v does not contain the new name", last["clients"])
	}

	t.Run("unknown slot is a no-op", func(t *testing.T) {
		if err := reg.Rename("r1", "ghost-slot", "bob"); err != nil {
			t.Errorf("Rename(unknown slot) = %v, want nil", err)
		}
	})
}

func TestRegistry_SetVideo(t *testing.T) {
	ctx := context.Background()

	t.Run("broadcasts payload and history", func(t *testing.T) {
		resolver := &fakeResolver{video: &metadata.Video{Title: "T", FamilyFriendly: true}}
		reg := NewRegistry(resolver)
		a := &fakeConn{id: "c1"}
		b := &fakeConn{id: "c2"}
		reg.Join("r1", "s1", a)
		reg.Join("r1", "s2", b)

		if err := reg.SetVideo(ctx, "r1", "https://youtu.be/abc123"); err != nil {
			t.Fatalf("SetVideo: %v", err)
		}

		for _, conn := range []*fakeConn{a, b} {
			var setVideo map[string]any
			for _, m := range conn.messages(t) {
				if m["type"] == "setVideo" {
					setVideo = m
				}
			}
			if setVideo == nil {
				t.Fatalf("member %s never received setVideo", conn.id)
			}
			if setVideo["videoId"] != "abc123" {
				t.Errorf("videoId = %v, want abc123", setVideo["videoId"])
			}
			if setVideo["isRestrictedVideo"] != false {
				t.Errorf("isRestrictedVideo = %v, want false", setVideo["isRestrictedVideo"])
			}
		}

		history, ok := reg.History("r1")
		if !ok || len(history) != 1 {
			t.Fatalf("history = %v, want exactly 1 entry", history)
		}
		if history[0].VideoID != "abc123" || history[0].Title != "T" {
			t.Errorf("history entry = %+v, want videoId=abc123 title=T", history[0])
		}
	})

	t.Run("repeat submission is idempotent", func(t *testing.T) {
		resolver := &fakeResolver{}
		reg := NewRegistry(resolver)
		a := &fakeConn{id: "c1"}
		reg.Join("r1", "s1", a)

		if err := reg.SetVideo(ctx, "r1", "https://youtu.be/abc123"); err != nil {
			t.Fatalf("first SetVideo: %v", err)
		}
		err := reg.SetVideo(ctx, "r1", "https://www.youtube.com/watch?v=abc123")
		if !errors.Is(err, ErrSameVideo) {
			t.Fatalf("second SetVideo = %v, want ErrSameVideo", err)
		}

		if resolver.callCount() != 1 {
			t.Errorf("resolver called %d times, want 1", resolver.callCount())
		}
		history, _ := reg.History("r1")
		if len(history) != 1 {
			t.Errorf("history length = %d, want 1", len(history))
		}
		if n := a.countType(t, "setVideo"); n != 1 {
			t.Errorf("setVideo broadcast count = %d, want 1", n)
		}
	})

	t.Run("disallowed host mutates nothing", func(t *testing.T) {
		resolver := &fakeResolver{}
		reg := NewRegistry(resolver)
		a := &fakeConn{id: "c1"}
		reg.Join("r1", "s1", a)

		err := reg.SetVideo(ctx, "r1", "https://evil.example.com/watch?v=abc123")
		if !errors.Is(err, video.ErrHostNotAllowed) {
			t.Fatalf("SetVideo = %v, want ErrHostNotAllowed", err)
		}

		if resolver.callCount() != 0 {
			t.Errorf("resolver called %d times, want 0", resolver.callCount())
		}
		history, _ := reg.History("r1")
		if len(history) != 0 {
			t.Errorf("history length = %d, want 0", len(history))
		}
		info, _ := reg.Info("r1")
		if info.CurrentVideo != "" {
			t.Errorf("currentVideo = %q, want empty", info.CurrentVideo)
		}
	})

	t.Run("resolver failure mutates nothing", func(t *testing.T) {
		resolver := &fakeResolver{err: errors.New("upstream down")}
		reg := NewRegistry(resolver)
		a := &fakeConn{id: "c1"}
		reg.Join("r1", "s1", a)

		err := reg.SetVideo(ctx, "r1", "https://youtu.be/abc123")
		if err == nil {
			t.Fatal("SetVideo succeeded despite resolver failure")
		}

		history, _ := reg.History("r1")
		if len(history) != 0 {
			t.Errorf("history length = %d, want 0", len(history))
		}
		info, _ := reg.Info("r1")
		if info.CurrentVideo != "" {
			t.Errorf("currentVideo = %q, want empty", info.CurrentVideo)
		}
		if n := a.countType(t, "setVideo"); n != 0 {
			t.Errorf("setVideo broadcast count = %d, want 0", n)
		}
	})

	t.Run("video change resets readiness counter", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		a := &fakeConn{id: "c1"}
		b := &fakeConn{id: "c2"}
		reg.Join("r1", "s1", a)
		reg.Join("r1", "s2", b)

		reg.SetReady("r1")
		if err := reg.SetVideo(ctx, "r1", "https://youtu.be/abc123"); err != nil {
			t.Fatalf("SetVideo: %v", err)
		}

		info, _ := reg.Info("r1")
		if info.ReadyCount != 0 {
			t.Errorf("readyCount after video change = %d, want 0", info.ReadyCount)
		}

		// The earlier ready signal must not count toward the new video.
		reg.SetReady("r1")
		if n := a.countType(t, "setPlaying"); n != 0 {
			t.Errorf("setPlaying fired after %d of 2 ready signals", 1)
		}
	})

	t.Run("concurrent identical requests commit once", func(t *testing.T) {
		resolver := &fakeResolver{delay: 20 * time.Millisecond}
		reg := NewRegistry(resolver)
		a := &fakeConn{id: "c1"}
		reg.Join("r1", "s1", a)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = reg.SetVideo(ctx, "r1", "https://youtu.be/abc123")
			}(i)
		}
		wg.Wait()

		same := 0
		for _, err := range errs {
			if errors.Is(err, ErrSameVideo) {
				same++
			}
		}
		if same != 1 {
			t.Errorf("%d of 2 concurrent requests hit the idempotence check, want 1", same)
		}

		history, _ := reg.History("r1")
		if len(history) != 1 {
			t.Errorf("history length = %d, want 1", len(history))
		}
		if n := a.countType(t, "setVideo"); n != 1 {
			t.Errorf("setVideo broadcast count = %d, want 1", n)
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		reg := NewRegistry(&fakeResolver{})
		err := reg.SetVideo(ctx, "nope", "https://youtu.be/abc123")
		if !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("SetVideo(unknown room) = %v, want ErrRoomNotFound", err)
		}
	})
}

func TestRegistry_LateJoinerReplay(t *testing.T) {
	resolver := &fakeResolver{video: &metadata.Video{Title: "T", FamilyFriendly: true}}
	reg := NewRegistry(resolver)
	early := &fakeConn{id: "c1"}
	reg.Join("r1", "s1", early)

	if err := reg.SetVideo(context.Background(), "r1", "https://youtu.be/abc123"); err != nil {
		t.Fatalf("SetVideo: %v", err)
	}

	var original []byte
	early.mu.Lock()
	for _, data := range early.sent {
		var m map[string]any
		json.Unmarshal(data, &m)
		if m["type"] == "setVideo" {
			original = data
		}
	}
	early.mu.Unlock()
	if original == nil {
		t.Fatal("original broadcast not found")
	}

	late := &fakeConn{id: "c2"}
	reg.Join("r1", "s2", late)

	var replayed []byte
	late.mu.Lock()
	for _, data := range late.sent {
		var m map[string]any
		json.Unmarshal(data, &m)
		if m["type"] == "setVideo" {
			replayed = data
		}
	}
	late.mu.Unlock()

	if replayed == nil {
		t.Fatal("late joiner did not receive the cached video payload")
	}
	if string(replayed) != string(original) {
		t.Errorf("replayed payload differs from original broadcast:\n%s\n%s", replayed, original)
	}
	if resolver.callCount() != 1 {
		t.Errorf("resolver called %d times, want 1 (no re-resolution for late joiners)", resolver.callCount())
	}

	// The late joiner's history matches the broadcast one.
	msgs := late.messages(t)
	if msgs[1]["type"] != "updateHistory" {
		t.Fatalf("second replay message type = %v, want updateHistory", msgs[1]["type"])
	}
	if history := msgs[1]["history"].([]any); len(history) != 1 {
		t.Errorf("replayed history has %d entries, want 1", len(history))
	}
}

func TestRegistry_Relay(t *testing.T) {
	reg := NewRegistry(&fakeResolver{})
	sender := &fakeConn{id: "c1"}
	peer := &fakeConn{id: "c2"}
	reg.Join("r1", "s1", sender)
	reg.Join("r1", "s2", peer)

	raw := []byte(`{"type":"seeked","time":42,"roomId":"r1"}`)

	t.Run("excludes sender by default", func(t *testing.T) {
		reg.Relay("r1", sender, raw, false)

		if n := peer.countType(t, "seeked"); n != 1 {
			t.Errorf("peer received %d seeked messages, want 1", n)
		}
		if n := sender.countType(t, "seeked"); n != 0 {
			t.Errorf("sender received %d seeked messages, want 0", n)
		}
	})

	t.Run("includes sender when flagged", func(t *testing.T) {
		reg.Relay("r1", sender, raw, true)

		if n := sender.countType(t, "seeked"); n != 1 {
			t.Errorf("sender received %d seeked messages, want 1", n)
		}
	})

	t.Run("unknown room is a no-op", func(t *testing.T) {
		reg.Relay("nope", sender, raw, false)
	})
}

func TestRegistry_HistoryCap(t *testing.T) {
	reg := NewRegistry(&fakeResolver{})
	r := reg.GetOrCreate("r1")

	r.mu.Lock()
	for i := 0; i < historyLimit+10; i++ {
		r.appendHistoryLocked(HistoryEntry{VideoID: "v", Title: "t"})
	}
	got := len(r.history)
	r.mu.Unlock()

	if got != historyLimit {
		t.Errorf("history length = %d, want cap %d", got, historyLimit)
	}
}
