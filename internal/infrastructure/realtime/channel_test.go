package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
)

// fakeBackend accepts sockets, records received frames and lets the test push
// frames to the latest connection.
type fakeBackend struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	frames   []Envelope
	conns    []*websocket.Conn
	closed   int
	authSeen string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{t: t}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.authSeen = r.Header.Get("Authorization")
		b.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				b.mu.Lock()
				b.closed++
				b.mu.Unlock()
				return
			}
			var env Envelope
			_ = json.Unmarshal(data, &env)
			b.mu.Lock()
			b.frames = append(b.frames, env)
			b.mu.Unlock()
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) url() string {
	u, _ := WSURL(b.srv.URL, "/ws")
	return u
}

func (b *fakeBackend) push(event entity.EventName, data any) {
	b.mu.Lock()
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(Envelope{Event: event, Data: raw})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		b.t.Errorf("push: %v", err)
	}
}

func (b *fakeBackend) snapshot() ([]Envelope, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.frames...), len(b.conns), b.closed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:5000":      "ws://localhost:5000/ws",
		"https://console.example/":   "wss://console.example/ws",
		"https://example.com/admin":  "wss://example.com/admin/ws",
	}
	for in, want := range cases {
		got, err := WSURL(in, "/ws")
		if err != nil || got != want {
			t.Errorf("WSURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := WSURL("ftp://x", "/ws"); err == nil {
		t.Error("ftp scheme should be rejected")
	}
}

func TestChannel_OpenAnnouncesOrgAndPublishes(t *testing.T) {
	backend := newFakeBackend(t)
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()

	got := make(chan entity.NewMessagePayload, 1)
	eventbus.On(bus, entity.EventNewMessage, func(ctx context.Context, p entity.NewMessagePayload) {
		got <- p
	})

	header := http.Header{}
	header.Set("Authorization", "Bearer tok")
	ch := NewChannel(Config{URL: backend.url(), Header: header}, bus, zap.NewNop(), nil)
	if err := ch.Open(context.Background(), &entity.Identity{AdminID: 1, OrgID: 7}); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	waitFor(t, "join frame", func() bool {
		frames, _, _ := backend.snapshot()
		return len(frames) == 1
	})
	frames, _, _ := backend.snapshot()
	var join entity.JoinPayload
	_ = json.Unmarshal(frames[0].Data, &join)
	if frames[0].Event != entity.EventJoin || join.OrgID != 7 {
		t.Errorf("first frame: %s %+v", frames[0].Event, join)
	}
	if backend.authSeen != "Bearer tok" {
		t.Errorf("auth header not sent on dial: %q", backend.authSeen)
	}

	backend.push(entity.EventNewMessage, map[string]any{"conversation_id": 42, "message_id": 9, "sender_type": "contact"})
	select {
	case p := <-got:
		if p.ConversationID != 42 || p.MessageID != 9 {
			t.Errorf("payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("new_message not published on the bus")
	}
}

func TestChannel_ReopenTearsDownFirst(t *testing.T) {
	backend := newFakeBackend(t)
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()

	var closedEvents int
	var mu sync.Mutex
	bus.Subscribe(entity.EventChannelClosed, func(ctx context.Context, ev eventbus.Event) {
		mu.Lock()
		closedEvents++
		mu.Unlock()
	})

	ch := NewChannel(Config{URL: backend.url()}, bus, zap.NewNop(), nil)
	ctx := context.Background()
	if err := ch.Open(ctx, &entity.Identity{OrgID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := ch.Open(ctx, &entity.Identity{OrgID: 2}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first connection closed", func() bool {
		_, conns, closed := backend.snapshot()
		return conns == 2 && closed == 1
	})
	if id := ch.Identity(); id == nil || id.OrgID != 2 {
		t.Errorf("identity after reopen: %+v", id)
	}

	// nil identity means tear down only
	if err := ch.Open(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if ch.Connected() {
		t.Error("nil identity should leave the channel closed")
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if closedEvents != 0 {
		t.Errorf("deliberate teardown must not publish channel_closed, got %d", closedEvents)
	}
}

func TestChannel_CloseDuringDialWins(t *testing.T) {
	backend := newFakeBackend(t)
	hit := make(chan struct{})
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(hit)
		<-release
		backend.srv.Config.Handler.ServeHTTP(w, r)
	}))
	defer slow.Close()

	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()
	u, _ := WSURL(slow.URL, "/ws")
	ch := NewChannel(Config{URL: u}, bus, zap.NewNop(), nil)

	done := make(chan error, 1)
	go func() { done <- ch.Open(context.Background(), &entity.Identity{OrgID: 3}) }()

	select {
	case <-hit:
	case <-time.After(2 * time.Second):
		t.Fatal("dial never reached the server")
	}
	ch.Close()
	close(release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if ch.Connected() || ch.Identity() != nil {
		t.Error("channel must stay closed after a close during dial")
	}
	waitFor(t, "dropped connection closed", func() bool {
		frames, conns, closed := backend.snapshot()
		return conns == 1 && closed == 1 && len(frames) == 0
	})
}

func TestChannel_ConversationRooms(t *testing.T) {
	backend := newFakeBackend(t)
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()

	ch := NewChannel(Config{URL: backend.url()}, bus, zap.NewNop(), nil)
	if err := ch.JoinConversation(1); err != ErrNotConnected {
		t.Errorf("join before open: %v", err)
	}
	if err := ch.Open(context.Background(), &entity.Identity{OrgID: 1}); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	_ = ch.JoinConversation(5)
	_ = ch.Typing(5)
	_ = ch.LeaveConversation(5)

	waitFor(t, "room frames", func() bool {
		frames, _, _ := backend.snapshot()
		return len(frames) == 4
	})
	frames, _, _ := backend.snapshot()
	var names []string
	for _, f := range frames {
		names = append(names, string(f.Event))
	}
	if strings.Join(names, ",") != "join,join_conversation,admin_typing,leave_conversation" {
		t.Errorf("frames: %v", names)
	}
	if len(ch.Rooms()) != 0 {
		t.Errorf("rooms after leave: %v", ch.Rooms())
	}
}

func TestChannel_ServerDropPublishesClosed(t *testing.T) {
	backend := newFakeBackend(t)
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()

	closed := make(chan ClosedPayload, 1)
	eventbus.On(bus, entity.EventChannelClosed, func(ctx context.Context, p ClosedPayload) {
		closed <- p
	})

	ch := NewChannel(Config{URL: backend.url()}, bus, zap.NewNop(), nil)
	if err := ch.Open(context.Background(), &entity.Identity{OrgID: 1}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "server conn", func() bool {
		_, conns, _ := backend.snapshot()
		return conns == 1
	})
	backend.mu.Lock()
	_ = backend.conns[0].Close()
	backend.mu.Unlock()

	select {
	case p := <-closed:
		if p.Reason == "" {
			t.Error("closed event should carry a reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drop was not published")
	}
	if ch.Connected() {
		t.Error("channel should report disconnected")
	}
}
