package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/realtime"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startHub(t *testing.T, auth Authenticator) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop(), nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, auth, zap.NewNop()).ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	wsURL, err := realtime.WSURL(srv.URL, "/ws")
	if err != nil {
		t.Fatal(err)
	}
	return hub, wsURL
}

func TestHub_RoomsWithRealtimeChannel(t *testing.T) {
	admin := &entity.Identity{AdminID: 1, Username: "amy", OrgID: 4}
	hub, wsURL := startHub(t, func(r *http.Request) (*entity.Identity, bool) {
		return admin, r.Header.Get("Authorization") == "Bearer tok"
	})

	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()
	got := make(chan entity.NewMessagePayload, 1)
	eventbus.On(bus, entity.EventNewMessage, func(ctx context.Context, p entity.NewMessagePayload) { got <- p })

	ch := realtime.NewChannel(realtime.Config{URL: wsURL, Header: http.Header{"Authorization": {"Bearer tok"}}}, bus, zap.NewNop(), nil)
	if err := ch.Open(context.Background(), admin); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	waitFor(t, "org room membership", func() bool { return hub.RoomSize(OrgRoom(4)) == 1 })
	if hub.RoomSize(AdminRoom(1)) != 1 {
		t.Error("admin room not joined")
	}

	if n := hub.Emit(OrgRoom(4), entity.EventNewMessage, entity.NewMessagePayload{ConversationID: 9, Content: "hi"}); n != 1 {
		t.Errorf("delivered to %d clients", n)
	}
	select {
	case p := <-got:
		if p.ConversationID != 9 || p.Content != "hi" {
			t.Errorf("payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("new_message not received")
	}

	if err := ch.JoinConversation(9); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "conversation room", func() bool { return hub.RoomSize(ConversationRoom(9)) == 1 })
	if err := ch.LeaveConversation(9); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "conversation room left", func() bool { return hub.RoomSize(ConversationRoom(9)) == 0 })

	ch.Close()
	waitFor(t, "client removed", func() bool { return hub.ClientCount() == 0 })
	if hub.RoomSize(OrgRoom(4)) != 0 {
		t.Error("rooms must be emptied on disconnect")
	}
}

func TestHub_RejectsUnauthenticatedUpgrade(t *testing.T) {
	hub, wsURL := startHub(t, func(r *http.Request) (*entity.Identity, bool) { return nil, false })

	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()
	ch := realtime.NewChannel(realtime.Config{URL: wsURL}, bus, zap.NewNop(), nil)
	if err := ch.Open(context.Background(), &entity.Identity{OrgID: 1}); err == nil {
		ch.Close()
		t.Fatal("expected the upgrade to be refused")
	}
	if hub.ClientCount() != 0 {
		t.Error("no client should be registered")
	}
}

func TestHub_ForwardsOtherEvents(t *testing.T) {
	admin := &entity.Identity{AdminID: 2, OrgID: 1}
	hub, wsURL := startHub(t, func(r *http.Request) (*entity.Identity, bool) { return admin, true })

	seen := make(chan entity.EventName, 4)
	hub.SetEventHandler(func(c *Client, env realtime.Envelope) {
		if c.Identity.AdminID == 2 {
			seen <- env.Event
		}
	})

	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()
	ch := realtime.NewChannel(realtime.Config{URL: wsURL}, bus, zap.NewNop(), nil)
	if err := ch.Open(context.Background(), admin); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if err := ch.Typing(5); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-seen:
		if ev != entity.EventAdminTyping {
			t.Errorf("event: %s", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing not forwarded")
	}
}
