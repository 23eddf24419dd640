package monitoring

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/messaging/conversations/42/messages":              "/api/messaging/conversations/:id/messages",
		"/api/messaging/backups/backup_20240101_120000.db/restore": "/api/messaging/backups/:file/restore",
		"api/messaging/me": "/api/messaging/me",
	}
	for in, want := range cases {
		if got := RouteLabel(in); got != want {
			t.Errorf("RouteLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveAPI("GET", "/api/messaging/conversations/7", 200, 15*time.Millisecond)
	m.ObserveAPI("POST", "/api/messaging/conversations/7/send", 0, time.Millisecond)
	m.LiveEvent("new_message")
	m.SetConnected(true)
	m.SetUnread(3)
	m.FeedOp("backfill", errors.New("x"))
	m.Relayed(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`chatdesk_api_requests_total{method="GET",route="/api/messaging/conversations/:id",status="200"} 1`,
		`status="error"`,
		`chatdesk_realtime_events_total{event="new_message"} 1`,
		"chatdesk_realtime_connected 1",
		"chatdesk_unread_notifications 3",
		`chatdesk_feed_operations_total{op="backfill",result="error"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", 200, time.Second)
	m.LiveEvent("x")
	m.SetConnected(false)
	m.FeedOp("send", nil)
	m.WSConnected()
	if m.Handler() == nil {
		t.Error("nil metrics should still serve a handler")
	}
}
