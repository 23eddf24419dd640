package monitoring

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the console's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can take it as
// an optional dependency.
type Metrics struct {
	gatherer prometheus.Gatherer

	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
	liveEvents    *prometheus.CounterVec
	liveConnected prometheus.Gauge
	unread        prometheus.Gauge
	feedOps       *prometheus.CounterVec
	relayed       *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
	wsClients    prometheus.Gauge
	wsDelivered  prometheus.Counter
}

// NewMetrics registers every collector on reg. reg must also be a Gatherer
// for Handler to serve it; a *prometheus.Registry is both.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_api_requests_total",
			Help: "REST calls made to the messaging backend.",
		}, []string{"method", "route", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatdesk_api_request_duration_seconds",
			Help:    "Latency of REST calls to the messaging backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		liveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_realtime_events_total",
			Help: "Live events received on the realtime channel.",
		}, []string{"event"}),
		liveConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatdesk_realtime_connected",
			Help: "1 while the realtime channel is open.",
		}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatdesk_unread_notifications",
			Help: "Unread admin notifications shown on the badge.",
		}),
		feedOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_feed_operations_total",
			Help: "Conversation feed operations by outcome.",
		}, []string{"op", "result"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_relay_messages_total",
			Help: "Notifications relayed to Telegram.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_sandbox_http_requests_total",
			Help: "Requests served by the sandbox backend.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatdesk_sandbox_http_request_duration_seconds",
			Help:    "Histogram of sandbox request durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatdesk_sandbox_http_inflight_requests",
			Help: "Sandbox requests currently being handled.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatdesk_sandbox_ws_connections",
			Help: "Current number of sandbox websocket connections.",
		}),
		wsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_sandbox_ws_messages_delivered_total",
			Help: "Websocket frames delivered by the sandbox hub.",
		}),
	}

	reg.MustRegister(
		m.apiRequests, m.apiDuration, m.liveEvents, m.liveConnected, m.unread,
		m.feedOps, m.relayed, m.httpRequests, m.httpDuration, m.httpInFlight,
		m.wsClients, m.wsDelivered,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveAPI records one backend call. status is 0 when the request never got
// a response.
func (m *Metrics) ObserveAPI(method, urlPath string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route := RouteLabel(urlPath)
	statusLabel := "error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	m.apiRequests.WithLabelValues(method, route, statusLabel).Inc()
	m.apiDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// LiveEvent counts one received event.
func (m *Metrics) LiveEvent(name string) {
	if m == nil {
		return
	}
	m.liveEvents.WithLabelValues(name).Inc()
}

// SetConnected 实时通道状态
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.liveConnected.Set(1)
	} else {
		m.liveConnected.Set(0)
	}
}

// SetUnread 未读通知数
func (m *Metrics) SetUnread(n int) {
	if m == nil {
		return
	}
	m.unread.Set(float64(n))
}

// FeedOp counts a feed operation; err nil means ok.
func (m *Metrics) FeedOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.feedOps.WithLabelValues(op, result).Inc()
}

// Relayed counts a Telegram relay attempt.
func (m *Metrics) Relayed(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.relayed.WithLabelValues("error").Inc()
		return
	}
	m.relayed.WithLabelValues("ok").Inc()
}

// WSConnected / WSDisconnected track sandbox hub clients.
func (m *Metrics) WSConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) WSDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}

// WSDelivered counts frames written by the sandbox hub.
func (m *Metrics) WSDelivered(n int) {
	if m != nil {
		m.wsDelivered.Add(float64(n))
	}
}

// GinMiddleware instruments sandbox routes with counters and histograms.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		c.Next()
		elapsed := time.Since(start).Seconds()

		p := c.FullPath()
		if p == "" {
			p = RouteLabel(c.Request.URL.Path)
		}
		labels := []string{c.Request.Method, p, strconv.Itoa(c.Writer.Status())}
		m.httpRequests.WithLabelValues(labels...).Inc()
		m.httpDuration.WithLabelValues(labels...).Observe(elapsed)
	}
}

// RouteLabel reduces cardinality: numeric segments become ":id" and backup
// file names become ":file".
func RouteLabel(p string) string {
	clean := path.Clean("/" + p)
	segments := strings.Split(clean, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			segments[i] = ":id"
		} else if strings.HasSuffix(s, ".db") {
			segments[i] = ":file"
		}
	}
	return strings.Join(segments, "/")
}
