package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
	"go.uber.org/zap"
)

// fakeSource serves per-conversation message lists. A non-nil gate blocks
// Latest until it is closed; beforeGate does the same for Before.
type fakeSource struct {
	mu         sync.Mutex
	convs      map[int64][]entity.Message
	nextID     int64
	gates      map[int64]chan struct{}
	beforeGate chan struct{}
	beforeN    atomic.Int32
	sendErr    error
	calls      atomic.Int32
	omitTotal  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{convs: map[int64][]entity.Message{}, gates: map[int64]chan struct{}{}, nextID: 1}
}

func (s *fakeSource) seed(conv int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.convs[conv] = append(s.convs[conv], entity.Message{ID: s.nextID, ConversationID: conv, Content: "m"})
		s.nextID++
	}
}

func (s *fakeSource) Latest(ctx context.Context, conv int64, limit int) (entity.MessagePage, error) {
	s.calls.Add(1)
	s.mu.Lock()
	gate := s.gates[conv]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.convs[conv]
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	page := entity.MessagePage{Messages: append([]entity.Message(nil), all[start:]...), Total: len(all)}
	if s.omitTotal {
		page.Total = -1
	}
	return page, nil
}

func (s *fakeSource) Before(ctx context.Context, conv, beforeID int64, limit int) ([]entity.Message, error) {
	s.calls.Add(1)
	s.beforeN.Add(1)
	s.mu.Lock()
	gate := s.beforeGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var older []entity.Message
	for _, m := range s.convs[conv] {
		if m.ID < beforeID {
			older = append(older, m)
		}
	}
	if len(older) > limit {
		older = older[len(older)-limit:]
	}
	return older, nil
}

func (s *fakeSource) Newest(ctx context.Context, conv int64) (*entity.Message, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.convs[conv]
	if len(all) == 0 {
		return nil, nil
	}
	m := all[len(all)-1]
	return &m, nil
}

func (s *fakeSource) Send(ctx context.Context, conv int64, msg entity.NewMessage) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv] = append(s.convs[conv], entity.Message{ID: s.nextID, ConversationID: conv, Content: msg.Content, SenderType: entity.SenderAdmin})
	s.nextID++
	return nil
}

// fakeViewport renders two lines per message.
type fakeViewport struct {
	msgs         []entity.Message
	top          int
	bottomCalls  int
	smoothBottom int
}

func (v *fakeViewport) SetMessages(msgs []entity.Message) { v.msgs = msgs }
func (v *fakeViewport) ContentHeight() int                { return 2 * len(v.msgs) }
func (v *fakeViewport) ScrollTop() int                    { return v.top }
func (v *fakeViewport) SetScrollTop(top int)              { v.top = top }
func (v *fakeViewport) ScrollToBottom(smooth bool) {
	v.bottomCalls++
	if smooth {
		v.smoothBottom++
	}
	v.top = v.ContentHeight()
}

type countingMarker struct {
	mu    sync.Mutex
	marks []int64
	err   error
}

func (m *countingMarker) MarkRead(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks = append(m.marks, id)
	return m.err
}

func (m *countingMarker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marks)
}

func newTestEngine(src Source) (*Engine, *fakeViewport, *countingMarker) {
	view := &fakeViewport{}
	marker := &countingMarker{}
	logger := zap.NewNop()
	e := NewEngine(Config{PageSize: 50}, src, view, marker, safego.Inline(logger), logger)
	return e, view, marker
}

func TestInitialLoad_ScrollsToBottomOnce(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 10)
	e, view, marker := newTestEngine(src)

	if err := e.Open(context.Background(), 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := e.State()
	if len(st.Messages) != 10 || st.HasMore || st.FirstLoad {
		t.Errorf("unexpected state: %d messages, hasMore=%v firstLoad=%v", len(st.Messages), st.HasMore, st.FirstLoad)
	}
	if view.bottomCalls != 1 {
		t.Errorf("expected one scroll to bottom, got %d", view.bottomCalls)
	}

	// A reload of the same selection keeps the user's scroll position.
	view.top = 3
	if err := e.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad: %v", err)
	}
	if view.bottomCalls != 1 || view.top != 3 {
		t.Errorf("reload must not scroll: calls=%d top=%d", view.bottomCalls, view.top)
	}
	if marker.count() != 2 {
		t.Errorf("each initial load marks read, got %d", marker.count())
	}
}

func TestHasMore_PageSequence(t *testing.T) {
	src := newFakeSource()
	src.seed(7, 120)
	e, _, _ := newTestEngine(src)
	ctx := context.Background()

	if err := e.Open(ctx, 7); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st := e.State(); !st.HasMore || len(st.Messages) != 50 {
		t.Fatalf("after initial load: hasMore=%v len=%d", st.HasMore, len(st.Messages))
	}

	n, err := e.Backfill(ctx)
	if err != nil || n != 50 {
		t.Fatalf("first backfill: n=%d err=%v", n, err)
	}
	if st := e.State(); !st.HasMore || len(st.Messages) != 100 {
		t.Fatalf("after full backfill: hasMore=%v len=%d", st.HasMore, len(st.Messages))
	}

	n, err = e.Backfill(ctx)
	if err != nil || n != 20 {
		t.Fatalf("second backfill: n=%d err=%v", n, err)
	}
	st := e.State()
	if st.HasMore {
		t.Error("short page should clear hasMore")
	}
	if len(st.Messages) != 120 || !Ascending(st.Messages) {
		t.Errorf("window should hold all 120 ascending, got %d", len(st.Messages))
	}

	before := src.calls.Load()
	if n, err := e.Backfill(ctx); n != 0 || err != nil {
		t.Errorf("backfill without more should be a no-op, got %d %v", n, err)
	}
	if src.calls.Load() != before {
		t.Error("no-op backfill must not hit the source")
	}
}

func TestHasMore_WithoutTotal(t *testing.T) {
	src := newFakeSource()
	src.omitTotal = true
	src.seed(1, 50)
	e, _, _ := newTestEngine(src)

	if err := e.Open(context.Background(), 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !e.State().HasMore {
		t.Error("a full page with unknown total may have more")
	}
	if n, _ := e.Backfill(context.Background()); n != 0 {
		t.Errorf("nothing older exists, got %d", n)
	}
	if e.State().HasMore {
		t.Error("an empty older page clears hasMore")
	}
}

func TestBackfill_RestoresScrollPosition(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 80)
	e, view, _ := newTestEngine(src)
	ctx := context.Background()

	if err := e.Open(ctx, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	view.top = 4 // user scrolled near the top

	if _, err := e.Backfill(ctx); err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	// 30 older messages at two lines each were inserted above.
	if view.top != 60+4 {
		t.Errorf("scroll top: got %d, want %d", view.top, 64)
	}
}

func TestBackfill_EmptyWindowIsNoop(t *testing.T) {
	src := newFakeSource()
	e, _, _ := newTestEngine(src)
	if err := e.Open(context.Background(), 3); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n, err := e.Backfill(context.Background()); n != 0 || err != nil {
		t.Errorf("got %d %v", n, err)
	}
}

func TestLiveAppend_Idempotent(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 5)
	e, view, marker := newTestEngine(src)
	ctx := context.Background()
	if err := e.Open(ctx, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}

	src.seed(1, 1)
	appended, err := e.LiveAppend(ctx, 1)
	if err != nil || !appended {
		t.Fatalf("first append: %v %v", appended, err)
	}
	first := e.State().Messages

	appended, err = e.LiveAppend(ctx, 1)
	if err != nil || appended {
		t.Fatalf("second append of the same message: %v %v", appended, err)
	}
	second := e.State().Messages

	if len(first) != 6 || len(second) != 6 {
		t.Fatalf("lengths: %d %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("window changed at %d", i)
		}
	}
	if view.smoothBottom != 2 {
		t.Errorf("live append scrolls smoothly, got %d", view.smoothBottom)
	}
	if marker.count() != 3 {
		t.Errorf("initial load + two live appends mark read, got %d", marker.count())
	}
}

func TestLiveAppend_OtherConversationIgnored(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 3)
	src.seed(2, 3)
	e, _, _ := newTestEngine(src)
	if err := e.Open(context.Background(), 1); err != nil {
		t.Fatalf("Open: %v", err)
	}

	before := src.calls.Load()
	appended, err := e.LiveAppend(context.Background(), 2)
	if appended || err != nil {
		t.Errorf("got %v %v", appended, err)
	}
	if src.calls.Load() != before {
		t.Error("pushes for other conversations must not fetch")
	}
}

func TestSelect_ResetsStateBeforeFetch(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 120)
	src.seed(2, 10)
	e, _, _ := newTestEngine(src)
	ctx := context.Background()
	if err := e.Open(ctx, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st := e.State(); !st.HasMore || st.FirstLoad {
		t.Fatalf("precondition: %+v", st)
	}

	gate := make(chan struct{})
	src.mu.Lock()
	src.gates[2] = gate
	src.mu.Unlock()

	done := make(chan error, 1)
	e.Select(2)
	go func() { done <- e.InitialLoad(ctx) }()

	st := e.State()
	if st.HasMore || !st.FirstLoad || len(st.Messages) != 0 || st.ConversationID != 2 {
		t.Errorf("state leaked from previous conversation: %+v", st)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("InitialLoad: %v", err)
	}
	if st := e.State(); len(st.Messages) != 10 || st.HasMore {
		t.Errorf("after load: %d messages hasMore=%v", len(st.Messages), st.HasMore)
	}
}

func TestBackfill_InFlightAndStale(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 120)
	src.seed(2, 50)
	e, view, _ := newTestEngine(src)
	ctx := context.Background()

	if err := e.Open(ctx, 1); err != nil {
		t.Fatalf("Open(1): %v", err)
	}
	gate := make(chan struct{})
	src.mu.Lock()
	src.beforeGate = gate
	src.mu.Unlock()

	slow := make(chan error, 1)
	go func() {
		_, err := e.Backfill(ctx)
		slow <- err
	}()

	deadline := time.Now().Add(time.Second)
	for src.beforeN.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !e.State().LoadingOlder {
		t.Fatal("expected LoadingOlder while the backfill is in flight")
	}

	// A second request while one is running must not reach the source.
	if n, err := e.Backfill(ctx); n != 0 || err != nil {
		t.Errorf("concurrent backfill: got %d %v", n, err)
	}
	if got := src.beforeN.Load(); got != 1 {
		t.Errorf("Before called %d times, want 1", got)
	}

	if err := e.Open(ctx, 2); err != nil {
		t.Fatalf("Open(2): %v", err)
	}
	close(gate)

	if err := <-slow; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	st := e.State()
	if st.ConversationID != 2 || len(st.Messages) != 50 || st.LoadingOlder {
		t.Errorf("state after stale backfill: conversation=%d len=%d loadingOlder=%v",
			st.ConversationID, len(st.Messages), st.LoadingOlder)
	}
	for i, m := range st.Messages {
		if m.ConversationID != 2 {
			t.Fatalf("window holds message of conversation %d", m.ConversationID)
		}
		if i > 0 && st.Messages[i-1].ID >= m.ID {
			t.Fatalf("window not ascending at %d", i)
		}
	}
	if len(view.msgs) != 50 {
		t.Errorf("viewport shows %d messages, want 50", len(view.msgs))
	}
}

func TestInitialLoad_StaleResponseDiscarded(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 30)
	src.seed(2, 4)
	e, view, _ := newTestEngine(src)
	ctx := context.Background()

	gate := make(chan struct{})
	src.mu.Lock()
	src.gates[1] = gate
	src.mu.Unlock()

	slow := make(chan error, 1)
	e.Select(1)
	go func() { slow <- e.InitialLoad(ctx) }()

	// Wait until the slow request is in flight, then switch.
	deadline := time.Now().Add(time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := e.Open(ctx, 2); err != nil {
		t.Fatalf("Open(2): %v", err)
	}
	close(gate)

	if err := <-slow; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	st := e.State()
	if st.ConversationID != 2 || len(st.Messages) != 4 {
		t.Errorf("stale page leaked: conversation=%d len=%d", st.ConversationID, len(st.Messages))
	}
	for _, m := range view.msgs {
		if m.ConversationID != 2 {
			t.Fatalf("viewport shows message of conversation %d", m.ConversationID)
		}
	}
}

func TestSend_RoundTripsThroughFetch(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 2)
	e, _, _ := newTestEngine(src)
	ctx := context.Background()
	if err := e.Open(ctx, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := e.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := e.State().Messages
	last := msgs[len(msgs)-1]
	if len(msgs) != 3 || last.Content != "hello" || last.SenderType != entity.SenderAdmin {
		t.Errorf("sent message not appended from the server copy: %+v", last)
	}
}

func TestSend_FailureLeavesWindow(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 2)
	src.sendErr = errors.New("backend down")
	e, _, _ := newTestEngine(src)
	ctx := context.Background()
	if err := e.Open(ctx, 1); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := e.Send(ctx, "hello"); err == nil {
		t.Fatal("send error should surface")
	}
	if len(e.State().Messages) != 2 {
		t.Error("failed send must not append")
	}
	if err := e.Send(ctx, "   "); !errors.Is(err, entity.ErrEmptyContent) {
		t.Errorf("blank text: got %v", err)
	}
}

func TestReadMarkFailureIgnored(t *testing.T) {
	src := newFakeSource()
	src.seed(1, 1)
	view := &fakeViewport{}
	marker := &countingMarker{err: errors.New("offline")}
	e := NewEngine(Config{}, src, view, marker, safego.Inline(zap.NewNop()), zap.NewNop())

	if err := e.Open(context.Background(), 1); err != nil {
		t.Fatalf("read mark failure must not fail the load: %v", err)
	}
	if e.PageSize() != DefaultPageSize {
		t.Errorf("page size default: got %d", e.PageSize())
	}
}

func TestWindowHelpers(t *testing.T) {
	mk := func(ids ...int64) []entity.Message {
		out := make([]entity.Message, len(ids))
		for i, id := range ids {
			out[i] = entity.Message{ID: id}
		}
		return out
	}
	ids := func(msgs []entity.Message) []int64 {
		out := make([]int64, len(msgs))
		for i, m := range msgs {
			out[i] = m.ID
		}
		return out
	}

	w := normalize(mk(5, 3, 5, 4))
	if got := ids(w); !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) || len(got) != 3 {
		t.Errorf("normalize: %v", got)
	}

	w2, ok := merge(w, entity.Message{ID: 6})
	if !ok || ids(w2)[3] != 6 {
		t.Errorf("merge newest: %v", ids(w2))
	}
	if _, ok := merge(w2, entity.Message{ID: 4}); ok {
		t.Error("duplicate id must not merge")
	}
	if _, ok := merge(w2, entity.Message{ID: 1}); ok {
		t.Error("ids older than the window must not merge")
	}

	p := prepend(mk(3, 4), mk(1, 2, 3, 4))
	if got := ids(p); len(got) != 4 || !Ascending(p) {
		t.Errorf("prepend overlap: %v", got)
	}
}
