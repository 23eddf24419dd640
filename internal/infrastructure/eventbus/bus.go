package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"go.uber.org/zap"
)

// Wildcard subscribers receive every event.
const Wildcard entity.EventName = "*"

// Event 事件接口
type Event interface {
	Name() entity.EventName
	Timestamp() time.Time
	Payload() any
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventName      entity.EventName
	EventTimestamp time.Time
	EventPayload   any
}

// Name 返回事件名
func (e *BaseEvent) Name() entity.EventName {
	return e.EventName
}

// Timestamp 返回事件时间戳
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTimestamp
}

// Payload 返回事件载荷
func (e *BaseEvent) Payload() any {
	return e.EventPayload
}

// NewEvent 创建新事件
func NewEvent(name entity.EventName, payload any) *BaseEvent {
	return &BaseEvent{
		EventName:      name,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event Event)

// Subscription identifies one registered handler. The zero value is inert.
type Subscription struct {
	name entity.EventName
	id   uint64
}

// Valid reports whether s came from Subscribe.
func (s Subscription) Valid() bool {
	return s.id != 0
}

// Bus 事件总线接口
type Bus interface {
	// Publish 发布事件
	Publish(ctx context.Context, event Event)
	// Subscribe 订阅事件, 返回用于取消订阅的句柄
	Subscribe(name entity.EventName, handler Handler) Subscription
	// Unsubscribe 取消订阅
	Unsubscribe(sub Subscription)
	// Close 关闭事件总线
	Close()
}

// InMemoryBus 内存事件总线
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[entity.EventName][]registered
	eventChan chan eventWrapper
	closed    bool
	nextID    atomic.Uint64
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type registered struct {
	id      uint64
	handler Handler
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus 创建内存事件总线
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	bus := &InMemoryBus{
		handlers:  make(map[entity.EventName][]registered),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger.With(zap.String("component", "eventbus")),
	}

	// 启动事件分发协程
	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish 发布事件
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	// 非阻塞发送
	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("Event published",
			zap.String("event", string(event.Name())),
		)
	default:
		b.logger.Warn("Event buffer full, dropping event",
			zap.String("event", string(event.Name())),
		)
	}
}

// Subscribe 订阅事件
func (b *InMemoryBus) Subscribe(name entity.EventName, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.handlers[name] = append(b.handlers[name], registered{id: id, handler: handler})

	b.logger.Debug("Handler subscribed",
		zap.String("event", string(name)),
		zap.Uint64("subscription", id),
	)
	return Subscription{name: name, id: id}
}

// Unsubscribe 取消订阅. Unknown or already removed handles are ignored.
func (b *InMemoryBus) Unsubscribe(sub Subscription) {
	if !sub.Valid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[sub.name]
	for i, r := range handlers {
		if r.id != sub.id {
			continue
		}
		kept := make([]registered, 0, len(handlers)-1)
		kept = append(kept, handlers[:i]...)
		kept = append(kept, handlers[i+1:]...)
		if len(kept) == 0 {
			delete(b.handlers, sub.name)
		} else {
			b.handlers[sub.name] = kept
		}
		return
	}
}

// HandlerCount returns the number of handlers registered for name.
func (b *InMemoryBus) HandlerCount(name entity.EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Close 关闭事件总线, 已入队的事件会先分发完
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Debug("Event bus closed")
}

// dispatch 事件分发循环
func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

// dispatchEvent 分发单个事件
func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0)
	for _, r := range b.handlers[event.Name()] {
		handlers = append(handlers, r.handler)
	}
	// 通配符处理器
	for _, r := range b.handlers[Wildcard] {
		handlers = append(handlers, r.handler)
	}
	b.mu.RUnlock()

	// 并行执行处理器
	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Handler panicked",
						zap.String("event", string(event.Name())),
						zap.Any("panic", r),
					)
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// Decode extracts a typed payload. Payloads that arrive off the wire are
// json.RawMessage and are unmarshalled into T.
func Decode[T any](event Event) (T, error) {
	var out T
	switch p := event.Payload().(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, fmt.Errorf("event %s: nil payload", event.Name())
		}
		return *p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &out); err != nil {
			return out, fmt.Errorf("event %s: %w", event.Name(), err)
		}
		return out, nil
	case []byte:
		if err := json.Unmarshal(p, &out); err != nil {
			return out, fmt.Errorf("event %s: %w", event.Name(), err)
		}
		return out, nil
	case nil:
		return out, nil
	default:
		// map[string]any from a replayed journal
		data, err := json.Marshal(p)
		if err != nil {
			return out, fmt.Errorf("event %s: %w", event.Name(), err)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("event %s: %w", event.Name(), err)
		}
		return out, nil
	}
}

// On subscribes fn to name with the payload decoded as T. Events whose payload
// does not decode are dropped.
func On[T any](bus Bus, name entity.EventName, fn func(ctx context.Context, payload T)) Subscription {
	return bus.Subscribe(name, func(ctx context.Context, event Event) {
		payload, err := Decode[T](event)
		if err != nil {
			return
		}
		fn(ctx, payload)
	})
}

// Subscriptions collects handles so a component can release all of them when
// it stops.
type Subscriptions struct {
	mu   sync.Mutex
	subs []Subscription
}

// Add records sub.
func (s *Subscriptions) Add(sub Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// Release unsubscribes everything recorded so far.
func (s *Subscriptions) Release(bus Bus) {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		bus.Unsubscribe(sub)
	}
}

// Len 当前持有的订阅数
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
