package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/lifecycle"
	"github.com/BaSui01/edgeflow/types"
)

// =============================================================================
// 📡 生命周期事件推送
// =============================================================================

const (
	// DefaultMaxSubscribers 单个 hub 允许的最大订阅数
	DefaultMaxSubscribers = 8

	subscriberBuffer = 32
	writeTimeout     = 5 * time.Second
)

// EventHub 将 tracker 事件广播给 websocket 订阅者。
// 订阅者缓冲区满时丢弃该事件，不阻塞其他订阅者。
type EventHub struct {
	source <-chan lifecycle.Event
	max    int
	logger *zap.Logger

	mu      sync.RWMutex
	subs    map[string]chan lifecycle.Event
	dropped int64
}

// NewEventHub 创建事件 hub，max<=0 时使用 DefaultMaxSubscribers
func NewEventHub(source <-chan lifecycle.Event, max int, logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if max <= 0 {
		max = DefaultMaxSubscribers
	}
	return &EventHub{
		source: source,
		max:    max,
		logger: logger.With(zap.String("component", "event_hub")),
		subs:   make(map[string]chan lifecycle.Event),
	}
}

// Run 转发事件直到 ctx 结束或事件源关闭
func (h *EventHub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.source:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *EventHub) broadcast(ev lifecycle.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
			h.logger.Debug("subscriber buffer full, event dropped",
				zap.String("subscriber", id),
				zap.String("kind", string(ev.Kind)))
		}
	}
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribe 注册订阅者，超过上限时返回 RESOURCE_EXHAUSTED
func (h *EventHub) Subscribe() (string, <-chan lifecycle.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) >= h.max {
		return "", nil, types.Errorf(types.ErrResourceExhausted, "event subscribers at capacity (%d)", h.max)
	}
	id := uuid.NewString()
	ch := make(chan lifecycle.Event, subscriberBuffer)
	h.subs[id] = ch
	return id, ch, nil
}

// Unsubscribe 移除订阅者
func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribers 返回当前订阅数
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 返回因订阅者缓冲区满而丢弃的事件数
func (h *EventHub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// HandleEvents 处理 /api/v1/events，升级为 websocket 并推送 JSON 事件
func (h *EventHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id, events, err := h.Subscribe()
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, Response{
			Success:   false,
			Error:     &ErrorInfo{Code: string(types.ErrResourceExhausted), Message: err.Error(), Retryable: true},
			Timestamp: time.Now(),
			RequestID: requestID(r),
		})
		return
	}
	defer h.Unsubscribe(id)

	// 事件流是长连接，清除 http.Server 的写超时
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 只推不收，CloseRead 负责处理控制帧并在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	h.logger.Debug("event subscriber connected", zap.String("subscriber", id))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				h.logger.Debug("event write failed", zap.String("subscriber", id), zap.Error(err))
				return
			}
		}
	}
}
