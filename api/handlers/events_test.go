package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/lifecycle"
	"github.com/BaSui01/edgeflow/types"
)

func startHub(t *testing.T, max int) (*EventHub, chan lifecycle.Event) {
	t.Helper()
	src := make(chan lifecycle.Event, 16)
	hub := NewEventHub(src, max, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, src
}

func TestEventHub_StreamsEvents(t *testing.T) {
	hub, src := startHub(t, 0)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleEvents))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	src <- lifecycle.Event{
		Kind:     lifecycle.EventDidLoad,
		ModelID:  "whisper-tiny",
		Modality: types.CapabilitySTT,
		Progress: 1,
		At:       time.Now(),
	}

	var got lifecycle.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, lifecycle.EventDidLoad, got.Kind)
	assert.Equal(t, "whisper-tiny", got.ModelID)
	assert.Equal(t, types.CapabilitySTT, got.Modality)

	conn.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventHub_SubscriberLimit(t *testing.T) {
	hub, _ := startHub(t, 1)

	_, _, err := hub.Subscribe()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	hub.HandleEvents(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrResourceExhausted))
	assert.Equal(t, 1, hub.Subscribers())
}

func TestEventHub_DefaultLimit(t *testing.T) {
	hub := NewEventHub(make(chan lifecycle.Event), 0, nil)

	for range DefaultMaxSubscribers {
		_, _, err := hub.Subscribe()
		require.NoError(t, err)
	}
	_, _, err := hub.Subscribe()
	require.Error(t, err)
	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrResourceExhausted, te.Code)
}

func TestEventHub_DropsWhenSubscriberFull(t *testing.T) {
	hub := NewEventHub(make(chan lifecycle.Event), 1, nil)
	_, ch, err := hub.Subscribe()
	require.NoError(t, err)

	for i := range subscriberBuffer + 3 {
		hub.broadcast(lifecycle.Event{Kind: lifecycle.EventProgress, Progress: float64(i)})
	}

	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, int64(3), hub.Dropped())
}

func TestEventHub_SourceClosedClosesSubscribers(t *testing.T) {
	src := make(chan lifecycle.Event)
	hub := NewEventHub(src, 0, nil)
	_, ch, err := hub.Subscribe()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		hub.Run(context.Background())
		close(done)
	}()
	close(src)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())
}
