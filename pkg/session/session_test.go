package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/internal/ws"
	"nakula/pkg/aster"
	"nakula/pkg/core"
)

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	cfg := core.DefaultConfig("BTCUSDT").
		WithEndpoints("https://example.com", "wss://example.com/ws")
	s, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	return s
}

func TestNewSession(t *testing.T) {
	s := newTestSession(t)
	assert.False(t, s.IsConnected())
	assert.Equal(t, ws.StateDisconnected, s.State())
	assert.Empty(t, s.Subscriptions())
}

func TestSession_SubscriptionSetSurvivesDisconnect(t *testing.T) {
	s := newTestSession(t)

	require.NoError(t, s.Subscribe("btcusdt@depth5@100ms", "btcusdt@miniTicker"))
	require.NoError(t, s.Subscribe("btcusdt@kline_1m"))
	require.NoError(t, s.Unsubscribe("btcusdt@kline_1m"))

	// Disconnected subscribes register without sending; the set is what
	// gets replayed after a reconnect.
	subs := s.Subscriptions()
	assert.ElementsMatch(t, []string{"btcusdt@depth5@100ms", "btcusdt@miniTicker"}, subs)

	s.onClose(assert.AnError)
	assert.ElementsMatch(t, []string{"btcusdt@depth5@100ms", "btcusdt@miniTicker"}, s.Subscriptions())
}

func TestSession_ListenKeyNotInSubscriptionSet(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Subscribe("btcusdt@miniTicker"))

	s.mu.Lock()
	s.listenKey = "abc123"
	s.mu.Unlock()

	assert.ElementsMatch(t, []string{"btcusdt@miniTicker"}, s.Subscriptions())
}

func TestSession_SubscribeWhileDisconnected(t *testing.T) {
	s := newTestSession(t)
	// No socket: registration succeeds, nothing is sent.
	assert.NoError(t, s.Subscribe("btcusdt@miniTicker"))
	assert.NoError(t, s.Unsubscribe("btcusdt@miniTicker"))
}

func TestSession_WriteWhenNotConnected(t *testing.T) {
	s := newTestSession(t)
	err := s.writeText([]byte("pong"))
	assert.ErrorIs(t, err, core.ErrNotConnected)
}

func TestSession_FrameDispatch(t *testing.T) {
	var frames [][]byte
	s := newTestSession(t, WithFrameHandler(func(data []byte) {
		frames = append(frames, data)
	}))

	s.onMessage([]byte(`{"e":"24hrMiniTicker","s":"BTCUSDT"}`))
	s.onMessage([]byte(`[1,2,3]`))
	// Non-JSON junk and empty frames are dropped silently.
	s.onMessage([]byte("garbage"))
	s.onMessage(nil)
	// A text ping is answered, not forwarded.
	s.onMessage([]byte("ping"))

	require.Len(t, frames, 2)
	assert.Equal(t, `{"e":"24hrMiniTicker","s":"BTCUSDT"}`, string(frames[0]))
}

func TestSession_BootstrapRetriesThenGivesUp(t *testing.T) {
	attempts := 0
	cfg := core.DefaultConfig("BTCUSDT").
		WithEndpoints("https://example.com", "wss://example.com/ws")
	cfg.BootstrapRetries = 3
	cfg.BootstrapBackoff = time.Millisecond

	s, err := New(cfg, nil, WithBootstrap(func(ctx context.Context) error {
		attempts++
		return assert.AnError
	}))
	require.NoError(t, err)

	err = s.runBootstrap()
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSession_BootstrapSucceedsAfterFailure(t *testing.T) {
	attempts := 0
	cfg := core.DefaultConfig("BTCUSDT").
		WithEndpoints("https://example.com", "wss://example.com/ws")
	cfg.BootstrapBackoff = time.Millisecond

	s, err := New(cfg, nil, WithBootstrap(func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return assert.AnError
		}
		return nil
	}))
	require.NoError(t, err)

	assert.NoError(t, s.runBootstrap())
	assert.Equal(t, 2, attempts)
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: 2 * time.Second}
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 6*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}

// streamRecorder is the server side of a websocket test: it logs the params
// of every SUBSCRIBE frame per accepted connection.
type streamRecorder struct {
	gws.BuiltinEventHandler
	mu     sync.Mutex
	frames [][][]string
	index  map[*gws.Conn]int
}

func (r *streamRecorder) track(socket *gws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index[socket] = len(r.frames)
	r.frames = append(r.frames, nil)
}

func (r *streamRecorder) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	var req streamRequest
	if err := sonic.Unmarshal(message.Bytes(), &req); err != nil || req.Method != "SUBSCRIBE" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[socket]; ok {
		r.frames[i] = append(r.frames[i], req.Params)
	}
}

func (r *streamRecorder) conn(i int) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.frames) {
		return nil
	}
	out := make([][]string, len(r.frames[i]))
	copy(out, r.frames[i])
	return out
}

func assertReplayFrames(t *testing.T, frames [][]string, listenKey string) {
	t.Helper()
	require.Len(t, frames, 2)

	var channelFrames, keyFrames [][]string
	for _, params := range frames {
		if len(params) == 1 && strings.HasPrefix(params[0], "lk-") {
			keyFrames = append(keyFrames, params)
		} else {
			channelFrames = append(channelFrames, params)
		}
	}
	require.Len(t, channelFrames, 1, "exactly one frame replays the regular channels")
	require.Len(t, keyFrames, 1, "exactly one frame subscribes the listen key")
	assert.ElementsMatch(t, []string{"btcusdt@depth5@100ms", "btcusdt@miniTicker"}, channelFrames[0])
	assert.Equal(t, []string{listenKey}, keyFrames[0])
}

func TestSession_ReconnectReplaysSubscriptionsWithFreshListenKey(t *testing.T) {
	var keyCount atomic.Int64
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fapi/v1/listenKey" && r.Method == http.MethodPost {
			_, _ = fmt.Fprintf(w, `{"listenKey":"lk-%d"}`, keyCount.Add(1))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer rest.Close()

	recorder := &streamRecorder{index: make(map[*gws.Conn]int)}
	upgrader := gws.NewUpgrader(recorder, &gws.ServerOption{})
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		recorder.track(socket)
		go socket.ReadLoop()
	}))
	defer wsSrv.Close()

	cfg := core.DefaultConfig("BTCUSDT").
		WithCredentials(&core.Credentials{APIKey: "k", SecretKey: "s"}).
		WithEndpoints(rest.URL, "ws"+strings.TrimPrefix(wsSrv.URL, "http"))
	cfg.ReconnectDelay = 50 * time.Millisecond

	client, err := aster.New(cfg)
	require.NoError(t, err)
	defer client.Close()

	s, err := New(cfg, client)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Subscribe("btcusdt@depth5@100ms", "btcusdt@miniTicker"))
	require.NoError(t, s.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return len(recorder.conn(0)) == 2
	}, 2*time.Second, 10*time.Millisecond, "first connect subscribes channels and listen key")
	assertReplayFrames(t, recorder.conn(0), "lk-1")

	s.ForceReconnect()

	// The new connection re-sends exactly the prior regular channels plus
	// one SUBSCRIBE for a listen key that was freshly created, not reused.
	require.Eventually(t, func() bool {
		return len(recorder.conn(1)) == 2
	}, 2*time.Second, 10*time.Millisecond, "reconnect replays the set with a fresh key")
	assertReplayFrames(t, recorder.conn(1), "lk-2")
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, ws.StateClosed, s.State())
}

func TestSession_NoReconnectAfterClose(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Close())

	// A late close event from the read loop must not flip the state back
	// or arm the reconnect timer.
	s.onClose(assert.AnError)
	assert.Equal(t, ws.StateClosed, s.State())
	assert.False(t, s.reconnect.Pending())
}
