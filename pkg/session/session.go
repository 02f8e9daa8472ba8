// Package session manages the websocket connection lifecycle: dialing,
// keepalive, listen-key renewal, bootstrap-with-retry and automatic
// reconnection with subscription replay.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"nakula/internal/timer"
	"nakula/internal/ws"
	"nakula/pkg/aster"
	"nakula/pkg/core"
)

// heartbeatPayload is the unsolicited keepalive frame. The exchange also
// sends a text "ping" and expects the same reply.
const heartbeatPayload = "pong"

// BootstrapFunc seeds local state from REST after the socket opens. It runs
// on every (re)connect, before subscriptions are replayed.
type BootstrapFunc func(ctx context.Context) error

// FrameFunc receives every well-formed JSON frame from the stream.
type FrameFunc func(data []byte)

// Session owns one websocket connection and its maintenance timers. All
// exported methods are safe for concurrent use.
type Session struct {
	config *core.Config
	client *aster.Client
	logger zerolog.Logger

	state     *ws.State
	handler   *eventHandler
	requestID atomic.Int64

	bootstrap BootstrapFunc
	onFrame   FrameFunc
	onUp      func()

	heartbeat *timer.Ticker
	renewal   *timer.Ticker
	reconnect *timer.Task

	mu        sync.Mutex
	conn      *gws.Conn
	subs      map[string]struct{}
	listenKey string

	wg       conc.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithBootstrap sets the function that seeds state after each (re)connect.
func WithBootstrap(fn BootstrapFunc) Option {
	return func(s *Session) {
		s.bootstrap = fn
	}
}

// WithFrameHandler sets the consumer for incoming JSON frames.
func WithFrameHandler(fn FrameFunc) Option {
	return func(s *Session) {
		s.onFrame = fn
	}
}

// WithReadyHook sets a callback invoked after a (re)connect completes
// bootstrap and subscription replay.
func WithReadyHook(fn func()) Option {
	return func(s *Session) {
		s.onUp = fn
	}
}

// New creates a Session. The aster client provides listen-key management;
// credentials are optional for market-data-only sessions.
func New(config *core.Config, client *aster.Client, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	s := &Session{
		config:    config,
		client:    client,
		logger:    zerolog.Nop(),
		state:     &ws.State{},
		heartbeat: timer.NewTicker(),
		renewal:   timer.NewTicker(),
		reconnect: timer.NewTask(),
		subs:      make(map[string]struct{}),
		stopChan:  make(chan struct{}),
	}
	s.state.Store(ws.StateDisconnected)
	s.handler = &eventHandler{session: s}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect dials the stream endpoint. It returns once the socket is open;
// bootstrap and subscription replay run asynchronously afterwards.
func (s *Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(ws.StateDisconnected, ws.StateConnecting) {
		current := s.state.Load()
		if current == ws.StateOpen {
			return nil
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	socket, _, err := gws.NewClient(s.handler, &gws.ClientOption{
		Addr: s.config.WebsocketURL,
	})
	if err != nil {
		s.state.Store(ws.StateDisconnected)
		return fmt.Errorf("dial websocket: %w", err)
	}

	s.mu.Lock()
	s.conn = socket
	s.mu.Unlock()

	s.wg.Go(socket.ReadLoop)
	return nil
}

// Close shuts the session down: timers are canceled, the listen key is
// revoked and the socket is closed. The session cannot be reused.
func (s *Session) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.state.Store(ws.StateClosing)

	s.heartbeat.Stop()
	s.renewal.Stop()
	s.reconnect.Cancel()

	s.mu.Lock()
	conn := s.conn
	hadKey := s.listenKey != ""
	s.listenKey = ""
	s.mu.Unlock()

	if hadKey && s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		if err := s.client.CloseListenKey(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("listen key revocation failed")
		}
		cancel()
	}

	if conn != nil {
		_ = conn.NetConn().Close()
	}
	s.wg.Wait()
	s.state.Store(ws.StateClosed)
	return nil
}

// State returns the connection lifecycle state.
func (s *Session) State() ws.ConnState {
	return s.state.Load()
}

// IsConnected reports whether the socket is open.
func (s *Session) IsConnected() bool {
	return s.state.Load() == ws.StateOpen
}

// Subscribe registers channels in the durable subscription set and, when
// connected, sends the subscribe request. Registered channels are replayed
// on every reconnect.
func (s *Session) Subscribe(channels ...string) error {
	s.mu.Lock()
	for _, ch := range channels {
		s.subs[ch] = struct{}{}
	}
	s.mu.Unlock()

	if !s.IsConnected() {
		return nil
	}
	return s.sendRequest("SUBSCRIBE", channels)
}

// Unsubscribe removes channels from the subscription set and, when
// connected, sends the unsubscribe request.
func (s *Session) Unsubscribe(channels ...string) error {
	s.mu.Lock()
	for _, ch := range channels {
		delete(s.subs, ch)
	}
	s.mu.Unlock()

	if !s.IsConnected() {
		return nil
	}
	return s.sendRequest("UNSUBSCRIBE", channels)
}

// Subscriptions returns the durable subscription set. The listen-key
// channel is tracked separately and not included.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]string, 0, len(s.subs))
	for ch := range s.subs {
		subs = append(subs, ch)
	}
	return subs
}

// ForceReconnect drops the current socket so the standard reconnect path
// runs. Used when the server invalidates the listen key.
func (s *Session) ForceReconnect() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.NetConn().Close()
	}
}

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (s *Session) sendRequest(method string, channels []string) error {
	if len(channels) == 0 {
		return nil
	}
	data, err := sonic.Marshal(streamRequest{
		Method: method,
		Params: channels,
		ID:     s.requestID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	if err := s.writeText(data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	s.logger.Debug().Str("method", method).Strs("channels", channels).Msg("stream request sent")
	return nil
}

func (s *Session) writeText(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || s.state.Load() != ws.StateOpen {
		return core.ErrNotConnected
	}
	return conn.WriteMessage(gws.OpcodeText, data)
}

// onOpen runs bootstrap with linear backoff, replays subscriptions and
// starts the maintenance timers. Bootstrap exhaustion force-closes the
// socket so the reconnect path gets a fresh start.
func (s *Session) onOpen(socket *gws.Conn) {
	s.state.Store(ws.StateOpen)
	s.logger.Info().Str("url", s.config.WebsocketURL).Msg("websocket connected")

	s.wg.Go(func() {
		if err := s.runBootstrap(); err != nil {
			s.logger.Error().Err(err).Msg("bootstrap exhausted, cycling connection")
			_ = socket.NetConn().Close()
			return
		}
		s.resubscribe()
		s.startPrivateStream()
		s.startHeartbeat()
		if s.onUp != nil {
			s.onUp()
		}
	})
}

func (s *Session) runBootstrap() error {
	if s.bootstrap == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := s.bootstrap(ctx); err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("bootstrap attempt failed")
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(&linearBackOff{step: s.config.BootstrapBackoff}),
		backoff.WithMaxTries(uint(s.config.BootstrapRetries)),
	)
	return err
}

// resubscribe replays the durable subscription set after a (re)connect.
func (s *Session) resubscribe() {
	channels := s.Subscriptions()
	if len(channels) == 0 {
		return
	}
	if err := s.sendRequest("SUBSCRIBE", channels); err != nil {
		s.logger.Error().Err(err).Msg("subscription replay failed")
	}
}

// startPrivateStream creates a fresh listen key and subscribes to it. The
// previous key is abandoned: the server expires it on its own and a stale
// key cannot be renewed across reconnects.
func (s *Session) startPrivateStream() {
	if s.client == nil || s.config.Credentials == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	key, err := s.client.CreateListenKey(ctx)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("listen key creation failed")
		return
	}

	s.mu.Lock()
	s.listenKey = key
	s.mu.Unlock()

	if err := s.sendRequest("SUBSCRIBE", []string{key}); err != nil {
		s.logger.Error().Err(err).Msg("listen key subscribe failed")
		return
	}

	s.renewal.Start(s.config.ListenKeyInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()
		if err := s.client.KeepAliveListenKey(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("listen key renewal failed")
		}
	})
}

func (s *Session) startHeartbeat() {
	s.heartbeat.Start(s.config.HeartbeatInterval, func() {
		if err := s.writeText([]byte(heartbeatPayload)); err != nil {
			s.logger.Debug().Err(err).Msg("heartbeat skipped")
		}
	})
}

// onClose stops maintenance timers and schedules a reconnect at a fixed
// delay. Reconnection retries indefinitely until Close.
func (s *Session) onClose(err error) {
	if s.state.Load() == ws.StateClosing || s.state.Load() == ws.StateClosed {
		return
	}
	s.state.Store(ws.StateDisconnected)
	s.heartbeat.Stop()
	s.renewal.Stop()

	s.mu.Lock()
	s.listenKey = ""
	s.mu.Unlock()

	s.logger.Warn().Err(err).Dur("delay", s.config.ReconnectDelay).Msg("websocket disconnected")

	s.reconnect.Arm(s.config.ReconnectDelay, func() {
		select {
		case <-s.stopChan:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()
		if err := s.Connect(ctx); err != nil {
			s.logger.Error().Err(err).Msg("reconnect failed")
			s.onClose(err)
		}
	})
}

// onMessage answers keepalive probes and forwards JSON frames. Frames that
// are neither are dropped without logging noise.
func (s *Session) onMessage(data []byte) {
	if len(data) == 0 {
		return
	}
	if string(data) == "ping" {
		if err := s.writeText([]byte("pong")); err != nil {
			s.logger.Debug().Err(err).Msg("keepalive reply failed")
		}
		return
	}
	if data[0] != '{' && data[0] != '[' {
		return
	}
	if s.onFrame != nil {
		s.onFrame(data)
	}
}

// eventHandler adapts the session to the gws event interface.
type eventHandler struct {
	session *Session
	gws.BuiltinEventHandler
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	h.session.onOpen(socket)
}

func (h *eventHandler) OnClose(_ *gws.Conn, err error) {
	h.session.onClose(err)
}

func (h *eventHandler) OnPing(socket *gws.Conn, _ []byte) {
	_ = socket.WritePong(nil)
}

func (h *eventHandler) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()
	h.session.onMessage(message.Bytes())
}

// linearBackOff waits step, 2*step, 3*step between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}
