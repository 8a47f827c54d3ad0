package marketchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/marketchat/marketchat-go/marketchat/internal"

	"github.com/coder/websocket"
)

// FrameHandler receives message frame bodies for one subscription. Handlers
// are invoked only from the transport's read loop, never synchronously from
// Subscribe or Unsubscribe.
type FrameHandler func(destination string, body json.RawMessage)

// SubscriptionHandle identifies one live topic subscription.
type SubscriptionHandle struct {
	id    string
	topic string
}

// Topic returns the topic this handle subscribes to.
func (h *SubscriptionHandle) Topic() string {
	if h == nil {
		return ""
	}
	return h.topic
}

// TransportCallbacks are the lifecycle hooks a Transport reports through.
// All connection state transitions are observable only via these callbacks.
type TransportCallbacks struct {
	OnConnected      func()
	OnProtocolError  func(error)
	OnTransportError func(error)
	OnClosed         func()
}

// Transport wraps one physical connection and the frame-level pub/sub
// protocol on top of it. Implementations must be safe for concurrent use.
type Transport interface {
	// Connect dials the endpoint, performs the protocol handshake, and
	// returns once the server acknowledges the session as ready.
	Connect(ctx context.Context, identity Identity) error

	// Subscribe registers a per-topic frame handler. It fails when the
	// transport is not connected.
	Subscribe(topic string, fn FrameHandler) (*SubscriptionHandle, error)

	// Unsubscribe removes a subscription. Unsubscribing an already-removed
	// handle is a no-op.
	Unsubscribe(h *SubscriptionHandle)

	// Publish sends a payload to a destination, fire-and-forget.
	Publish(destination string, payload any) error

	// Disconnect tears down all subscriptions and the socket. Safe to call
	// multiple times.
	Disconnect() error
}

type subEntry struct {
	topic   string
	handler FrameHandler
}

// wsTransport is the production Transport over coder/websocket.
type wsTransport struct {
	cfg    Config
	logger Logger
	cb     TransportCallbacks

	mu         sync.Mutex
	connected  bool
	conn       *internal.Conn
	cancel     context.CancelFunc
	writeCh    chan clientFrame
	subs       map[string]subEntry // subscription id -> entry
	byTopic    map[string]string   // topic -> subscription id
	nextSub    uint64
	closedOnce *sync.Once // per connection, guards OnClosed
}

// NewWSTransport constructs the WebSocket transport. The callbacks struct
// may leave hooks nil.
func NewWSTransport(cfg Config, logger Logger, cb TransportCallbacks) Transport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &wsTransport{
		cfg:     cfg,
		logger:  logger,
		cb:      cb,
		subs:    make(map[string]subEntry),
		byTopic: make(map[string]string),
	}
}

func (t *wsTransport) Connect(ctx context.Context, identity Identity) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return NewError(ErrorConnection, "already connected")
	}
	t.mu.Unlock()

	if len(t.cfg.Endpoints) == 0 {
		return NewError(ErrorInvalidConfig, "no endpoints configured")
	}

	dialCtx := ctx
	if t.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := internal.DialFirst(dialCtx, t.cfg.Endpoints, t.cfg.ReadTimeout, t.cfg.WriteTimeout)
	if err != nil {
		if dialCtx.Err() != nil && ctx.Err() == nil {
			return WrapError(ErrorTimeout, "connect timed out", err)
		}
		return WrapError(ErrorConnection, "dial failed", err)
	}

	hello := clientFrame{
		Type:     clientConnect,
		Protocol: ProtocolVersion,
		Token:    identity.Token,
		User:     identity.Name,
	}
	if err := conn.Write(dialCtx, hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return WrapError(ErrorHandshake, "connect frame write failed", err)
	}

	var ack serverFrame
	if err := conn.Read(dialCtx, &ack); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		if dialCtx.Err() != nil && ctx.Err() == nil {
			return WrapError(ErrorTimeout, "handshake timed out", err)
		}
		return WrapError(ErrorHandshake, "handshake read failed", err)
	}
	switch {
	case ack.Type == serverError && ack.Error != nil:
		_ = conn.Close(websocket.StatusPolicyViolation, "rejected")
		return FromProtocolError(ack.Error)
	case ack.Type != serverConnected:
		_ = conn.Close(websocket.StatusProtocolError, "bad handshake")
		return NewError(ErrorHandshake, fmt.Sprintf("unexpected handshake frame %q", ack.Type))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.writeCh = make(chan clientFrame, 16)
	t.connected = true
	t.closedOnce = new(sync.Once)
	t.mu.Unlock()

	go t.readLoop(runCtx, conn)
	go t.writeLoop(runCtx, conn)

	if t.cb.OnConnected != nil {
		go t.cb.OnConnected()
	}
	return nil
}

func (t *wsTransport) Subscribe(topic string, fn FrameHandler) (*SubscriptionHandle, error) {
	if fn == nil {
		return nil, NewError(ErrorBadRequest, "nil frame handler")
	}
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, NewError(ErrorNotConnected, "subscribe requires a connected transport")
	}
	t.nextSub++
	id := fmt.Sprintf("sub-%d", t.nextSub)
	t.subs[id] = subEntry{topic: topic, handler: fn}
	t.byTopic[topic] = id
	ch := t.writeCh
	t.mu.Unlock()

	t.enqueue(ch, clientFrame{Type: clientSubscribe, ID: id, Destination: topic})
	return &SubscriptionHandle{id: id, topic: topic}, nil
}

func (t *wsTransport) Unsubscribe(h *SubscriptionHandle) {
	if h == nil {
		return
	}
	t.mu.Lock()
	entry, ok := t.subs[h.id]
	if ok {
		delete(t.subs, h.id)
		if t.byTopic[entry.topic] == h.id {
			delete(t.byTopic, entry.topic)
		}
	}
	connected := t.connected
	ch := t.writeCh
	t.mu.Unlock()

	if ok && connected {
		t.enqueue(ch, clientFrame{Type: clientUnsubscribe, ID: h.id})
	}
}

func (t *wsTransport) Publish(destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return WrapError(ErrorSerialization, "failed to marshal publish payload", err)
	}
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return NewError(ErrorNotConnected, "publish requires a connected transport")
	}
	ch := t.writeCh
	t.mu.Unlock()

	t.enqueue(ch, clientFrame{Type: clientSend, Destination: destination, Body: body})
	return nil
}

func (t *wsTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	cancel := t.cancel
	// Pending subscriptions are invalidated here, before the socket close:
	// frames the socket still delivers for these topics are dropped.
	t.subs = make(map[string]subEntry)
	t.byTopic = make(map[string]string)
	t.connected = false
	t.conn = nil
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

// enqueue drops the frame if the write loop is gone or the buffer is full;
// publish is fire-and-forget at this layer.
func (t *wsTransport) enqueue(ch chan clientFrame, f clientFrame) {
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
		t.logger.Warn("write buffer full, dropping frame", map[string]any{"type": f.Type})
	}
}

func (t *wsTransport) readLoop(ctx context.Context, conn *internal.Conn) {
	for {
		var frame serverFrame
		if err := conn.Read(ctx, &frame); err != nil {
			if isExpectedDisconnect(ctx, err) {
				t.teardown(conn)
				t.fireClosed()
				return
			}
			t.teardown(conn)
			if t.cb.OnTransportError != nil {
				t.cb.OnTransportError(WrapError(ErrorConnection, "read failed", err))
			}
			t.logger.Warn("read loop exit", map[string]any{"error": err.Error()})
			return
		}
		switch frame.Type {
		case serverMessage:
			t.dispatchFrame(frame)
		case serverError:
			t.teardown(conn)
			if t.cb.OnProtocolError != nil {
				t.cb.OnProtocolError(FromProtocolError(frame.Error))
			}
			return
		default:
			t.logger.Debug("ignoring unknown frame", map[string]any{"type": frame.Type})
		}
	}
}

func (t *wsTransport) writeLoop(ctx context.Context, conn *internal.Conn) {
	t.mu.Lock()
	ch := t.writeCh
	t.mu.Unlock()
	for {
		select {
		case f := <-ch:
			if err := conn.Write(ctx, f); err != nil {
				if !isExpectedDisconnect(ctx, err) {
					t.logger.Warn("write loop exit", map[string]any{"error": err.Error()})
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatchFrame routes a message frame to the subscription it belongs to.
// Frames for a torn-down subscription are ignored: the server may deliver a
// few more frames before it processes the unsubscribe.
func (t *wsTransport) dispatchFrame(frame serverFrame) {
	t.mu.Lock()
	entry, ok := t.subs[frame.Subscription]
	if !ok && frame.Destination != "" {
		if id, found := t.byTopic[frame.Destination]; found {
			entry, ok = t.subs[id]
		}
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	entry.handler(frame.Destination, frame.Body)
}

// teardown closes the connection and invalidates subscriptions after a
// protocol or transport failure.
func (t *wsTransport) teardown(conn *internal.Conn) {
	t.mu.Lock()
	cancel := t.cancel
	t.subs = make(map[string]subEntry)
	t.byTopic = make(map[string]string)
	t.connected = false
	t.conn = nil
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.Close(websocket.StatusInternalError, "teardown")
}

func (t *wsTransport) fireClosed() {
	t.mu.Lock()
	once := t.closedOnce
	t.mu.Unlock()
	if once == nil || t.cb.OnClosed == nil {
		return
	}
	once.Do(t.cb.OnClosed)
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
