// Package marketchat is a client SDK for the marketplace chat backend. A
// Session owns one transport connection, multiplexes per-room subscriptions
// over it, and feeds incoming messages into a Store the UI reads.
package marketchat

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/marketchat/marketchat-go/marketchat/rest"
)

// BackendAPI is the slice of the HTTP collaborator the session uses.
// *rest.Client satisfies it.
type BackendAPI interface {
	RoomsForCurrentUser(ctx context.Context) (json.RawMessage, error)
	GetMessages(ctx context.Context, roomID int64, page, size int) (*rest.HistoryPage, error)
	CreateRoom(ctx context.Context, listingID int64, req rest.CreateRoomRequest) (*rest.RoomInfo, error)
	LeaveRoom(ctx context.Context, roomID int64) error
	UnreadCounts(ctx context.Context) (map[string]int, error)
	MarkMessageRead(ctx context.Context, roomID int64, messageID string) error
}

// TransportFactory builds the transport a session will own. The session
// constructs exactly one transport per session, regardless of how many
// Connect calls it sees.
type TransportFactory func(cfg Config, logger Logger, cb TransportCallbacks) Transport

// Session is the chat session manager. It owns the transport, guarantees
// at most one live subscription per room, and routes decoded messages into
// its Store. All exported methods are safe for concurrent use.
type Session struct {
	cfg        Config
	identity   Identity
	logger     Logger
	store      *Store
	dispatcher Dispatcher
	api        BackendAPI
	directory  *DirectoryLoader
	reconciler *DeepLinkReconciler
	factory    TransportFactory

	mu        sync.Mutex
	state     ConnectionState
	transport Transport
	sub       *SubscriptionHandle
	selGen    uint64 // bumped on every selection and disconnect; stale history loads check it
}

// NewSession constructs a session for the given identity. Collaborators are
// built from the config: a REST client from cfg.RESTBase and a WebSocket
// transport from cfg.Endpoints.
func NewSession(cfg Config, identity Identity) *Session {
	api := rest.NewClient(cfg.RESTBase)
	api.SetToken(identity.Token)
	return newSession(cfg, identity, api, NewWSTransport)
}

func newSession(cfg Config, identity Identity, api BackendAPI, factory TransportFactory) *Session {
	s := &Session{
		cfg:        cfg,
		identity:   identity,
		logger:     noopLogger{},
		store:      NewStore(),
		api:        api,
		reconciler: NewDeepLinkReconciler(),
		factory:    factory,
		state:      StateDisconnected,
	}
	s.directory = NewDirectoryLoader(api, s.logger)
	return s
}

// SetLogger overrides the logger (optional). Call before Connect.
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.logger = l
	s.directory = NewDirectoryLoader(s.api, l)
}

// SetTransportFactory overrides how the session builds its transport.
// Call before the first Connect.
func (s *Session) SetTransportFactory(fn TransportFactory) {
	if fn != nil {
		s.factory = fn
	}
}

// Store returns the state store the UI reads.
func (s *Session) Store() *Store { return s.store }

// OnMessage registers a callback for messages applied to the store.
func (s *Session) OnMessage(fn func(Message)) { s.dispatcher.SetOnMessage(fn) }

// OnStateChange registers a callback for connection state changes.
func (s *Session) OnStateChange(fn func(StateEvent)) { s.dispatcher.SetOnStateChange(fn) }

// OnError registers a callback for asynchronous errors.
func (s *Session) OnError(fn func(error)) { s.dispatcher.SetOnError(fn) }

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the transport, loads the room directory, seeds unread
// counters, and evaluates any pending deep-link target. A Connect call
// while already Connecting or Connected is a no-op; it never spawns a
// second transport. There is no automatic reconnect: after a failure the
// caller decides whether to call Connect again.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	old := s.state
	s.state = StateConnecting
	if s.transport == nil {
		s.transport = s.factory(s.cfg, s.logger, TransportCallbacks{
			OnProtocolError:  s.onConnectionLost,
			OnTransportError: s.onConnectionLost,
			OnClosed:         s.onClosed,
		})
	}
	tr := s.transport
	s.mu.Unlock()
	s.dispatcher.fireState(StateEvent{OldState: old, NewState: StateConnecting})

	if err := tr.Connect(ctx, s.identity); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		s.dispatcher.fireState(StateEvent{OldState: StateConnecting, NewState: StateFailed, Err: err})
		return err
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()
	s.dispatcher.fireState(StateEvent{OldState: StateConnecting, NewState: StateConnected})

	// Directory and unread seeding are best-effort: a failing directory
	// must not tear down a healthy connection.
	s.RefreshRooms(ctx)
	s.seedUnread(ctx)
	s.reconcile(ctx)
	return nil
}

// Disconnect tears down the transport and invalidates every pending
// subscription and in-flight history load. The room selection is cleared:
// a selection never outlives the subscription backing it, so a reconnect
// can re-open the same room. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	tr := s.transport
	s.sub = nil
	s.selGen++
	old := s.state
	s.state = StateDisconnected
	s.mu.Unlock()

	s.store.ClearSelection()
	if tr != nil {
		_ = tr.Disconnect()
	}
	if old != StateDisconnected {
		s.dispatcher.fireState(StateEvent{OldState: old, NewState: StateDisconnected})
	}
}

// RefreshRooms reloads the room directory into the store.
func (s *Session) RefreshRooms(ctx context.Context) {
	rooms := s.directory.Load(ctx)
	s.store.SetRooms(rooms)
}

// SetDeepLinkTarget arms the deep-link reconciler with a navigation target
// and evaluates it immediately. The target fires at most once.
func (s *Session) SetDeepLinkTarget(ctx context.Context, id RoomID) {
	s.reconciler.SetTarget(id)
	s.reconcile(ctx)
}

// SelectRoom makes a room the active one: it swaps the live subscription,
// atomically resets the room's unread counter, and seeds the room's log
// from history on first selection. Selecting the already-selected room is
// an idempotent no-op. A selection issued while a previous one is still
// loading history supersedes it; the stale completion is discarded.
func (s *Session) SelectRoom(ctx context.Context, id RoomID) error {
	if !id.Routable() {
		return NewError(ErrorRoomNotRoutable, "room id is not server-assigned")
	}

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return NewError(ErrorNotConnected, "room selection requires a connected session")
	}
	if cur, ok := s.store.Selected(); ok && cur == id {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.store.Room(id); !ok {
		s.mu.Unlock()
		return NewError(ErrorRoomNotFound, "room "+id.String()+" is not in the directory")
	}
	prev := s.sub
	s.sub = nil
	s.selGen++
	gen := s.selGen
	tr := s.transport
	s.mu.Unlock()

	// Side effects first, then the pure store transition.
	if prev != nil {
		tr.Unsubscribe(prev)
	}
	sub, err := tr.Subscribe(TopicForRoom(id), s.handleFrame)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if gen != s.selGen {
		// A newer selection or a disconnect superseded this one.
		s.mu.Unlock()
		tr.Unsubscribe(sub)
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.store.SelectRoom(id)

	if !s.store.Loaded(id) {
		s.loadHistory(ctx, id, gen)
	}
	return nil
}

// Send publishes a message to the selected room through the fixed
// application endpoint. The local log is not updated optimistically: the
// message appears once the server echoes it back through the subscription.
// Precondition failures are returned synchronously.
func (s *Session) Send(content string) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return NewError(ErrorNotConnected, "send requires a connected session")
	}
	tr := s.transport
	s.mu.Unlock()

	sel, ok := s.store.Selected()
	if !ok {
		return NewError(ErrorNoRoomSelected, "send requires a selected room")
	}
	return tr.Publish(sendDestination, sendEnvelope{
		SenderID:    s.identity.UserID,
		SenderName:  s.identity.Name,
		SenderEmail: s.identity.Email,
		Content:     content,
		ChatRoomID:  sel.Value,
	})
}

// CreateRoom creates (or fetches) the room tied to a marketplace listing,
// adds it to the directory, and evaluates any pending deep-link target.
func (s *Session) CreateRoom(ctx context.Context, listingID int64, name string, participants []string) (Room, error) {
	info, err := s.api.CreateRoom(ctx, listingID, rest.CreateRoomRequest{Name: name, Participants: participants})
	if err != nil {
		return Room{}, err
	}
	room := roomFromInfo(*info)
	s.store.AddRoom(room)
	s.reconcile(ctx)
	return room, nil
}

// LeaveRoom leaves a room on the backend and removes it from client state.
// Leaving the selected room drops the live subscription and clears the
// selection.
func (s *Session) LeaveRoom(ctx context.Context, id RoomID) error {
	n, ok := id.Int64()
	if !ok {
		s.store.RemoveRoom(id) // local placeholder, nothing to tell the server
		return nil
	}
	if err := s.api.LeaveRoom(ctx, n); err != nil {
		return err
	}

	s.mu.Lock()
	sub := s.sub
	tr := s.transport
	selected, _ := s.store.Selected()
	if selected == id {
		s.sub = nil
		s.selGen++
	}
	s.mu.Unlock()

	if selected == id && sub != nil && tr != nil {
		tr.Unsubscribe(sub)
	}
	s.store.RemoveRoom(id)
	return nil
}

// MarkRead records a read watermark for a message in the selected room.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	sel, ok := s.store.Selected()
	if !ok {
		return NewError(ErrorNoRoomSelected, "mark-read requires a selected room")
	}
	n, _ := sel.Int64()
	return s.api.MarkMessageRead(ctx, n, messageID)
}

// handleFrame decodes an inbound frame and applies it to the store keyed by
// the frame's own room id, never the currently open room.
func (s *Session) handleFrame(_ string, body json.RawMessage) {
	msg, err := decodeMessage(body)
	if err != nil {
		s.dispatcher.fireError(err)
		return
	}
	if !s.store.ApplyIncoming(msg) {
		s.logger.Warn("dropping message for unknown room", map[string]any{"room": msg.RoomID.String()})
		return
	}
	s.dispatcher.fireMessage(msg)
}

// loadHistory seeds a room log from the REST collaborator. A load that
// completes after the selection generation moved on is discarded; a load
// that fails seeds the log empty so the room still counts as loaded.
func (s *Session) loadHistory(ctx context.Context, id RoomID, gen uint64) {
	n, _ := id.Int64()
	size := s.cfg.HistoryPageSize
	if size <= 0 {
		size = DefaultConfig().HistoryPageSize
	}

	var msgs []Message
	page, err := s.api.GetMessages(ctx, n, 0, size)
	if err != nil {
		s.logger.Warn("history load failed, seeding empty log", map[string]any{
			"room": id.String(), "error": err.Error(),
		})
	} else {
		msgs = make([]Message, 0, len(page.Messages))
		for _, info := range page.Messages {
			m := messageFromInfo(info)
			if m.RoomID.IsZero() {
				m.RoomID = id
			}
			msgs = append(msgs, m)
		}
	}

	s.mu.Lock()
	stale := gen != s.selGen
	s.mu.Unlock()
	if stale {
		return
	}
	s.store.SeedLog(id, msgs)
}

// seedUnread installs the backend's unread snapshot. The client maintains
// the counters locally from then on.
func (s *Session) seedUnread(ctx context.Context) {
	counts, err := s.api.UnreadCounts(ctx)
	if err != nil {
		s.logger.Warn("unread count seed failed", map[string]any{"error": err.Error()})
		return
	}
	for key, n := range counts {
		if id, ok := ParseServerRoomID(key); ok {
			s.store.SetUnread(id, n)
		}
	}
}

func (s *Session) reconcile(ctx context.Context) {
	s.mu.Lock()
	connected := s.state == StateConnected
	s.mu.Unlock()
	_, selected := s.store.Selected()
	id, ok := s.reconciler.Evaluate(connected, s.store.Rooms(), selected)
	if !ok {
		return
	}
	if err := s.SelectRoom(ctx, id); err != nil {
		s.dispatcher.fireError(err)
	}
}

// onConnectionLost converts protocol and transport failures into Failed
// state instead of letting them escape across the API.
func (s *Session) onConnectionLost(err error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = StateFailed
	s.sub = nil
	s.selGen++
	s.mu.Unlock()

	s.store.ClearSelection()
	s.dispatcher.fireState(StateEvent{OldState: old, NewState: StateFailed, Err: err})
	s.dispatcher.fireError(err)
}

func (s *Session) onClosed() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = StateDisconnected
	s.sub = nil
	s.selGen++
	s.mu.Unlock()

	s.store.ClearSelection()
	s.dispatcher.fireState(StateEvent{OldState: old, NewState: StateDisconnected})
}
