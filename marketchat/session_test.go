package marketchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marketchat/marketchat-go/marketchat/rest"
)

type fakePublish struct {
	destination string
	payload     any
}

// fakeTransport implements Transport in memory. Frames are injected with
// Deliver, which routes by topic the way the real read loop does.
type fakeTransport struct {
	mu           sync.Mutex
	cb           TransportCallbacks
	connectCalls int
	connectErr   error
	connected    bool
	nextID       int
	handlers     map[string]FrameHandler // sub id -> handler
	topics       map[string]string       // sub id -> topic
	subscribed   map[string]int          // per-topic subscribe count
	publishes    []fakePublish
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:   make(map[string]FrameHandler),
		topics:     make(map[string]string),
		subscribed: make(map[string]int),
	}
}

func (f *fakeTransport) Connect(context.Context, Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		err := f.connectErr
		f.connectErr = nil
		return err
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Subscribe(topic string, fn FrameHandler) (*SubscriptionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, NewError(ErrorNotConnected, "subscribe requires a connected transport")
	}
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.handlers[id] = fn
	f.topics[id] = topic
	f.subscribed[topic]++
	return &SubscriptionHandle{id: id, topic: topic}, nil
}

func (f *fakeTransport) Unsubscribe(h *SubscriptionHandle) {
	if h == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, h.id)
	delete(f.topics, h.id)
}

func (f *fakeTransport) Publish(destination string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return NewError(ErrorNotConnected, "publish requires a connected transport")
	}
	f.publishes = append(f.publishes, fakePublish{destination: destination, payload: payload})
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = make(map[string]FrameHandler)
	f.topics = make(map[string]string)
	f.connected = false
	return nil
}

func (f *fakeTransport) liveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// Deliver injects a frame on the subscription for topic. The body carries
// bodyRoom, which may differ from the topic's room (the send/switch race).
func (f *fakeTransport) Deliver(topic string, bodyRoom int64, content string) {
	body, _ := json.Marshal(wireMessage{
		ID:         "m1",
		SenderID:   7,
		SenderName: "bob",
		Content:    content,
		Timestamp:  time.Now(),
		RoomID:     fmt.Sprintf("%d", bodyRoom),
	})
	f.mu.Lock()
	var fn FrameHandler
	for id, tp := range f.topics {
		if tp == topic {
			fn = f.handlers[id]
			break
		}
	}
	f.mu.Unlock()
	if fn != nil {
		fn(topic, body)
	}
}

// fakeAPI implements BackendAPI in memory.
type fakeAPI struct {
	mu           sync.Mutex
	rooms        string
	roomsErr     error
	history      map[int64]*rest.HistoryPage
	historyErr   error
	historyGate  chan struct{}
	historyCalls []int64
	unread       map[string]int
	left         []int64
	marked       []string
}

func (a *fakeAPI) RoomsForCurrentUser(context.Context) (json.RawMessage, error) {
	return json.RawMessage(a.rooms), a.roomsErr
}

func (a *fakeAPI) GetMessages(_ context.Context, roomID int64, _, _ int) (*rest.HistoryPage, error) {
	a.mu.Lock()
	a.historyCalls = append(a.historyCalls, roomID)
	gate := a.historyGate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	if page, ok := a.history[roomID]; ok {
		return page, nil
	}
	return &rest.HistoryPage{}, nil
}

func (a *fakeAPI) CreateRoom(_ context.Context, listingID int64, req rest.CreateRoomRequest) (*rest.RoomInfo, error) {
	return &rest.RoomInfo{ID: listingID, Name: req.Name, Participants: req.Participants}, nil
}

func (a *fakeAPI) LeaveRoom(_ context.Context, roomID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.left = append(a.left, roomID)
	return nil
}

func (a *fakeAPI) UnreadCounts(context.Context) (map[string]int, error) {
	return a.unread, nil
}

func (a *fakeAPI) MarkMessageRead(_ context.Context, _ int64, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marked = append(a.marked, messageID)
	return nil
}

const twoRooms = `[{"id":1,"name":"one"},{"id":2,"name":"two"}]`

func newTestSession(api *fakeAPI) (*Session, *fakeTransport) {
	if api.rooms == "" {
		api.rooms = twoRooms
	}
	ft := newFakeTransport()
	s := newSession(DefaultConfig(), Identity{UserID: 42, Name: "alice", Email: "a@x"}, api,
		func(_ Config, _ Logger, cb TransportCallbacks) Transport {
			ft.cb = cb
			return ft
		})
	return s, ft
}

func testCtx() context.Context { return context.Background() }

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	s, _ := newTestSession(&fakeAPI{})
	if err := s.Connect(testCtx()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ft1 := s.transport
	if err := s.Connect(testCtx()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if s.transport != ft1 {
		t.Fatalf("second connect replaced the transport")
	}
	if got := ft1.(*fakeTransport).connectCalls; got != 1 {
		t.Fatalf("underlying connect calls = %d, want 1", got)
	}
}

func TestConnectFailureThenRetry(t *testing.T) {
	s, _ := newTestSession(&fakeAPI{})
	var events []StateEvent
	s.OnStateChange(func(ev StateEvent) { events = append(events, ev) })

	s.SetTransportFactory(func(_ Config, _ Logger, cb TransportCallbacks) Transport {
		ft := newFakeTransport()
		ft.cb = cb
		ft.connectErr = errors.New("refused")
		return ft
	})

	if err := s.Connect(testCtx()); err == nil {
		t.Fatalf("expected connect error")
	}
	if s.State() != StateFailed {
		t.Fatalf("state = %v, want failed", s.State())
	}
	last := events[len(events)-1]
	if last.NewState != StateFailed || last.Err == nil {
		t.Fatalf("missing failed state event: %+v", last)
	}

	// Manual retry reuses the same transport instance.
	if err := s.Connect(testCtx()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("state after retry = %v, want connected", s.State())
	}
}

func TestSequentialSelectionsKeepOneSubscription(t *testing.T) {
	api := &fakeAPI{rooms: `[{"id":1},{"id":2},{"id":3}]`}
	s, ft := newTestSession(api)
	if err := s.Connect(testCtx()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, id := range []int64{1, 2, 3, 2, 1} {
		if err := s.SelectRoom(testCtx(), ServerRoomID(id)); err != nil {
			t.Fatalf("select %d: %v", id, err)
		}
		if got := ft.liveSubs(); got != 1 {
			t.Fatalf("live subscriptions after selecting %d = %d, want 1", id, got)
		}
	}
}

func TestSelectSameRoomIsNoop(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	if err := s.SelectRoom(testCtx(), ServerRoomID(1)); err != nil {
		t.Fatalf("select: %v", err)
	}
	ft.Deliver(TopicForRoom(ServerRoomID(1)), 1, "hello")

	if err := s.SelectRoom(testCtx(), ServerRoomID(1)); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if got := ft.subscribed[TopicForRoom(ServerRoomID(1))]; got != 1 {
		t.Fatalf("subscribe count = %d, want 1 (reselect must not resubscribe)", got)
	}
	if got := len(s.Store().Log(ServerRoomID(1))); got != 1 {
		t.Fatalf("log length = %d, want 1 (reselect must not clear the log)", got)
	}
}

func TestSelectRoomNotConnected(t *testing.T) {
	s, _ := newTestSession(&fakeAPI{})
	err := s.SelectRoom(testCtx(), ServerRoomID(1))
	if !IsPreconditionError(err) {
		t.Fatalf("got %v, want precondition error", err)
	}
}

func TestSelectLocalRoomRejected(t *testing.T) {
	s, _ := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	err := s.SelectRoom(testCtx(), NewLocalRoomID())
	if !hasCode(err, ErrorRoomNotRoutable) {
		t.Fatalf("got %v, want room_not_routable", err)
	}
}

func TestSendThenEcho(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	_ = s.SelectRoom(testCtx(), ServerRoomID(1))

	if err := s.Send("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ft.publishes) != 1 || ft.publishes[0].destination != sendDestination {
		t.Fatalf("unexpected publishes: %+v", ft.publishes)
	}
	env := ft.publishes[0].payload.(sendEnvelope)
	if env.ChatRoomID != "1" || env.SenderID != 42 || env.Content != "hello" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	// The store is not updated optimistically.
	if got := len(s.Store().Log(ServerRoomID(1))); got != 0 {
		t.Fatalf("log length before echo = %d, want 0", got)
	}

	ft.Deliver(TopicForRoom(ServerRoomID(1)), 1, "hello")
	if got := len(s.Store().Log(ServerRoomID(1))); got != 1 {
		t.Fatalf("log length after echo = %d, want 1", got)
	}
	if got := s.Store().Unread(ServerRoomID(1)); got != 0 {
		t.Fatalf("unread[1] = %d, want 0", got)
	}
}

func TestCallbackRegisteredAfterConnect(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	_ = s.SelectRoom(testCtx(), ServerRoomID(1))

	// Late registration must observe frames delivered afterwards.
	var got []Message
	s.OnMessage(func(msg Message) { got = append(got, msg) })
	ft.Deliver(TopicForRoom(ServerRoomID(1)), 1, "late")
	if len(got) != 1 || got[0].Content != "late" {
		t.Fatalf("late-registered callback saw %+v, want one message", got)
	}
}

func TestFrameForOtherRoomRoutesByBody(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	_ = s.SelectRoom(testCtx(), ServerRoomID(1))

	// A frame arriving on room 1's subscription but addressed to room 2
	// must land in room 2's log, never the open room's.
	ft.Deliver(TopicForRoom(ServerRoomID(1)), 2, "for room two")

	if got := len(s.Store().Log(ServerRoomID(2))); got != 1 {
		t.Fatalf("log[2] length = %d, want 1", got)
	}
	if got := s.Store().Unread(ServerRoomID(2)); got != 1 {
		t.Fatalf("unread[2] = %d, want 1", got)
	}
	if got := len(s.Store().Log(ServerRoomID(1))); got != 0 {
		t.Fatalf("log[1] length = %d, want 0", got)
	}
	if got := s.Store().Unread(ServerRoomID(1)); got != 0 {
		t.Fatalf("unread[1] = %d, want 0", got)
	}
}

func TestFrameForUnknownRoomDropped(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	_ = s.SelectRoom(testCtx(), ServerRoomID(1))

	ft.Deliver(TopicForRoom(ServerRoomID(1)), 99, "stray")
	if got := len(s.Store().Log(ServerRoomID(99))); got != 0 {
		t.Fatalf("stray message created a log for an unknown room")
	}
	if got := len(s.Store().Log(ServerRoomID(1))); got != 0 {
		t.Fatalf("stray message misrouted to the open room")
	}
}

func TestSendPreconditions(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})

	err := s.Send("hi")
	if !hasCode(err, ErrorNotConnected) {
		t.Fatalf("got %v, want not_connected", err)
	}

	_ = s.Connect(testCtx())
	err = s.Send("hi")
	if !hasCode(err, ErrorNoRoomSelected) {
		t.Fatalf("got %v, want no_room_selected", err)
	}
	if len(ft.publishes) != 0 {
		t.Fatalf("precondition failure reached the transport: %+v", ft.publishes)
	}
}

func TestDisconnectTwice(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	_ = s.SelectRoom(testCtx(), ServerRoomID(1))

	s.Disconnect()
	if got := ft.liveSubs(); got != 0 {
		t.Fatalf("live subscriptions after disconnect = %d, want 0", got)
	}
	s.Disconnect()
	if got := ft.liveSubs(); got != 0 {
		t.Fatalf("live subscriptions after second disconnect = %d, want 0", got)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", s.State())
	}
}

func TestReconnectReselectResubscribes(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	if err := s.SelectRoom(testCtx(), ServerRoomID(1)); err != nil {
		t.Fatalf("select: %v", err)
	}

	s.Disconnect()
	if _, ok := s.Store().Selected(); ok {
		t.Fatalf("selection survived disconnect")
	}

	// Manual recovery: reconnect and re-open the room that was open before.
	if err := s.Connect(testCtx()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := s.SelectRoom(testCtx(), ServerRoomID(1)); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if got := ft.liveSubs(); got != 1 {
		t.Fatalf("live subscriptions after reconnect+reselect = %d, want 1", got)
	}
	if sel, ok := s.Store().Selected(); !ok || sel != ServerRoomID(1) {
		t.Fatalf("selected = %v/%v, want room 1", sel, ok)
	}
}

func TestConnectionLossClearsSelection(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())
	_ = s.SelectRoom(testCtx(), ServerRoomID(1))

	ft.cb.OnTransportError(NewError(ErrorConnection, "socket reset"))
	if _, ok := s.Store().Selected(); ok {
		t.Fatalf("selection survived connection loss")
	}

	_ = ft.Disconnect()
	if err := s.Connect(testCtx()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := s.SelectRoom(testCtx(), ServerRoomID(1)); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if got := ft.liveSubs(); got != 1 {
		t.Fatalf("live subscriptions after recovery = %d, want 1", got)
	}
}

func TestDeepLinkFiresExactlyOnce(t *testing.T) {
	api := &fakeAPI{rooms: `[{"id":5},{"id":7}]`}
	s, ft := newTestSession(api)

	// Target supplied before the directory exists or the connection is up.
	s.SetDeepLinkTarget(testCtx(), ServerRoomID(7))
	if _, ok := s.Store().Selected(); ok {
		t.Fatalf("deep link fired before preconditions held")
	}

	if err := s.Connect(testCtx()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sel, ok := s.Store().Selected(); !ok || sel != ServerRoomID(7) {
		t.Fatalf("selected = %v/%v, want room 7", sel, ok)
	}

	// Unrelated state churn must not re-trigger the selection.
	s.RefreshRooms(testCtx())
	s.SetDeepLinkTarget(testCtx(), ServerRoomID(7))
	if got := ft.subscribed[TopicForRoom(ServerRoomID(7))]; got != 1 {
		t.Fatalf("subscribe count for deep-linked room = %d, want 1", got)
	}
}

func TestStaleHistoryLoadDiscarded(t *testing.T) {
	api := &fakeAPI{
		rooms:       `[{"id":1},{"id":2}]`,
		historyGate: make(chan struct{}),
		history: map[int64]*rest.HistoryPage{
			1: {Messages: []rest.MessageInfo{{SenderID: 7, SenderName: "bob", Content: "old", RoomID: "1"}}},
		},
	}
	s, _ := newTestSession(api)
	_ = s.Connect(testCtx())

	done := make(chan error, 1)
	go func() { done <- s.SelectRoom(testCtx(), ServerRoomID(1)) }()

	// Wait for the first selection to reach its blocked history fetch.
	for i := 0; ; i++ {
		api.mu.Lock()
		n := len(api.historyCalls)
		api.mu.Unlock()
		if n > 0 {
			break
		}
		if i > 1000 {
			t.Fatalf("first selection never fetched history")
		}
		time.Sleep(time.Millisecond)
	}

	// Supersede it; the second selection's own fetch must not block.
	gate := api.historyGate
	api.mu.Lock()
	api.historyGate = nil
	api.mu.Unlock()
	if err := s.SelectRoom(testCtx(), ServerRoomID(2)); err != nil {
		t.Fatalf("second select: %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first select: %v", err)
	}

	if sel, _ := s.Store().Selected(); sel != ServerRoomID(2) {
		t.Fatalf("selected = %v, want room 2", sel)
	}
	if s.Store().Loaded(ServerRoomID(1)) {
		t.Fatalf("stale history completion seeded room 1")
	}
	if got := len(s.Store().Log(ServerRoomID(1))); got != 0 {
		t.Fatalf("stale history wrote %d messages into room 1", got)
	}
}

func TestLeaveSelectedRoom(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	api := s.api.(*fakeAPI)
	_ = s.Connect(testCtx())
	_ = s.SelectRoom(testCtx(), ServerRoomID(1))

	if err := s.LeaveRoom(testCtx(), ServerRoomID(1)); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := s.Store().Selected(); ok {
		t.Fatalf("selection survived leaving the room")
	}
	if got := ft.liveSubs(); got != 0 {
		t.Fatalf("live subscriptions after leave = %d, want 0", got)
	}
	if len(api.left) != 1 || api.left[0] != 1 {
		t.Fatalf("backend leave calls: %+v", api.left)
	}
	if got := len(s.Store().Rooms()); got != 1 {
		t.Fatalf("directory length after leave = %d, want 1", got)
	}
}

func TestCreateRoomAddsDirectoryEntry(t *testing.T) {
	s, _ := newTestSession(&fakeAPI{})
	_ = s.Connect(testCtx())

	room, err := s.CreateRoom(testCtx(), 9, "listing-9", []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID != ServerRoomID(9) {
		t.Fatalf("room id = %v, want 9", room.ID)
	}
	if _, ok := s.Store().Room(ServerRoomID(9)); !ok {
		t.Fatalf("created room missing from directory")
	}
}

func TestHistoryFailureSeedsEmptyLog(t *testing.T) {
	api := &fakeAPI{historyErr: errors.New("backend down")}
	s, _ := newTestSession(api)
	_ = s.Connect(testCtx())
	if err := s.SelectRoom(testCtx(), ServerRoomID(1)); err != nil {
		t.Fatalf("select: %v", err)
	}
	if !s.Store().Loaded(ServerRoomID(1)) {
		t.Fatalf("failed history load must still mark the log loaded")
	}
	if got := len(s.Store().Log(ServerRoomID(1))); got != 0 {
		t.Fatalf("log length = %d, want 0", got)
	}
}

func TestUnreadSeedFromBackendSnapshot(t *testing.T) {
	api := &fakeAPI{unread: map[string]int{"1": 4, "2": 1, "bogus": 9}}
	s, _ := newTestSession(api)
	_ = s.Connect(testCtx())
	if got := s.Store().Unread(ServerRoomID(1)); got != 4 {
		t.Fatalf("unread[1] = %d, want 4", got)
	}
	if got := s.Store().Unread(ServerRoomID(2)); got != 1 {
		t.Fatalf("unread[2] = %d, want 1", got)
	}
}

func TestTransportFailureSurfacesAsFailedState(t *testing.T) {
	s, ft := newTestSession(&fakeAPI{})
	var events []StateEvent
	s.OnStateChange(func(ev StateEvent) { events = append(events, ev) })
	_ = s.Connect(testCtx())

	ft.cb.OnTransportError(NewError(ErrorConnection, "socket reset"))
	if s.State() != StateFailed {
		t.Fatalf("state = %v, want failed", s.State())
	}
	last := events[len(events)-1]
	if last.NewState != StateFailed || last.Err == nil {
		t.Fatalf("missing failed state event: %+v", last)
	}
}
