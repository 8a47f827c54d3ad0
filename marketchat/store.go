package marketchat

import "sync"

// Store is the single source of truth the UI reads: the room directory,
// one append-only message log per room, and per-room unread counters.
//
// Store performs no I/O. The Session and the directory loader feed it
// discrete events; every method is a pure state transition over that input,
// which is what keeps it unit-testable without a live connection.
type Store struct {
	mu       sync.RWMutex
	rooms    map[RoomID]Room
	order    []RoomID // directory order as loaded
	logs     map[RoomID][]Message
	loaded   map[RoomID]bool
	unread   map[RoomID]int
	selected RoomID
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		rooms:  make(map[RoomID]Room),
		logs:   make(map[RoomID][]Message),
		loaded: make(map[RoomID]bool),
		unread: make(map[RoomID]int),
	}
}

// SetRooms replaces the directory. Logs, counters, and the selection of
// rooms that survive the reload are kept.
func (s *Store) SetRooms(rooms []Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[RoomID]Room, len(rooms))
	s.order = s.order[:0]
	for _, r := range rooms {
		if _, ok := s.rooms[r.ID]; ok {
			continue
		}
		s.rooms[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	if !s.selected.IsZero() {
		if _, ok := s.rooms[s.selected]; !ok {
			s.selected = RoomID{}
		}
	}
}

// AddRoom inserts or replaces a single directory entry.
func (s *Store) AddRoom(r Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.rooms[r.ID] = r
}

// ApplyIncoming appends a message to its own room's log and bumps the
// unread counter unless that room is selected. A message whose room id does
// not match a directory entry is dropped, never misrouted to the open room.
// It reports whether the message was applied.
func (s *Store) ApplyIncoming(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[msg.RoomID]
	if !ok {
		return false
	}
	s.logs[msg.RoomID] = append(s.logs[msg.RoomID], msg)
	if msg.RoomID != s.selected {
		s.unread[msg.RoomID]++
	}
	m := msg
	room.LastMessage = &m
	s.rooms[msg.RoomID] = room
	return true
}

// SelectRoom sets the selected pointer and zeroes the room's unread counter
// as one atomic update, so a concurrent unread increment cannot interleave
// between the two.
func (s *Store) SelectRoom(id RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
	s.unread[id] = 0
	if _, ok := s.logs[id]; !ok {
		s.logs[id] = nil // lazily created on first subscribe
	}
}

// ClearSelection drops the selected pointer.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = RoomID{}
}

// RemoveRoom deletes a room's directory entry, log, and counter. If the
// removed room was selected, the selection is cleared.
func (s *Store) RemoveRoom(id RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	delete(s.logs, id)
	delete(s.loaded, id)
	delete(s.unread, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.selected == id {
		s.selected = RoomID{}
	}
}

// SeedLog installs a history page as the initial log for a room and marks
// it loaded. Seeding an already-loaded room is a no-op, so a stale fetch
// cannot clobber live messages.
func (s *Store) SeedLog(id RoomID, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[id] {
		return
	}
	live := s.logs[id]
	s.logs[id] = append(append([]Message(nil), msgs...), live...)
	s.loaded[id] = true
}

// Loaded reports whether a room's log has been seeded. A room whose history
// fetch failed is seeded empty, so the UI never distinguishes "never tried"
// from "empty".
func (s *Store) Loaded(id RoomID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[id]
}

// SetUnread overwrites one counter, used when seeding counters from the
// backend snapshot at connect time. The selected room stays at zero.
func (s *Store) SetUnread(id RoomID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.selected || n < 0 {
		return
	}
	s.unread[id] = n
}

// Selected returns the selected room id; ok is false when nothing is
// selected.
func (s *Store) Selected() (RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, !s.selected.IsZero()
}

// Rooms returns the directory in load order.
func (s *Store) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rooms[id])
	}
	return out
}

// Room looks up one directory entry.
func (s *Store) Room(id RoomID) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

// Log returns a copy of a room's message log in arrival order.
func (s *Store) Log(id RoomID) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.logs[id]...)
}

// Unread returns a room's unread counter.
func (s *Store) Unread(id RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[id]
}

// UnreadCounts returns a snapshot of all non-zero counters.
func (s *Store) UnreadCounts() map[RoomID]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[RoomID]int, len(s.unread))
	for id, n := range s.unread {
		if n > 0 {
			out[id] = n
		}
	}
	return out
}
