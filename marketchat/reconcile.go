package marketchat

import "sync"

// DeepLinkReconciler turns a room id carried in navigation state into a
// one-shot room selection. It watches three independent conditions (the
// directory has loaded the target room, the connection is up, and nothing
// is selected yet) and reports the target exactly once when all three
// hold. Re-evaluating after the target has fired is a no-op, so unrelated
// state changes cannot thrash the subscribe/unsubscribe cycle.
type DeepLinkReconciler struct {
	mu     sync.Mutex
	target RoomID
	armed  bool
	fired  map[RoomID]bool
}

// NewDeepLinkReconciler returns a reconciler with no target.
func NewDeepLinkReconciler() *DeepLinkReconciler {
	return &DeepLinkReconciler{fired: make(map[RoomID]bool)}
}

// SetTarget arms the reconciler with a navigation target. Setting a target
// that has already fired does not re-arm it.
func (r *DeepLinkReconciler) SetTarget(id RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id.IsZero() || r.fired[id] {
		return
	}
	r.target = id
	r.armed = true
}

// ClearTarget disarms the reconciler without marking the target fired.
func (r *DeepLinkReconciler) ClearTarget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = RoomID{}
	r.armed = false
}

// Evaluate checks the gate. When the connection is up, no room is selected,
// and the armed target is present in the directory, it consumes the target
// and returns it with ok=true. Every other combination returns ok=false
// and leaves the target armed for a later evaluation.
func (r *DeepLinkReconciler) Evaluate(connected bool, rooms []Room, selected bool) (RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed || !connected || selected {
		return RoomID{}, false
	}
	found := false
	for _, room := range rooms {
		if room.ID == r.target {
			found = true
			break
		}
	}
	if !found {
		return RoomID{}, false
	}
	id := r.target
	r.fired[id] = true
	r.armed = false
	r.target = RoomID{}
	return id, true
}
