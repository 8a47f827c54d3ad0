package marketchat

import "sync"

// Dispatcher fans session events out to registered callbacks. Setters may
// be called at any time, including while the transport's read loop is
// delivering frames.
type Dispatcher struct {
	mu        sync.RWMutex
	onMessage func(Message)
	onState   func(StateEvent)
	onError   func(error)
}

func (d *Dispatcher) SetOnMessage(fn func(Message)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = fn
}

func (d *Dispatcher) SetOnStateChange(fn func(StateEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onState = fn
}

func (d *Dispatcher) SetOnError(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = fn
}

func (d *Dispatcher) fireMessage(msg Message) {
	d.mu.RLock()
	fn := d.onMessage
	d.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (d *Dispatcher) fireState(ev StateEvent) {
	d.mu.RLock()
	fn := d.onState
	d.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (d *Dispatcher) fireError(err error) {
	d.mu.RLock()
	fn := d.onError
	d.mu.RUnlock()
	if fn != nil && err != nil {
		fn(err)
	}
}
