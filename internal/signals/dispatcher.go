package signals

import (
	"context"
	"fmt"
	"sync"
)

// Kind identifies a model lifecycle signal
type Kind string

// Model lifecycle signals
const (
	PreInit    Kind = "pre_init"
	PostInit   Kind = "post_init"
	PreSave    Kind = "pre_save"
	PostSave   Kind = "post_save"
	PreDelete  Kind = "pre_delete"
	PostDelete Kind = "post_delete"
	M2MChanged Kind = "m2m_changed"
)

// ModelSignals are the signals whose sender is a model
var ModelSignals = []Kind{PreInit, PostInit, PreSave, PostSave, PreDelete, PostDelete, M2MChanged}

// Event is delivered to receivers
type Event struct {
	Kind     Kind
	Sender   any
	Instance any
	Created  bool
}

// ReceiverFunc handles a signal
type ReceiverFunc func(ctx context.Context, event Event) error

// ReceiverError is returned by Send when a receiver fails
type ReceiverError struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *ReceiverError) Error() string {
	return fmt.Sprintf("%s receiver %s: %v", e.Kind, e.ID, e.Err)
}

func (e *ReceiverError) Unwrap() error {
	return e.Err
}

// Receiver is a connected handler
type Receiver struct {
	ID string
	Fn ReceiverFunc
}

type key struct {
	kind   Kind
	sender any
}

// Dispatcher keeps receivers keyed by signal kind and sender identity.
// Senders must be comparable; model descriptors are passed as pointers.
type Dispatcher struct {
	mu        sync.RWMutex
	receivers map[key][]Receiver
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		receivers: make(map[key][]Receiver),
	}
}

// Connect registers fn for kind sent by sender. Connecting the same receiver
// ID twice for the same key replaces the previous handler.
func (d *Dispatcher) Connect(kind Kind, sender any, receiverID string, fn ReceiverFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{kind: kind, sender: sender}
	for i, r := range d.receivers[k] {
		if r.ID == receiverID {
			d.receivers[k][i].Fn = fn
			return
		}
	}
	d.receivers[k] = append(d.receivers[k], Receiver{ID: receiverID, Fn: fn})
}

// Disconnect removes a receiver and reports whether it was connected
func (d *Dispatcher) Disconnect(kind Kind, sender any, receiverID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{kind: kind, sender: sender}
	receivers := d.receivers[k]
	for i, r := range receivers {
		if r.ID != receiverID {
			continue
		}
		receivers = append(receivers[:i:i], receivers[i+1:]...)
		if len(receivers) == 0 {
			delete(d.receivers, k)
		} else {
			d.receivers[k] = receivers
		}
		return true
	}
	return false
}

// LiveReceivers returns the receivers connected for kind and sender, in
// connection order
func (d *Dispatcher) LiveReceivers(kind Kind, sender any) []Receiver {
	d.mu.RLock()
	defer d.mu.RUnlock()

	receivers := d.receivers[key{kind: kind, sender: sender}]
	out := make([]Receiver, len(receivers))
	copy(out, receivers)
	return out
}

// DisconnectModel removes every model signal receiver keyed to sender and
// returns how many were removed
func (d *Dispatcher) DisconnectModel(sender any) int {
	removed := 0
	for _, kind := range ModelSignals {
		for _, r := range d.LiveReceivers(kind, sender) {
			if d.Disconnect(kind, sender, r.ID) {
				removed++
			}
		}
	}
	return removed
}

// Send delivers the event to every live receiver and stops at the first error
func (d *Dispatcher) Send(ctx context.Context, event Event) error {
	for _, r := range d.LiveReceivers(event.Kind, event.Sender) {
		if err := r.Fn(ctx, event); err != nil {
			return &ReceiverError{Kind: event.Kind, ID: r.ID, Err: err}
		}
	}
	return nil
}
