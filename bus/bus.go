// Package bus delivers the change messages of committed writes to
// subscribers. Publishing never blocks the writer: buses drop or queue
// messages they cannot deliver immediately.
package bus

import "github.com/syssam/sensorthings/entity"

// Bus receives the change messages of committed transactions.
type Bus interface {
	Publish(msg *entity.ChangedMessage)
}

// Func is an adapter to allow the use of ordinary functions as buses.
type Func func(*entity.ChangedMessage)

// Publish calls f(msg).
func (f Func) Publish(msg *entity.ChangedMessage) { f(msg) }

// Multi publishes every message to all of its buses in order.
type Multi []Bus

// Publish implements Bus.
func (m Multi) Publish(msg *entity.ChangedMessage) {
	for _, b := range m {
		b.Publish(msg)
	}
}

// Discard drops every message.
var Discard Bus = Func(func(*entity.ChangedMessage) {})
