package bus

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/sensorthings/entity"
)

// Wire is the encoded form of a change message. Navigation references are
// carried as the keys of the referenced entities.
type Wire struct {
	Event      string         `msgpack:"event"`
	Type       string         `msgpack:"type"`
	Set        string         `msgpack:"set"`
	ID         []any          `msgpack:"id"`
	Fields     []string       `msgpack:"fields,omitempty"`
	Properties map[string]any `msgpack:"properties,omitempty"`
	Refs       map[string]any `msgpack:"refs,omitempty"`
}

// NewWire returns the wire form of a change message.
func NewWire(msg *entity.ChangedMessage) *Wire {
	e := msg.Entity
	w := &Wire{
		Event:  msg.Event.String(),
		Type:   e.Type().Name(),
		Set:    e.Type().Plural(),
		ID:     []any(e.ID()),
		Fields: msg.Fields,
	}
	for _, p := range e.Type().EntityProperties() {
		if p.IsKey() {
			continue
		}
		if v, ok := e.Get(p.Name()); ok {
			if w.Properties == nil {
				w.Properties = make(map[string]any)
			}
			w.Properties[p.Name()] = v
		}
	}
	for _, np := range e.Type().NavigationProperties() {
		if np.IsToMany() {
			continue
		}
		if ref, ok := e.Nav(np.Name()); ok && ref != nil && ref.HasID() {
			if w.Refs == nil {
				w.Refs = make(map[string]any)
			}
			w.Refs[np.Name()] = ref.ID().Single()
		}
	}
	return w
}

// Encode encodes a change message with msgpack.
func Encode(msg *entity.ChangedMessage) ([]byte, error) {
	b, err := msgpack.Marshal(NewWire(msg))
	if err != nil {
		return nil, fmt.Errorf("bus: encode %s message: %w", msg.Event, err)
	}
	return b, nil
}

// Decode decodes a message produced by Encode. Integers decode as int64 and
// floats as float64.
func Decode(b []byte) (*Wire, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	w := &Wire{}
	if err := dec.Decode(w); err != nil {
		return nil, fmt.Errorf("bus: decode message: %w", err)
	}
	return w, nil
}
