package entity

// EventType is the kind of a change message.
type EventType uint8

// Change events.
const (
	EventCreate EventType = iota + 1
	EventUpdate
	EventDelete
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventCreate:
		return "CREATE"
	case EventUpdate:
		return "UPDATE"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ChangedMessage notifies subscribers of a committed write. Entity is the
// state re-read after the write (or before it, for deletes). Fields lists
// the changed property names of an update.
type ChangedMessage struct {
	Event  EventType
	Entity *Entity
	Fields []string
}
