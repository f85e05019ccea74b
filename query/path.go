package query

import (
	"fmt"
	"strings"

	"github.com/syssam/sensorthings/entity"
)

// PathElement is one segment of a resource path: an entity set name for the
// first element and a navigation property name for the following ones,
// optionally addressing a single entity by key.
type PathElement struct {
	Name string
	ID   entity.PkValue
}

// HasID reports whether the element addresses a single entity.
func (e PathElement) HasID() bool { return len(e.ID) > 0 }

// String renders the element in URL form, e.g. "Things(1)".
func (e PathElement) String() string {
	if !e.HasID() {
		return e.Name
	}
	return e.Name + "(" + e.ID.String() + ")"
}

// ResourcePath is the ordered list of path elements of a request. The last
// element decides the type of the returned entities.
type ResourcePath []PathElement

// Path returns a resource path starting at the given entity set.
func Path(set string, id ...any) ResourcePath {
	return ResourcePath{{Name: set, ID: entity.PkValue(id)}}
}

// Nav returns a copy of the path extended by a navigation step.
func (p ResourcePath) Nav(name string, id ...any) ResourcePath {
	out := append(ResourcePath(nil), p...)
	return append(out, PathElement{Name: name, ID: entity.PkValue(id)})
}

// Last returns the last element of the path.
func (p ResourcePath) Last() PathElement {
	return p[len(p)-1]
}

// IsEntity reports whether the path addresses a single entity.
func (p ResourcePath) IsEntity() bool {
	return len(p) > 0 && p.Last().HasID()
}

// String renders the path in URL form, e.g. "/Things(1)/Datastreams".
func (p ResourcePath) String() string {
	var b strings.Builder
	for _, e := range p {
		b.WriteByte('/')
		b.WriteString(e.String())
	}
	return b.String()
}

// Validate checks that the path is not empty and starts at an entity set.
func (p ResourcePath) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("query: empty resource path")
	}
	if p[0].Name == "" {
		return fmt.Errorf("query: missing entity set")
	}
	return nil
}
