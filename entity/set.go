package entity

import "github.com/syssam/sensorthings/schema"

// EntitySet is an ordered collection of entities of one type.
type EntitySet struct {
	Type     *schema.EntityType
	Entities []*Entity
	// Count is the total number of entities matching the query, when
	// requested with $count.
	Count *int64
	// NextLink is the link to the next page, if more entities exist.
	NextLink string
}

// NewSet returns an empty entity set of the given type.
func NewSet(t *schema.EntityType) *EntitySet {
	return &EntitySet{Type: t}
}

// Len returns the number of entities in the set.
func (s *EntitySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entities)
}

// IDs returns the keys of the entities in the set.
func (s *EntitySet) IDs() []PkValue {
	ids := make([]PkValue, 0, s.Len())
	for _, e := range s.Entities {
		ids = append(ids, e.ID())
	}
	return ids
}
