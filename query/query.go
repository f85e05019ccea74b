// Package query defines the parsed request consumed by the query compiler:
// the resource path, the query options and their raw parameters, and the
// generation of next links.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/sensorthings/querylanguage"
)

// Query holds the options of a request on an entity set or entity.
type Query struct {
	Filter  querylanguage.P
	Expand  []*Expand
	Select  []string
	OrderBy []OrderBy
	// Top is the requested page size, or nil for the server default.
	Top   *int
	Skip  int
	Count bool

	params Params
}

// Expand requests the entities linked through a navigation property to be
// returned inline, with its own query options.
type Expand struct {
	Nav   string
	Query *Query
}

// OrderBy is one ordering term. Field may be a navigation path, e.g.
// "Datastream/name".
type OrderBy struct {
	Field string
	Desc  bool
}

// String renders the term in request syntax.
func (o OrderBy) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field + " asc"
}

// Option configures a Query.
type Option func(*Query)

// New returns a new Query configured with the given options.
func New(opts ...Option) *Query {
	q := &Query{}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Where sets the filter.
func Where(p querylanguage.P) Option {
	return func(q *Query) { q.Filter = p }
}

// Select sets the selected properties.
func Select(names ...string) Option {
	return func(q *Query) { q.Select = names }
}

// Order appends ordering terms.
func Order(terms ...OrderBy) Option {
	return func(q *Query) { q.OrderBy = append(q.OrderBy, terms...) }
}

// Asc returns an ascending ordering term.
func Asc(field string) OrderBy { return OrderBy{Field: field} }

// Desc returns a descending ordering term.
func Desc(field string) OrderBy { return OrderBy{Field: field, Desc: true} }

// Top sets the page size.
func Top(n int) Option {
	return func(q *Query) { q.Top = &n }
}

// Skip sets the number of entities to skip.
func Skip(n int) Option {
	return func(q *Query) { q.Skip = n }
}

// Count requests the total count.
func Count() Option {
	return func(q *Query) { q.Count = true }
}

// WithExpand appends an expansion.
func WithExpand(nav string, sub *Query) Option {
	return func(q *Query) {
		if sub == nil {
			sub = New()
		}
		q.Expand = append(q.Expand, &Expand{Nav: nav, Query: sub})
	}
}

// WithParams attaches the raw request parameters the query was parsed from.
// Next links copy them byte for byte.
func WithParams(p Params) Option {
	return func(q *Query) { q.params = p }
}

// Clone returns a shallow copy of the query with its own slices.
func (q *Query) Clone() *Query {
	c := *q
	c.Expand = append([]*Expand(nil), q.Expand...)
	c.Select = append([]string(nil), q.Select...)
	c.OrderBy = append([]OrderBy(nil), q.OrderBy...)
	c.params = append(Params(nil), q.params...)
	if q.Top != nil {
		top := *q.Top
		c.Top = &top
	}
	return &c
}

// TopOr returns the requested page size, def when none was requested,
// capped at max when max is positive.
func (q *Query) TopOr(def, max int) int {
	top := def
	if q.Top != nil {
		top = *q.Top
	}
	if max > 0 && top > max {
		top = max
	}
	return top
}

// Params returns the request parameters of the query: the raw parameters
// attached with WithParams, or parameters rendered from the options.
func (q *Query) Params() Params {
	if q.params != nil {
		return q.params
	}
	var p Params
	if q.Filter != nil {
		p = p.Set("$filter", q.Filter.String())
	}
	if len(q.Expand) > 0 {
		p = p.Set("$expand", renderExpand(q.Expand))
	}
	if len(q.Select) > 0 {
		p = p.Set("$select", strings.Join(q.Select, ","))
	}
	if len(q.OrderBy) > 0 {
		p = p.Set("$orderby", renderOrder(q.OrderBy))
	}
	if q.Top != nil {
		p = p.Set("$top", strconv.Itoa(*q.Top))
	}
	if q.Skip > 0 {
		p = p.Set("$skip", strconv.Itoa(q.Skip))
	}
	if q.Count {
		p = p.Set("$count", "true")
	}
	return p
}

// ApplyPaging sets Top and Skip from $top and $skip parameters.
func (q *Query) ApplyPaging(p Params) error {
	if v, ok := p.Get("$top"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("query: invalid $top %q", v)
		}
		q.Top = &n
	}
	if v, ok := p.Get("$skip"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("query: invalid $skip %q", v)
		}
		q.Skip = n
	}
	q.params = p
	return nil
}

func renderOrder(terms []OrderBy) string {
	parts := make([]string, len(terms))
	for i, o := range terms {
		parts[i] = o.String()
	}
	return strings.Join(parts, ",")
}

func renderExpand(exps []*Expand) string {
	parts := make([]string, len(exps))
	for i, e := range exps {
		parts[i] = e.Nav
		if e.Query == nil {
			continue
		}
		var opts []string
		for _, p := range e.Query.Params() {
			opts = append(opts, p.Name+"="+p.Value)
		}
		if len(opts) > 0 {
			parts[i] += "(" + strings.Join(opts, ";") + ")"
		}
	}
	return strings.Join(parts, ",")
}
