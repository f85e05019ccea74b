package query

import (
	"net/url"
	"strings"
)

// Param is one request parameter. Raw holds the encoded name=value form as
// received, so that re-encoding reproduces the request byte for byte.
type Param struct {
	Name  string
	Value string
	Raw   string
}

// Params is an ordered list of request parameters.
type Params []Param

// ParseParams parses a raw query string, keeping parameter order and the
// original encoding of every parameter.
func ParseParams(raw string) (Params, error) {
	var ps Params
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		ps = append(ps, Param{Name: name, Value: value, Raw: part})
	}
	return ps, nil
}

// Get returns the value of the named parameter.
func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Set returns a copy of ps with the named parameter replaced in place, or
// appended when absent.
func (ps Params) Set(name, value string) Params {
	out := make(Params, 0, len(ps)+1)
	found := false
	for _, p := range ps {
		if p.Name == name {
			p = Param{Name: name, Value: value}
			found = true
		}
		out = append(out, p)
	}
	if !found {
		out = append(out, Param{Name: name, Value: value})
	}
	return out
}

// Encode renders the parameters as a query string.
func (ps Params) Encode() string {
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteByte('&')
		}
		if p.Raw != "" {
			b.WriteString(p.Raw)
			continue
		}
		b.WriteString(escape(p.Name))
		b.WriteByte('=')
		b.WriteString(escape(p.Value))
	}
	return b.String()
}

// escape is url.QueryEscape keeping "$" readable.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "%24", "$")
}
