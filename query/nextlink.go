package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// NextLink returns the link to the page following a page of size top of q.
// All parameters other than $skip and $top are copied unchanged; $skip is
// advanced by top and $top is set when absent.
func NextLink(base string, path ResourcePath, q *Query, top int) string {
	params := q.Params()
	if _, ok := params.Get("$top"); !ok {
		params = params.Set("$top", strconv.Itoa(top))
	}
	params = params.Set("$skip", strconv.Itoa(q.Skip+top))
	return strings.TrimSuffix(base, "/") + path.String() + "?" + params.Encode()
}

// ParseNextLink splits a link produced by NextLink into its resource path
// (as text) and its parameters.
func ParseNextLink(link string) (string, Params, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", nil, fmt.Errorf("query: parse next link: %w", err)
	}
	params, err := ParseParams(u.RawQuery)
	if err != nil {
		return "", nil, fmt.Errorf("query: parse next link: %w", err)
	}
	return u.Path, params, nil
}
