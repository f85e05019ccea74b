package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sensorthings/query"
	"github.com/syssam/sensorthings/querylanguage"
)

func TestParams(t *testing.T) {
	raw := "$filter=name%20eq%20%27T1%27&$orderby=name+desc&$top=10&custom=a%2Cb"
	ps, err := query.ParseParams(raw)
	require.NoError(t, err)
	require.Len(t, ps, 4)
	v, ok := ps.Get("$filter")
	require.True(t, ok)
	assert.Equal(t, "name eq 'T1'", v)
	v, _ = ps.Get("$orderby")
	assert.Equal(t, "name desc", v)
	assert.Equal(t, raw, ps.Encode(), "encoding preserves the received bytes")

	ps2 := ps.Set("$top", "5")
	assert.Equal(t, "$filter=name%20eq%20%27T1%27&$orderby=name+desc&$top=5&custom=a%2Cb", ps2.Encode())
	assert.Equal(t, raw, ps.Encode(), "Set does not modify the receiver")
	ps2 = ps2.Set("$skip", "5")
	assert.Equal(t, "$filter=name%20eq%20%27T1%27&$orderby=name+desc&$top=5&custom=a%2Cb&$skip=5", ps2.Encode())

	_, err = query.ParseParams("$filter=%zz")
	require.Error(t, err)
}

func TestNextLink(t *testing.T) {
	raw := "$filter=result%20gt%2010&$expand=Datastream&$orderby=phenomenonTime%20desc&$top=2"
	ps, err := query.ParseParams(raw)
	require.NoError(t, err)
	q := query.New(query.Top(2), query.WithParams(ps))
	path := query.Path("Datastreams", int64(1)).Nav("Observations")

	link := query.NextLink("http://example.org/v1.1/", path, q, 2)
	assert.Equal(t, "http://example.org/v1.1/Datastreams(1)/Observations?"+raw+"&$skip=2", link)

	p, next, err := query.ParseNextLink(link)
	require.NoError(t, err)
	assert.Equal(t, "/v1.1/Datastreams(1)/Observations", p)
	nq := q.Clone()
	require.NoError(t, nq.ApplyPaging(next))
	assert.Equal(t, 2, nq.Skip)
	assert.Equal(t, 2, *nq.Top)
	for _, name := range []string{"$filter", "$expand", "$orderby", "$top"} {
		want, _ := ps.Get(name)
		got, ok := next.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	// The second hop advances $skip in place.
	link = query.NextLink("http://example.org/v1.1", path, nq, 2)
	assert.Equal(t, "http://example.org/v1.1/Datastreams(1)/Observations?"+raw+"&$skip=4", link)
}

func TestGeneratedParams(t *testing.T) {
	q := query.New(
		query.Where(querylanguage.FieldEQ("name", "T1")),
		query.Select("id", "name"),
		query.Order(query.Desc("name")),
		query.WithExpand("Datastreams", query.New(query.Top(3))),
		query.Count(),
	)
	assert.Equal(t,
		`$filter=name+%3D%3D+%22T1%22&$expand=Datastreams%28$top%3D3%29&$select=id%2Cname&$orderby=name+desc&$count=true`,
		q.Params().Encode(),
	)
	link := query.NextLink("http://example.org", query.Path("Things"), q, 100)
	assert.Contains(t, link, "&$count=true&$top=100&$skip=100")
}

func TestTopOr(t *testing.T) {
	assert.Equal(t, 100, query.New().TopOr(100, 1000))
	assert.Equal(t, 5, query.New(query.Top(5)).TopOr(100, 1000))
	assert.Equal(t, 1000, query.New(query.Top(5000)).TopOr(100, 1000))
	assert.Equal(t, 5000, query.New(query.Top(5000)).TopOr(100, 0))
}

func TestApplyPagingErrors(t *testing.T) {
	for _, raw := range []string{"$top=x", "$skip=-1"} {
		ps, err := query.ParseParams(raw)
		require.NoError(t, err)
		require.Error(t, query.New().ApplyPaging(ps), raw)
	}
}

func TestResourcePath(t *testing.T) {
	p := query.Path("Things", int64(1)).Nav("Locations", "a'b")
	assert.Equal(t, "/Things(1)/Locations('a''b')", p.String())
	assert.True(t, p.IsEntity())
	assert.False(t, query.Path("Things").IsEntity())
	require.NoError(t, p.Validate())
	require.Error(t, query.ResourcePath{}.Validate())
}
