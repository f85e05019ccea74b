package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/sensorthings/config"
	"github.com/syssam/sensorthings/dialect/sql/sqlgraph"
	"github.com/syssam/sensorthings/query"
)

// ExplainOptions holds the flags of the explain command.
type ExplainOptions struct {
	*RootOptions
	Set     string
	Key     string
	Nav     []string
	Top     int
	Skip    int
	OrderBy []string
	Count   bool
	Exec    bool
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(root *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the SQL compiled for a query",
		Long: `Print the SQL statement and arguments compiled for a query on a
resource path, e.g. /Things(1)/Datastreams ordered by name:

  stadb explain --set Things --key 1 --nav Datastreams --orderby name

With --exec the query runs in a read transaction and the returned entities
are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExplain(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Set, "set", "", "entity set of the path, e.g. Things")
	cmd.Flags().StringVar(&opts.Key, "key", "", "key of the entity in the set")
	cmd.Flags().StringSliceVar(&opts.Nav, "nav", nil, "navigation steps of the path")
	cmd.Flags().IntVar(&opts.Top, "top", -1, "page size")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "number of entities to skip")
	cmd.Flags().StringSliceVar(&opts.OrderBy, "orderby", nil, `order terms, e.g. "name desc"`)
	cmd.Flags().BoolVar(&opts.Count, "count", false, "also count the matching entities")
	cmd.Flags().BoolVar(&opts.Exec, "exec", false, "run the query")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func runExplain(cmd *cobra.Command, opts *ExplainOptions) error {
	s := opts.settings
	g, err := mapping(s)
	if err != nil {
		return err
	}
	path, err := opts.path()
	if err != nil {
		return err
	}
	q, err := opts.query()
	if err != nil {
		return err
	}
	c, err := sqlgraph.Compile(g, path, q, sqlgraph.CompileOptions{
		Dialect:    s.Database.Dialect,
		DefaultTop: s.Service.DefaultTop,
		MaxTop:     s.Service.MaxTop,
		BaseURL:    s.Service.BaseURL,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	explain(out, c)
	if !opts.Exec {
		return nil
	}

	drv, err := openDriver(s, opts.logger)
	if err != nil {
		return err
	}
	defer drv.Close()
	f, err := factory(s, drv, g, opts.logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	m, err := f.Open(ctx)
	if err != nil {
		return err
	}
	defer m.Close()
	if c.Single() {
		e, err := m.GetEntity(ctx, path, q)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, e)
		return nil
	}
	set, err := m.QueryCollection(ctx, path, q)
	if err != nil {
		return err
	}
	for _, e := range set.Entities {
		fmt.Fprintln(out, e)
	}
	if set.Count != nil {
		fmt.Fprintf(out, "-- count: %d\n", *set.Count)
	}
	if set.NextLink != "" {
		fmt.Fprintf(out, "-- next: %s\n", set.NextLink)
	}
	return nil
}

// explain writes the statements of the compiled query.
func explain(w io.Writer, c *sqlgraph.CompiledQuery) {
	stmt, args := c.Statement()
	fmt.Fprintf(w, "-- %s (%s)\n%s;\n", c.Path, c.Node.Type, stmt)
	if len(args) > 0 {
		fmt.Fprintf(w, "-- args: %v\n", args)
	}
	if stmt, args, ok := c.CountQuery(); ok {
		fmt.Fprintf(w, "%s;\n", stmt)
		if len(args) > 0 {
			fmt.Fprintf(w, "-- args: %v\n", args)
		}
	}
}

func (opts *ExplainOptions) path() (query.ResourcePath, error) {
	var path query.ResourcePath
	if opts.Key == "" {
		path = query.Path(opts.Set)
	} else {
		key, err := parseKey(opts.Key, opts.settings.Service.KeyType)
		if err != nil {
			return nil, err
		}
		path = query.Path(opts.Set, key)
	}
	for _, nav := range opts.Nav {
		path = path.Nav(nav)
	}
	return path, path.Validate()
}

func (opts *ExplainOptions) query() (*query.Query, error) {
	var qo []query.Option
	if opts.Top >= 0 {
		qo = append(qo, query.Top(opts.Top))
	}
	if opts.Skip > 0 {
		qo = append(qo, query.Skip(opts.Skip))
	}
	if opts.Count {
		qo = append(qo, query.Count())
	}
	var terms []query.OrderBy
	for _, term := range opts.OrderBy {
		t, err := parseOrder(term)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) > 0 {
		qo = append(qo, query.Order(terms...))
	}
	return query.New(qo...), nil
}

// parseKey parses an entity key of the configured key type.
func parseKey(s, keyType string) (any, error) {
	if keyType == config.KeyUUID {
		return s, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return n, nil
}

// parseOrder parses an order term such as "name" or "name desc".
func parseOrder(s string) (query.OrderBy, error) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1:
		return query.Asc(fields[0]), nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
		return query.Asc(fields[0]), nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
		return query.Desc(fields[0]), nil
	default:
		return query.OrderBy{}, fmt.Errorf("invalid order term %q", s)
	}
}
