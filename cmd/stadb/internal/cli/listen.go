package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/sensorthings/bus"
	"github.com/syssam/sensorthings/config"
)

// ListenOptions holds the flags of the listen command.
type ListenOptions struct {
	*RootOptions
	Sets  []string
	Watch bool
}

// NewListenCommand creates the listen command.
func NewListenCommand(root *RootOptions) *cobra.Command {
	opts := &ListenOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "listen --set <EntitySet>...",
		Short: "Print the change messages published on the Redis bus",
		Long: `Print the change messages published on the Redis bus for the given
entity sets until interrupted.

With --watch the settings file is reloaded on change and the bus is
subscribed again when its settings changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListen(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Sets, "set", nil, "entity sets to follow, e.g. Things")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload the settings file on change")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func runListen(cmd *cobra.Command, opts *ListenOptions) error {
	ctx := cmd.Context()
	reload := make(chan *config.Settings, 1)
	if opts.Watch {
		if opts.Config == "" {
			return fmt.Errorf("--watch requires --config")
		}
		go func() {
			err := config.Watch(ctx, opts.Config, func(s *config.Settings, err error) {
				if err != nil {
					opts.logger.Warn("listen: reload settings", "error", err)
					return
				}
				select {
				case <-reload:
				default:
				}
				reload <- s
			})
			if err != nil {
				opts.logger.Error("listen: watch settings", "error", err)
			}
		}()
	}
	out := cmd.OutOrStdout()
	s := opts.settings
	for {
		next, err := listen(ctx, s, opts, reload, func(w *bus.Wire) {
			fmt.Fprintln(out, formatWire(w))
		})
		if err != nil || next == nil {
			return err
		}
		opts.logger.Info("listen: bus settings changed, subscribing again", "addr", next.Bus.Addr, "prefix", next.Bus.Prefix)
		s = next
	}
}

// listen follows the bus of s until ctx is done, the subscription ends, or
// settings with other bus settings arrive on reload. In the latter case
// the new settings are returned.
func listen(ctx context.Context, s *config.Settings, opts *ListenOptions, reload <-chan *config.Settings, emit func(*bus.Wire)) (*config.Settings, error) {
	r, release, err := redisBus(s, opts.logger)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := r.Ping(ctx); err != nil {
		return nil, err
	}
	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs, err := r.Subscribe(sub, opts.Sets...)
	if err != nil {
		return nil, err
	}
	opts.logger.Info("listen: subscribed", "channels", channels(r, opts.Sets))
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case ns := <-reload:
			if ns.Bus != s.Bus {
				return ns, nil
			}
		case w, ok := <-msgs:
			if !ok {
				return nil, nil
			}
			emit(w)
		}
	}
}

func channels(r *bus.Redis, sets []string) []string {
	chans := make([]string, len(sets))
	for i, set := range sets {
		chans[i] = r.Channel(set)
	}
	return chans
}

// formatWire formats a change message on one line, e.g.
// "Update Thing(1) name=T2 [name]".
func formatWire(w *bus.Wire) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s(%s)", cases.Title(language.English).String(w.Event), w.Type, formatID(w.ID))
	names := make([]string, 0, len(w.Properties))
	for name := range w.Properties {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%v", name, w.Properties[name])
	}
	refs := make([]string, 0, len(w.Refs))
	for name := range w.Refs {
		refs = append(refs, name)
	}
	slices.Sort(refs)
	for _, name := range refs {
		fmt.Fprintf(&b, " %s->%v", name, w.Refs[name])
	}
	if len(w.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(w.Fields, ","))
	}
	return b.String()
}

func formatID(id []any) string {
	parts := make([]string, len(id))
	for i, v := range id {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
