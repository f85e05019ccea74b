package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/sensorthings/entity"
)

// DefaultPrefix is the channel prefix used when none is configured.
const DefaultPrefix = "sta"

// Redis publishes encoded change messages to Redis pub/sub channels named
// "<prefix>:<entity set>". Publishing is asynchronous; failures are logged.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	wg    sync.WaitGroup
	group singleflight.Group
}

// RedisOption configures a Redis bus.
type RedisOption func(*Redis)

// WithPrefix sets the channel prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithPublishTimeout bounds every publish call. Default is 5 seconds.
func WithPublishTimeout(d time.Duration) RedisOption {
	return func(r *Redis) { r.timeout = d }
}

// WithLogger sets the logger of publish failures.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// NewRedis returns a bus publishing through the client. The bus does not
// own the client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		prefix:  DefaultPrefix,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Channel returns the channel of an entity set.
func (r *Redis) Channel(set string) string {
	return r.prefix + ":" + set
}

// Publish implements Bus.
func (r *Redis) Publish(msg *entity.ChangedMessage) {
	b, err := Encode(msg)
	if err != nil {
		r.logger.Error("bus: dropping message", "event", msg.Event, "error", err)
		return
	}
	ch := r.Channel(msg.Entity.Type().Plural())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.client.Publish(ctx, ch, b).Err(); err != nil {
			r.logger.Warn("bus: publish failed", "channel", ch, "event", msg.Event, "error", err)
		}
	}()
}

// Ping checks the connection. Concurrent callers share one round trip.
func (r *Redis) Ping(ctx context.Context) error {
	_, err, _ := r.group.Do("ping", func() (any, error) {
		return nil, r.client.Ping(ctx).Err()
	})
	if err != nil {
		return fmt.Errorf("bus: redis ping: %w", err)
	}
	return nil
}

// Subscribe subscribes to the channels of the entity sets and returns the
// decoded messages until ctx is done. Undecodable payloads are skipped.
func (r *Redis) Subscribe(ctx context.Context, sets ...string) (<-chan *Wire, error) {
	chans := make([]string, len(sets))
	for i, s := range sets {
		chans[i] = r.Channel(s)
	}
	ps := r.client.Subscribe(ctx, chans...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("bus: redis subscribe: %w", err)
	}
	out := make(chan *Wire)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				w, err := Decode([]byte(m.Payload))
				if err != nil {
					r.logger.Warn("bus: skipping message", "channel", m.Channel, "error", err)
					continue
				}
				select {
				case out <- w:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close waits for the in-flight publishes.
func (r *Redis) Close() error {
	r.wg.Wait()
	return nil
}
