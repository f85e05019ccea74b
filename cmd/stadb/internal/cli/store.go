package cli

import (
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/syssam/sensorthings/bus"
	"github.com/syssam/sensorthings/config"
	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/dialect/sql/sqlgraph"
	"github.com/syssam/sensorthings/model"
	"github.com/syssam/sensorthings/persistence"
)

// mapping returns the schema mapping of the data model for the settings.
func mapping(s *config.Settings) (*sqlgraph.Schema, error) {
	var opts []model.Option
	if s.Service.KeyType == config.KeyUUID {
		opts = append(opts, model.WithUUIDKeys())
	}
	_, g, err := model.New(opts...)
	return g, err
}

// openDriver opens the database of the settings. Statements are logged when
// debugging, otherwise slow statements are.
func openDriver(s *config.Settings, logger *slog.Logger) (dialect.Driver, error) {
	drv, err := sql.OpenDriver(s.Database.Driver, s.Database.Dialect, s.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", s.Database.Dialect, err)
	}
	if s.Database.Dialect == dialect.SQLite {
		drv.DB().SetMaxOpenConns(1)
	}
	if s.Database.Debug {
		return sql.NewDebugDriver(drv, logger), nil
	}
	return sql.NewStatsDriver(drv,
		sql.WithSlowThreshold(s.Database.SlowQuery),
		sql.WithSlowQueryLog(logger),
	), nil
}

// factory returns the persistence factory configured by the settings.
func factory(s *config.Settings, drv dialect.Driver, g *sqlgraph.Schema, logger *slog.Logger) (*persistence.Factory, error) {
	level, err := s.Isolation()
	if err != nil {
		return nil, err
	}
	return persistence.NewFactory(drv, g,
		persistence.WithLogger(logger),
		persistence.WithIsolation(level),
		persistence.WithStatementTimeout(s.Database.StatementTimeout),
		persistence.WithPaging(s.Service.DefaultTop, s.Service.MaxTop),
		persistence.WithBaseURL(s.Service.BaseURL),
		persistence.WithBulkDeleteMessages(s.Service.BulkDeleteMessages),
		persistence.WithResolveBatch(s.Service.ResolveBatch),
	), nil
}

// redisBus connects the Redis bus of the settings. The returned function
// releases it.
func redisBus(s *config.Settings, logger *slog.Logger) (*bus.Redis, func(), error) {
	if s.Bus.Kind != config.BusRedis {
		return nil, nil, fmt.Errorf("bus %q cannot be followed, only %q", s.Bus.Kind, config.BusRedis)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Bus.Addr})
	r := bus.NewRedis(client,
		bus.WithPrefix(s.Bus.Prefix),
		bus.WithPublishTimeout(s.Bus.PublishTimeout),
		bus.WithLogger(logger),
	)
	return r, func() {
		r.Close()
		client.Close()
	}, nil
}
