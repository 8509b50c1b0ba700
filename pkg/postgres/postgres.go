package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	logx "github.com/tanpawarit/makwenta/pkg/logger"
)

type Config struct {
	URL          string        `envconfig:"URL" required:"true"`
	Timeout      time.Duration `split_words:"true" default:"5s"`
	MaxOpenConns int           `split_words:"true" default:"10"`
	LogQueries   bool          `split_words:"true" default:"false"`
}

// Open connects to Postgres and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return nil, errors.New("database url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.LogQueries {
		db.AddQueryHook(&queryLogger{log: logx.For("postgres")})
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return db, nil
}

type queryLogger struct {
	log zerolog.Logger
}

func (q *queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (q *queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	evt := q.log.Debug()
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		evt = q.log.Warn().Err(event.Err)
	}
	evt.
		Str("operation", event.Operation()).
		Dur("elapsed", time.Since(event.StartTime)).
		Str("query", event.Query).
		Msg("query executed")
}
