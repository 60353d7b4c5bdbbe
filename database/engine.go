/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// DataSource is a parsed connection URL of the form
// dialect[+driver]://[user[:password]@]host[:port]/database[?params].
type DataSource struct {
	Dialect string
	Driver  string
	DSN     string
	// Memory is set for in-memory sqlite databases. Their DSN names a shared
	// cache database so that every connection of one engine sees the same
	// data.
	Memory bool
}

// ParseURL resolves the dialect, the database/sql driver and the DSN for url.
func ParseURL(rawURL string) (*DataSource, error) {
	rawURL = strings.TrimSpace(rawURL)
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%w: malformed database url %q", ErrConfiguration, redactURL(rawURL))
	}
	dialect, driver, _ := strings.Cut(strings.ToLower(scheme), "+")

	switch dialect {
	case "sqlite", "sqlite3":
		return parseSQLite(driver, rest)
	case "postgres", "postgresql":
		return parsePostgres(driver, rest)
	case "mysql", "mariadb":
		return parseMySQL(driver, rawURL)
	}
	return nil, fmt.Errorf("%w: unsupported database type: %s, supported types: %v",
		ErrConfiguration, dialect, []string{DialectMySQL, DialectPostgres, DialectSQLite})
}

func parseSQLite(driver, rest string) (*DataSource, error) {
	ds := &DataSource{Dialect: DialectSQLite}
	switch driver {
	case "", "pysqlite", "aiosqlite", "shim":
		ds.Driver = sqliteshim.ShimName
	case "modernc":
		ds.Driver = "sqlite"
	default:
		return nil, fmt.Errorf("%w: unsupported sqlite driver %q", ErrConfiguration, driver)
	}

	// sqlite:///relative.db, sqlite:////abs/path.db, sqlite:///:memory:, sqlite://
	path, query, _ := strings.Cut(rest, "?")
	path = strings.TrimPrefix(path, "/")
	if path == "" || path == ":memory:" {
		ds.Memory = true
		ds.DSN = "file:magic-" + uuid.NewString() + "?mode=memory&cache=shared"
		if query != "" {
			ds.DSN += "&" + query
		}
		return ds, nil
	}
	if strings.Contains(path, ":memory:") || strings.Contains(query, "mode=memory") {
		ds.Memory = true
	}
	ds.DSN = path
	if query != "" {
		if !strings.HasPrefix(path, "file:") {
			ds.DSN = "file:" + path
		}
		ds.DSN += "?" + query
	}
	return ds, nil
}

func parsePostgres(driver, rest string) (*DataSource, error) {
	ds := &DataSource{Dialect: DialectPostgres, DSN: "postgres://" + rest}
	switch driver {
	case "", "psycopg2", "psycopg", "pq":
		ds.Driver = "postgres"
	case "pgx", "asyncpg":
		ds.Driver = "pgx"
	case "pgdriver", "bun":
		ds.Driver = "pgdriver"
	default:
		return nil, fmt.Errorf("%w: unsupported postgres driver %q", ErrConfiguration, driver)
	}
	return ds, nil
}

func parseMySQL(driver, rawURL string) (*DataSource, error) {
	switch driver {
	case "", "pymysql", "aiomysql", "mysqldb", "asyncmy":
	default:
		return nil, fmt.Errorf("%w: unsupported mysql driver %q", ErrConfiguration, driver)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed database url: %v", ErrConfiguration, err)
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" && u.Host != "" {
		cfg.Addr = u.Host + ":3306"
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	for key, values := range u.Query() {
		if len(values) > 0 {
			cfg.Params[key] = values[len(values)-1]
		}
	}
	return &DataSource{Dialect: DialectMySQL, Driver: "mysql", DSN: cfg.FormatDSN()}, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// Engine is a configured connection target for one execution mode.
type Engine struct {
	mode       Mode
	url        string
	source     *DataSource
	rawOptions map[string]any
	options    EngineOptions
	db         *bun.DB
	sqlDB      *sql.DB
	logger     Logger

	// keeper holds an in-memory database open for the engine's lifetime.
	keeper *sql.Conn

	closeOnce sync.Once
	closeErr  error
}

func (e *Engine) Mode() Mode { return e.mode }

// URL returns the url the engine was built from, unmodified.
func (e *Engine) URL() string { return e.url }

// String returns the url with the password masked.
func (e *Engine) String() string { return redactURL(e.url) }

func (e *Engine) Dialect() string { return e.source.Dialect }

func (e *Engine) DriverName() string { return e.source.Driver }

// RawOptions returns a copy of the option map the engine was built from.
func (e *Engine) RawOptions() map[string]any { return maps.Clone(e.rawOptions) }

func (e *Engine) Options() EngineOptions { return e.options }

func (e *Engine) DB() *bun.DB { return e.db }

func (e *Engine) SQLDB() *sql.DB { return e.sqlDB }

func (e *Engine) SchemaDialect() schema.Dialect { return e.db.Dialect() }

func (e *Engine) Ping(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("database not connected")
	}
	return e.db.PingContext(ctx)
}

// HealthCheck pings the database and reports pool usage.
func (e *Engine) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := e.Ping(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	stats := e.sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return status
}

func (e *Engine) Stats() *DBStats {
	stats := e.sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// Close releases the pool. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.keeper != nil {
			_ = e.keeper.Close()
		}
		e.closeErr = e.db.Close()
		if e.closeErr != nil {
			e.logger.Error("Failed to close database engine", "mode", e.mode, "url", e.String(), "error", e.closeErr)
		} else {
			e.logger.Info("Database engine closed", "mode", e.mode, "url", e.String())
		}
	})
	return e.closeErr
}

// EngineFactory builds engines from connection specs. Options are handed to
// the bun provider as-is; the factory itself does not look at them.
type EngineFactory struct {
	logger     Logger
	queryHooks []bun.QueryHook
}

func NewEngineFactory(logger Logger, hooks ...bun.QueryHook) *EngineFactory {
	if logger == nil {
		logger = GetLogger()
	}
	return &EngineFactory{logger: logger, queryHooks: hooks}
}

// Engines holds at most one engine per mode.
type Engines struct {
	Sync  *Engine
	Async *Engine
}

// Get returns the engine for mode or ErrUnsupportedMode.
func (es *Engines) Get(mode Mode) (*Engine, error) {
	var e *Engine
	switch mode {
	case ModeSync:
		e = es.Sync
	case ModeAsync:
		e = es.Async
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	return e, nil
}

func (es *Engines) Close() error {
	var first error
	for _, e := range []*Engine{es.Sync, es.Async} {
		if e == nil {
			continue
		}
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CreateEngines builds the sync and async engines. At least one spec is
// required.
func (f *EngineFactory) CreateEngines(syncSpec, asyncSpec *ConnectionSpec) (*Engines, error) {
	if syncSpec == nil && asyncSpec == nil {
		return nil, fmt.Errorf("%w: provide at least one of sync or async connection spec", ErrConfiguration)
	}
	engines := &Engines{}
	if syncSpec != nil {
		e, err := f.Create(ModeSync, syncSpec)
		if err != nil {
			return nil, err
		}
		engines.Sync = e
	}
	if asyncSpec != nil {
		e, err := f.Create(ModeAsync, asyncSpec)
		if err != nil {
			_ = engines.Close()
			return nil, err
		}
		engines.Async = e
	}
	return engines, nil
}

// Create builds a single engine for mode.
func (f *EngineFactory) Create(mode Mode, spec *ConnectionSpec) (*Engine, error) {
	if spec == nil || strings.TrimSpace(spec.URL()) == "" {
		return nil, fmt.Errorf("%w: %s database url is not configured", ErrConfiguration, mode)
	}
	source, err := ParseURL(spec.URL())
	if err != nil {
		return nil, err
	}
	opts, err := DecodeEngineOptions(spec.EngineOptions())
	if err != nil {
		return nil, err
	}
	if _, err := ParseIsolationLevel(opts.IsolationLevel); err != nil {
		return nil, err
	}
	if len(opts.Extra) > 0 {
		f.logger.Debug("Engine options not interpreted by the bun provider", "mode", mode, "keys", sortedKeys(opts.Extra))
	}

	sqlDB, err := openSQLDB(source, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	configureConnectionPool(sqlDB, opts)

	var keeper *sql.Conn
	if source.Memory {
		// the database is dropped when its last connection closes
		if keeper, err = sqlDB.Conn(context.Background()); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to open in-memory database: %w", err)
		}
	}

	db := bun.NewDB(sqlDB, newDialect(source.Dialect))
	e := &Engine{
		mode:       mode,
		url:        spec.URL(),
		source:     source,
		rawOptions: spec.EngineOptions(),
		options:    opts,
		db:         db,
		sqlDB:      sqlDB,
		logger:     f.logger,
		keeper:     keeper,
	}

	if enabled, debug := opts.EchoMode(); enabled {
		if debug {
			db.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
				bundebug.FromEnv("BUNDEBUG"),
			))
		} else {
			db.AddQueryHook(NewQueryHook(true))
		}
	}
	if opts.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{slowTime: opts.SlowQueryTime, logger: f.logger})
	}
	for _, h := range f.queryHooks {
		db.AddQueryHook(h)
	}

	if opts.PoolPrePing {
		timeout := opts.ConnectTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("database connection test failed: %w", err)
		}
	}

	f.logger.Info("Database engine created", "mode", mode, "dialect", source.Dialect, "driver", source.Driver, "url", e.String())
	return e, nil
}

func openSQLDB(source *DataSource, opts EngineOptions) (*sql.DB, error) {
	if source.Driver == "pgdriver" {
		connOpts := []pgdriver.Option{pgdriver.WithDSN(source.DSN)}
		if opts.ConnectTimeout > 0 {
			connOpts = append(connOpts, pgdriver.WithDialTimeout(opts.ConnectTimeout))
		}
		return sql.OpenDB(pgdriver.NewConnector(connOpts...)), nil
	}
	return sql.Open(source.Driver, source.DSN)
}

func newDialect(name string) schema.Dialect {
	switch name {
	case DialectPostgres:
		return pgdialect.New()
	case DialectMySQL:
		return mysqldialect.New()
	default:
		return sqlitedialect.New()
	}
}

func configureConnectionPool(sqlDB *sql.DB, opts EngineOptions) {
	if opts.PoolSize > 0 {
		sqlDB.SetMaxIdleConns(opts.PoolSize)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns())
	if opts.PoolRecycle > 0 {
		sqlDB.SetConnMaxLifetime(opts.PoolRecycle)
	}
	if opts.PoolIdleTimeout > 0 {
		sqlDB.SetConnMaxIdleTime(opts.PoolIdleTimeout)
	}
}
