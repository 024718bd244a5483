// Package database opens the gorm connection used by the record repositories.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	options "github.com/kart-io/sentinel-rag/pkg/options/db"
)

// MemoryDSN is the sqlite in-memory database path.
const MemoryDSN = ":memory:"

// Client wraps *gorm.DB.
type Client struct {
	db     *gorm.DB
	driver string
}

// New opens a connection for opts.Driver, applies the pool limits and pings it.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("database options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid database options: %v", errs)
	}

	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel(opts.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(opts.MaxConnectionLifeTime)
	// 每个 sqlite 内存连接都是独立的库，只能保留一个连接
	if opts.Driver == options.DriverSQLite && opts.Path == MemoryDSN {
		sqlDB.SetMaxOpenConns(1)
	}

	c := &Client{db: db, driver: opts.Driver}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", opts.Driver, err)
	}
	return c, nil
}

// NewMemory opens an in-memory sqlite database, used by tests.
func NewMemory(ctx context.Context) (*Client, error) {
	opts := options.NewOptions()
	opts.Path = MemoryDSN
	return New(ctx, opts)
}

func dialectorFor(opts *options.Options) (gorm.Dialector, error) {
	switch opts.Driver {
	case options.DriverSQLite:
		if opts.Path != MemoryDSN {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return sqlite.Open(opts.DSN()), nil
	case options.DriverMySQL:
		return mysql.Open(opts.DSN()), nil
	case options.DriverPostgres:
		return postgres.Open(opts.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", opts.Driver)
	}
}

func logLevel(level int) gormlogger.LogLevel {
	switch level {
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Silent
	}
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Name returns the driver name.
func (c *Client) Name() string {
	return c.driver
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Check is Ping for /healthz.
func (c *Client) Check(ctx context.Context) error {
	return c.Ping(ctx)
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
