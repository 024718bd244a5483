// Package db provides relational database options for the record store.
package db

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 支持的驱动。
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Options defines configuration options for the relational store.
type Options struct {
	Driver string `json:"driver" mapstructure:"driver"`

	// Path 仅 sqlite 使用，":memory:" 表示内存库。
	Path string `json:"path" mapstructure:"path"`

	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"ssl-mode" mapstructure:"ssl-mode"`

	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`

	// LogLevel: 1 silent, 2 error, 3 warn, 4 info (gorm logger levels).
	LogLevel    int  `json:"log-level" mapstructure:"log-level"`
	AutoMigrate bool `json:"auto-migrate" mapstructure:"auto-migrate"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Driver:                DriverSQLite,
		Path:                  "_output/rag.db",
		Host:                  "127.0.0.1",
		Database:              "rag",
		SSLMode:               "disable",
		MaxIdleConnections:    10,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: 10 * time.Minute,
		LogLevel:              1,
		AutoMigrate:           true,
	}
}

// DSN builds the driver specific connection string.
func (o *Options) DSN() string {
	switch o.Driver {
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			o.Username, o.Password, o.Host, o.port(), o.Database)
	case DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(o.Username, o.Password),
			Host:     fmt.Sprintf("%s:%d", o.Host, o.port()),
			Path:     o.Database,
			RawQuery: "sslmode=" + o.SSLMode,
		}
		return u.String()
	default:
		return o.Path
	}
}

func (o *Options) port() int {
	if o.Port > 0 {
		return o.Port
	}
	if o.Driver == DriverMySQL {
		return 3306
	}
	return 5432
}

// AddFlags adds flags for database options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Driver, p+"driver", o.Driver, "Record store driver (sqlite, mysql, postgres)")
	fs.StringVar(&o.Path, p+"path", o.Path, "SQLite database file, or :memory:")
	fs.StringVar(&o.Host, p+"host", o.Host, "Database host")
	fs.IntVar(&o.Port, p+"port", o.Port, "Database port (0 = driver default)")
	fs.StringVar(&o.Username, p+"username", o.Username, "Database username")
	fs.StringVar(&o.Password, p+"password", o.Password, "Database password (prefer DB_PASSWORD env var)")
	fs.StringVar(&o.Database, p+"database", o.Database, "Database name")
	fs.StringVar(&o.SSLMode, p+"ssl-mode", o.SSLMode, "Postgres sslmode")
	fs.IntVar(&o.MaxIdleConnections, p+"max-idle-connections", o.MaxIdleConnections, "Maximum idle connections")
	fs.IntVar(&o.MaxOpenConnections, p+"max-open-connections", o.MaxOpenConnections, "Maximum open connections")
	fs.DurationVar(&o.MaxConnectionLifeTime, p+"max-connection-life-time", o.MaxConnectionLifeTime, "Maximum connection lifetime")
	fs.IntVar(&o.LogLevel, p+"log-level", o.LogLevel, "gorm log level (1 silent .. 4 info)")
	fs.BoolVar(&o.AutoMigrate, p+"auto-migrate", o.AutoMigrate, "Create or update tables at startup")
}

// Complete 在未显式配置密码时从 DB_PASSWORD 读取。
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("DB_PASSWORD")
	}
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Driver {
	case DriverSQLite:
		if o.Path == "" {
			errs = append(errs, fmt.Errorf("db.path is required for sqlite"))
		}
	case DriverMySQL, DriverPostgres:
		if o.Host == "" || o.Database == "" {
			errs = append(errs, fmt.Errorf("db.host and db.database are required for %s", o.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", o.Driver))
	}
	if o.LogLevel < 1 || o.LogLevel > 4 {
		errs = append(errs, fmt.Errorf("db.log-level must be within 1..4"))
	}
	return errs
}
