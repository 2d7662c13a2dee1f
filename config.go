package relorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Config configures the database behind a SQLMapper.
type Config struct {
	Driver      string   `mapstructure:"driver"`
	DSN         string   `mapstructure:"dsn"`
	ReplicaDSNs []string `mapstructure:"replica_dsns"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// StmtCacheSize enables the prepared statement cache when positive.
	StmtCacheSize int `mapstructure:"stmt_cache_size"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", "sqlite3")
	v.SetDefault("dsn", ":memory:")
	v.SetDefault("replica_dsns", []string{})
	v.SetDefault("max_open_conns", 0)
	v.SetDefault("max_idle_conns", 2)
	v.SetDefault("conn_max_lifetime", time.Duration(0))
	v.SetDefault("conn_max_idle_time", time.Duration(0))
	v.SetDefault("stmt_cache_size", 0)
	v.SetDefault("log_level", "info")
}

// LoadConfig reads configuration from the file at path (any format viper
// understands) and from RELORM_* environment variables, which take
// precedence. An empty path reads the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the driver and DSN.
func (c *Config) Validate() error {
	if _, err := DialectFor(c.Driver); err != nil {
		return err
	}
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// NewLogger builds a production zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	return zc.Build()
}

// Open opens and pings a connection pool for dsn and applies the pool
// settings.
func Open(ctx context.Context, cfg *Config, dsn string) (*sql.DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	return db, nil
}

// Connect opens the primary and replica pools described by cfg and returns
// a mapper owning them. Closing the mapper closes the pools.
func Connect(ctx context.Context, cfg *Config, md *Metadata, logger *zap.Logger) (*SQLMapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialect, _ := DialectFor(cfg.Driver)

	primary, err := Open(ctx, cfg, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("relorm: open primary: %w", err)
	}

	replicas, err := openReplicas(ctx, cfg)
	if err != nil {
		return nil, errors.Join(err, primary.Close())
	}

	opts := []MapperOption{WithReplicas(replicas...)}
	if logger != nil {
		opts = append(opts, WithMapperLogger(logger))
	}
	if cfg.StmtCacheSize > 0 {
		opts = append(opts, WithStmtCache(NewStmtCache(cfg.StmtCacheSize)))
	}

	m := NewSQLMapper(primary, dialect, md, opts...)
	m.ownsDB = true

	m.logger.Info("relorm connected",
		zap.String("driver", dialect.DriverName),
		zap.Int("replicas", len(replicas)))

	return m, nil
}

// openReplicas opens the replica pools concurrently. On failure the pools
// already opened are closed.
func openReplicas(ctx context.Context, cfg *Config) ([]*sql.DB, error) {
	replicas := make([]*sql.DB, len(cfg.ReplicaDSNs))

	eg, ctx := errgroup.WithContext(ctx)
	for i, dsn := range cfg.ReplicaDSNs {
		eg.Go(func() error {
			db, err := Open(ctx, cfg, dsn)
			if err != nil {
				return fmt.Errorf("relorm: open replica %d: %w", i, err)
			}
			replicas[i] = db
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		errs := []error{err}
		for _, db := range replicas {
			if db != nil {
				errs = append(errs, db.Close())
			}
		}
		return nil, errors.Join(errs...)
	}
	return replicas, nil
}
