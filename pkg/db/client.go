package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Client wraps the shared GORM connection.
type Client struct {
	conn *gorm.DB
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TxOptions bounds a transaction. Zero values mean "driver default".
type TxOptions struct {
	Isolation sql.IsolationLevel
	// Timeout bounds the whole transaction including commit.
	Timeout time.Duration
	// LockTimeout and StatementTimeout are applied with SET LOCAL on Postgres.
	LockTimeout      time.Duration
	StatementTimeout time.Duration
}

// Serializable returns options for the strictest isolation level.
func Serializable(timeout, lockTimeout, statementTimeout time.Duration) TxOptions {
	return TxOptions{
		Isolation:        sql.LevelSerializable,
		Timeout:          timeout,
		LockTimeout:      lockTimeout,
		StatementTimeout: statementTimeout,
	}
}

// New boots a GORM client using the provided configuration.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})

	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	applyPoolSettings(sqlDB, cfg)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "database connection established")
	}

	return &Client{conn: conn}, nil
}

// NewFromGorm wraps an already opened connection (sqlite in tests).
func NewFromGorm(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction with driver defaults.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.WithTxOptions(ctx, TxOptions{}, fn)
}

// WithTxOptions executes fn inside a transaction, rolling back on error/panic.
// Serialization failures, lock/statement timeouts and an expired Timeout are
// reported as a retryable conflict.
func (c *Client) WithTxOptions(ctx context.Context, opts TxOptions, fn func(tx *gorm.DB) error) (err error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var sqlOpts *sql.TxOptions
	if opts.Isolation != sql.LevelDefault {
		sqlOpts = &sql.TxOptions{Isolation: opts.Isolation}
	}

	tx := c.conn.WithContext(ctx).Begin(sqlOpts)
	if tx.Error != nil {
		return classifyTxError(ctx, tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if c.conn.Dialector.Name() == "postgres" {
		if err := applyLocalTimeouts(tx, opts); err != nil {
			tx.Rollback()
			return classifyTxError(ctx, err)
		}
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return classifyTxError(ctx, err)
	}

	if err := tx.Commit().Error; err != nil {
		return classifyTxError(ctx, err)
	}
	return nil
}

func applyLocalTimeouts(tx *gorm.DB, opts TxOptions) error {
	if opts.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}
	if opts.StatementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.StatementTimeout.Milliseconds())
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}
	return nil
}
