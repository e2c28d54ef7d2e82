package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"medremind/internal/reminder"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrUnknownDriver = errors.New("unknown storage driver")

	// ErrUnavailable is the reminder layer's sentinel, so errors.Is works
	// across packages without storage leaking into the domain.
	ErrUnavailable = reminder.ErrStoreUnavailable
)

const (
	DefaultCollection = "Users_medical_reminder"
	DefaultDatabase   = "Users"
	DefaultMongoURI   = "mongodb://localhost:27017"
	DefaultSQLitePath = "./medremind.db"
)

// Config configures storage.
type Config struct {
	Driver string
	// Path is the database file for sqlite and the base path for file.
	Path string
	// URI, Database and Collection configure mongo.
	URI        string
	Database   string
	Collection string
	// DSN configures postgres.
	DSN string

	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	BusyTimeout    time.Duration // sqlite only; 0 means default
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	if c.URI == "" {
		c.URI = DefaultMongoURI
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	return c
}

type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return e.op + ": " + ErrUnavailable.Error() + ": " + e.err.Error()
}

func (e *unavailableError) Unwrap() []error { return []error{ErrUnavailable, e.err} }

// unavailable tags err so callers can match ErrUnavailable while the driver
// cause stays reachable.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&unavailableError{op: op, err: err})
}

func opCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
