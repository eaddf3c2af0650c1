package market

import (
	"context"
	"time"
)

// Clock abstracts wall time and delayed callbacks so timers can be driven by
// tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback created by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the callback from firing. It reports false when the
	// callback already ran or was stopped.
	Stop() bool
}

// IDGenerator produces random identifiers.
type IDGenerator interface {
	NewV4ID() (string, error)
}

// Storage is the durable key/value store that holds per-profile client
// state. Get reports ok=false for missing keys.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
