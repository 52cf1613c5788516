package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLeaseReleased is returned when a lease is used after its release.
var ErrLeaseReleased = errors.New("connection lease already released")

// Lease is a request-scoped handle on at most one pooled connection. The
// connection is acquired on first use and returned exactly once by Release.
type Lease struct {
	acquirer Acquirer

	mu       sync.Mutex
	conn     Conn
	released bool
}

// NewLease creates an unacquired lease over a.
func NewLease(a Acquirer) *Lease {
	return &Lease{acquirer: a}
}

// Conn returns the leased connection, acquiring it on the first call.
func (l *Lease) Conn(ctx context.Context) (Querier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, ErrLeaseReleased
	}
	if l.conn != nil {
		return l.conn, nil
	}
	conn, err := l.acquirer.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("lease acquire: %w", err)
	}
	l.conn = conn
	return conn, nil
}

// Acquired reports whether a connection has been checked out.
func (l *Lease) Acquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Release returns the connection to the pool. Later calls are no-ops.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	if l.conn != nil {
		l.conn.Release()
		l.conn = nil
	}
}

type leaseKey struct{}

// WithLease stores l on ctx.
func WithLease(ctx context.Context, l *Lease) context.Context {
	return context.WithValue(ctx, leaseKey{}, l)
}

// LeaseFromContext returns the request's lease, if any.
func LeaseFromContext(ctx context.Context) (*Lease, bool) {
	l, ok := ctx.Value(leaseKey{}).(*Lease)
	return l, ok && l != nil
}
