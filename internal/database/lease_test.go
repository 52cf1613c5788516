package database

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	released int
}

func (c *fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (c *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
}

type fakeAcquirer struct {
	mu       sync.Mutex
	acquired int
	conn     *fakeConn
	err      error
}

func (a *fakeAcquirer) Acquire(context.Context) (Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.acquired++
	return a.conn, nil
}

func TestLease_NoAcquireWithoutUse(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{conn: &fakeConn{}}
	lease := NewLease(acq)
	lease.Release()

	require.Zero(t, acq.acquired)
	require.Zero(t, acq.conn.released)
	require.False(t, lease.Acquired())
}

func TestLease_AcquiresOnceAndReleasesOnce(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{conn: &fakeConn{}}
	lease := NewLease(acq)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lease.Conn(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, acq.acquired)
	require.True(t, lease.Acquired())

	lease.Release()
	lease.Release()
	require.Equal(t, 1, acq.conn.released)

	_, err := lease.Conn(ctx)
	require.ErrorIs(t, err, ErrLeaseReleased)
}

func TestLease_AcquireError(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{err: errors.New("pool exhausted")}
	lease := NewLease(acq)
	_, err := lease.Conn(context.Background())
	require.ErrorContains(t, err, "pool exhausted")
	lease.Release()
}

func TestLeaseFromContext(t *testing.T) {
	t.Parallel()

	_, ok := LeaseFromContext(context.Background())
	require.False(t, ok)

	lease := NewLease(&fakeAcquirer{conn: &fakeConn{}})
	got, ok := LeaseFromContext(WithLease(context.Background(), lease))
	require.True(t, ok)
	require.Same(t, lease, got)
}

func TestNewPool_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPool(context.Background(), Config{})
	require.Error(t, err)
}
