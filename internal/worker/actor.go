// Package worker runs background jobs: it owns the database pool for the
// worker process and executes queued messages with panic isolation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/dispatcher"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
	"github.com/JakeFAU/contractor-socket/internal/queue"
)

// State is the actor lifecycle phase.
type State int32

// Lifecycle phases, in order.
const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotReady is returned by Run before a successful Start.
var ErrNotReady = errors.New("worker is not ready")

// Pool is the database handle the actor owns.
type Pool interface {
	database.Querier
	Close()
}

// Connector opens the pool.
type Connector func(ctx context.Context) (Pool, error)

// JobHandler executes one decoded message against the pool.
type JobHandler interface {
	Handle(ctx context.Context, q database.Querier, msg jobs.Message) (string, error)
}

// Config governs pool startup and job execution.
type Config struct {
	Concurrency       int
	LowConcurrency    int
	JobTimeout        time.Duration
	StartupAttempts   uint
	StartupRetryDelay time.Duration
}

// Outcome labels recorded per job.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
	outcomePanic  = "panic"
)

// IdleCloser is an outbound HTTP client whose idle connections the actor
// releases on shutdown.
type IdleCloser interface {
	CloseIdleConnections()
}

// Option customizes an Actor.
type Option func(*Actor)

// WithHTTPClient hands the shared outbound client to the actor so Shutdown
// releases it.
func WithHTTPClient(c IdleCloser) Option {
	return func(a *Actor) { a.http = c }
}

// Actor consumes the job queue. The queue belongs to the caller; the actor
// only stops reading from it.
type Actor struct {
	state    atomic.Int32
	cfg      Config
	connect  Connector
	queue    queue.Queue
	handler  JobHandler
	pool     Pool
	http     IdleCloser
	stopOnce sync.Once
	logger   *zap.Logger
}

// New creates an Actor in the uninitialized state.
func New(cfg Config, connect Connector, q queue.Queue, handler JobHandler, logger *zap.Logger, opts ...Option) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StartupAttempts == 0 {
		cfg.StartupAttempts = 5
	}
	if cfg.StartupRetryDelay <= 0 {
		cfg.StartupRetryDelay = time.Second
	}
	a := &Actor{
		cfg:     cfg,
		connect: connect,
		queue:   q,
		handler: handler,
		logger:  logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports the current lifecycle phase.
func (a *Actor) State() State {
	return State(a.state.Load())
}

// Start opens the database pool, retrying with a fixed delay. Exhausting
// the attempts stops the actor.
func (a *Actor) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateUninitialized), int32(StateStarting)) {
		return fmt.Errorf("start worker in state %s", a.State())
	}
	pool, err := retry.DoWithData(
		func() (Pool, error) { return a.connect(ctx) },
		retry.Context(ctx),
		retry.Attempts(a.cfg.StartupAttempts),
		retry.Delay(a.cfg.StartupRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Warn("database connect failed", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		a.state.Store(int32(StateStopped))
		return fmt.Errorf("connect database after %d attempts: %w", a.cfg.StartupAttempts, err)
	}
	a.pool = pool
	a.state.Store(int32(StateReady))
	a.logger.Info("worker ready")
	return nil
}

// Run consumes both priority classes until ctx ends.
func (a *Actor) Run(ctx context.Context) error {
	if a.State() != StateReady {
		return ErrNotReady
	}
	d := dispatcher.New(a.queue, dispatcher.Pools{
		jobs.PriorityNormal: a.cfg.Concurrency,
		jobs.PriorityLow:    a.cfg.LowConcurrency,
	})
	return d.Run(ctx, a.Execute)
}

// Execute runs one message. Failures and panics are logged and counted;
// the message is acknowledged either way.
func (a *Actor) Execute(ctx context.Context, msg jobs.Message) {
	prio := string(msg.Priority)
	metrics.IncActiveJobs(prio)
	defer metrics.DecActiveJobs(prio)

	if a.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.JobTimeout)
		defer cancel()
	}

	log := a.logger.With(zap.String("job_id", msg.ID), zap.String("job_type", string(msg.Type)))
	start := time.Now()
	outcome := outcomeOK
	defer func() {
		if r := recover(); r != nil {
			outcome = outcomePanic
			log.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		metrics.ObserveJob(string(msg.Type), outcome, time.Since(start))
	}()

	result, err := a.handler.Handle(ctx, a.pool, msg)
	if err != nil {
		outcome = outcomeFailed
		log.Error("job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	log.Info("job finished", zap.String("result", result), zap.Duration("duration", time.Since(start)))
}

// Shutdown closes the pool and releases the HTTP client. Later calls are
// no-ops. Delivery stops when the context passed to Run ends.
func (a *Actor) Shutdown() {
	a.stopOnce.Do(func() {
		a.state.Store(int32(StateShuttingDown))
		if a.pool != nil {
			a.pool.Close()
		}
		if a.http != nil {
			a.http.CloseIdleConnections()
		}
		a.state.Store(int32(StateStopped))
		a.logger.Info("worker stopped")
	})
}
