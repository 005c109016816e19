package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/citusdata/membership-manager/internal/logger"
	"github.com/citusdata/membership-manager/internal/telemetry"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second
)

// errSuperseded aborts the retry loop of an intent that a newer intent
// for the same identity has replaced.
var errSuperseded = errors.New("command superseded by newer intent")

// NodeCommander issues membership commands against the coordinator. Both
// operations must be idempotent at the coordinator boundary so that
// retries are never order- or count-sensitive. Implementations mark
// non-retryable failures with Permanent.
type NodeCommander interface {
	AddNode(ctx context.Context, host string) error
	RemoveNode(ctx context.Context, host string) error
}

// CompletionFunc receives the terminal outcome of a command: nil on
// success, a permanent error, or the abort error if retrying was cut
// short by shutdown.
type CompletionFunc func(id WorkerIdentity, op Operation, version uint64, err error)

// BackOffFactory produces a fresh backoff policy per command execution.
type BackOffFactory func() backoff.BackOff

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackOffFactory overrides the retry policy, mainly for tests.
func WithBackOffFactory(f BackOffFactory) ExecutorOption {
	return func(e *Executor) {
		e.newBackOff = f
	}
}

// Executor runs command intents serially through a single goroutine.
// Membership-changing calls take cluster-wide metadata locks at the
// coordinator, so issuance is serialized even though event processing
// stays concurrent. Per identity only the newest intent is kept: a
// newer intent replaces a queued one and aborts an in-flight retry loop.
type Executor struct {
	commander  NodeCommander
	complete   CompletionFunc
	newBackOff BackOffFactory

	mu      sync.Mutex
	pending map[WorkerIdentity]CommandIntent
	order   []WorkerIdentity

	wake chan struct{}
	done chan struct{}

	// loopCtx gates retry sleeps and is cancelled by Stop. In-flight
	// coordinator calls use callCtx instead so shutdown never aborts a
	// statement mid-call and leaves the coordinator half-applied.
	loopCtx context.Context
	cancel  context.CancelFunc
	callCtx context.Context
}

// NewExecutor creates an Executor; Start must be called to begin
// processing.
func NewExecutor(commander NodeCommander, complete CompletionFunc, opts ...ExecutorOption) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		commander:  commander,
		complete:   complete,
		newBackOff: defaultBackOff,
		pending:    make(map[WorkerIdentity]CommandIntent),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		loopCtx:    ctx,
		cancel:     cancel,
		callCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	b.MaxInterval = defaultMaxInterval
	return b
}

// Start launches the execution goroutine.
func (e *Executor) Start() {
	go e.run()
}

// Stop aborts retry waits and queued work, waits for an in-flight
// command to run to completion, and returns once the executor goroutine
// has exited.
func (e *Executor) Stop() {
	e.cancel()
	<-e.done
}

// Enqueue hands an intent to the executor. An intent with a version not
// newer than the one already pending for the same identity is dropped.
func (e *Executor) Enqueue(in CommandIntent) {
	e.mu.Lock()
	cur, exists := e.pending[in.Identity]
	if exists && cur.Version >= in.Version {
		e.mu.Unlock()
		return
	}
	e.pending[in.Identity] = in
	if !exists {
		e.order = append(e.order, in.Identity)
	}
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) run() {
	defer close(e.done)
	for {
		in, ok := e.next()
		if !ok {
			select {
			case <-e.wake:
				continue
			case <-e.loopCtx.Done():
				return
			}
		}
		e.execute(in)

		select {
		case <-e.loopCtx.Done():
			return
		default:
		}
	}
}

// next pops the oldest pending intent, if any.
func (e *Executor) next() (CommandIntent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.order) > 0 {
		id := e.order[0]
		e.order = e.order[1:]
		if in, ok := e.pending[id]; ok {
			delete(e.pending, id)
			return in, true
		}
	}
	return CommandIntent{}, false
}

// superseded reports whether a newer intent for the same identity has
// been enqueued since in was popped.
func (e *Executor) superseded(in CommandIntent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.pending[in.Identity]
	return ok && cur.Version > in.Version
}

// execute runs one intent to a terminal outcome: success, permanent
// failure, supersession, or shutdown abort. Transient failures are
// retried with exponential backoff, uncapped in attempts and capped in
// interval; a pending membership change is never silently abandoned.
func (e *Executor) execute(in CommandIntent) {
	operation := func() (struct{}, error) {
		if e.superseded(in) {
			return struct{}{}, backoff.Permanent(errSuperseded)
		}

		var err error
		switch in.Op {
		case OpAdd:
			err = e.commander.AddNode(e.callCtx, in.Address)
		case OpRemove:
			err = e.commander.RemoveNode(e.callCtx, in.Address)
		}
		if err == nil {
			return struct{}{}, nil
		}
		if IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(e.loopCtx, operation,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxElapsedTime(0), // retry until success, supersession, or shutdown
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.CommandRetries.Inc()
			logger.Warnf("%s of %s failed, retrying in %s: %v",
				in.Op, in.Address, next.Round(time.Millisecond), err)
		}),
	)

	if errors.Is(err, errSuperseded) {
		logger.Debugf("dropped superseded %s for %s (version %d)", in.Op, in.Identity, in.Version)
		return
	}
	e.complete(in.Identity, in.Op, in.Version, err)
}
