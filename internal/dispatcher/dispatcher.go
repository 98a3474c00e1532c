// Package dispatcher implements the wallet engine's cooperative scheduler:
// one goroutine drains a queue of tasks so the Container, Cache, and
// Unconfirmed Table are only ever touched from a single execution context.
// Node requests made from inside a task run on that same goroutine and
// block it until they return; the dispatcher does not move Node I/O to
// other goroutines.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cryptonote-go/walletengine/pkg/logging"
)

// Dispatcher owns the single goroutine every wallet-owned data structure is
// touched from. Run starts that goroutine; Post and Call enqueue work onto
// it from any other goroutine (the engine's public methods use Call).
type Dispatcher struct {
	tasks  chan func()
	done   chan struct{}
	log    *logging.Logger
}

// New returns a Dispatcher with a bounded task queue. Call Run to start
// draining it; Run returns when its context is cancelled.
func New(queueDepth int, log *logging.Logger) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	if log == nil {
		log = logging.GetDefault()
	}
	return &Dispatcher{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
		log:   log.Component("dispatcher"),
	}
}

// Run drains the task queue until ctx is done. It blocks the calling
// goroutine and should be started with `go d.Run(ctx)`.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.log.Debug("dispatcher stopping", "reason", ctx.Err())
			return
		case task := <-d.tasks:
			d.runTask(task)
		}
	}
}

func (d *Dispatcher) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher task panicked", "recovered", r)
		}
	}()
	task()
}

// Post enqueues task to run on the dispatcher goroutine and returns once it
// is queued, blocking while the bounded queue is full. Called from inside a
// task running on the dispatcher while the queue is full, it never returns,
// since only the dispatcher goroutine drains the queue.
func (d *Dispatcher) Post(task func()) {
	d.tasks <- task
}

// Call enqueues task and blocks the caller until it has run, returning
// whatever error it produced. Used by synchronous wallet operations (e.g.
// Send) that need the dispatcher's serialization guarantee but must still
// report a result back to their own caller.
func (d *Dispatcher) Call(ctx context.Context, task func() error) error {
	resultCh := make(chan error, 1)
	d.Post(func() {
		resultCh <- task()
	})
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("dispatcher: call cancelled: %w", ctx.Err())
	}
}

// Wait blocks until Run has returned after its context was cancelled.
func (d *Dispatcher) Wait() {
	<-d.done
}

// NewCorrelationID returns a fresh id for tagging a Node RPC call or a
// dispatcher event so logs can be traced end to end.
func NewCorrelationID() string {
	return uuid.NewString()
}
