package service

import (
	"context"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/authpersist/internal/telemetry/logger"
)

// ErrQueueClosed is returned for operations submitted after Close.
var ErrQueueClosed = errors.New("operation queue closed")

// Operation is one unit of work run by an OperationQueue.
type Operation func(ctx context.Context) error

type job struct {
	ctx    context.Context
	op     Operation
	result chan error
}

// OperationQueue runs operations one at a time in submission order on a
// single goroutine. Each operation's context carries a fresh operation ID
// (logger.OperationIDFromContext).
type OperationQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewOperationQueue starts the queue goroutine.
func NewOperationQueue() *OperationQueue {
	q := &OperationQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Do queues op and waits for it to finish. An operation whose context is
// already done when its turn comes is skipped and reports the context
// error. If ctx ends while waiting, Do returns early but op still runs in
// order unless it has not started yet.
func (q *OperationQueue) Do(ctx context.Context, op Operation) error {
	result := make(chan error, 1)
	if !q.push(job{ctx: ctx, op: op, result: result}) {
		return ErrQueueClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go queues op without waiting. It reports false when the queue is closed.
func (q *OperationQueue) Go(ctx context.Context, op Operation) bool {
	return q.push(job{ctx: ctx, op: op, result: make(chan error, 1)})
}

func (q *OperationQueue) push(j job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close runs everything already queued and stops the goroutine.
func (q *OperationQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()
	<-q.done
}

func (q *OperationQueue) loop() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.jobs) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			j := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()

			j.result <- q.run(j)
		}
	}
}

func (q *OperationQueue) run(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	ctx := logger.WithOperationID(j.ctx, ulid.Make().String())
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
			logger.L(ctx).Error("operation panicked", "panic", r)
		}
	}()
	return j.op(ctx)
}

// PanicError reports an operation that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "operation panicked"
}
