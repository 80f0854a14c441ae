// Package queue serializes every write a manager instance issues against its
// content storage. Writes execute one at a time in submission order, whatever
// their path.
package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/breez/data-store/metrics"
	"github.com/breez/data-store/store"
	"github.com/rs/zerolog"
)

// Expectation pins a write to a state of the path observed earlier, so the
// queue writes with that revision instead of reading the path again.
type Expectation struct {
	Exists   bool
	Revision string
}

type Write struct {
	Path    string
	Content []byte
	Message string
	Append  bool
	Expect  *Expectation
}

// Future resolves once its write has executed.
type Future struct {
	done     chan struct{}
	revision string
	err      error
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the write executed and returns the new revision of the
// path or the write's error.
func (f *Future) Wait() (string, error) {
	<-f.done
	return f.revision, f.err
}

func (f *Future) resolve(revision string, err error) {
	f.revision = revision
	f.err = err
	close(f.done)
}

type queuedWrite struct {
	ctx    context.Context
	write  Write
	future *Future
}

type WriteQueue struct {
	storage store.ContentStorage
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  []*queuedWrite
	draining bool
	idle     chan struct{}
}

type Option func(*WriteQueue)

func WithLogger(logger zerolog.Logger) Option {
	return func(q *WriteQueue) { q.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *WriteQueue) { q.metrics = m }
}

func New(storage store.ContentStorage, opts ...Option) *WriteQueue {
	idle := make(chan struct{})
	close(idle)
	q := &WriteQueue{
		storage: storage,
		logger:  zerolog.Nop(),
		idle:    idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue queues a write that reads the path first: appends are concatenated
// onto existing content, existing paths are updated with the revision just
// read and missing ones are created.
func (q *WriteQueue) Enqueue(ctx context.Context, path string, content []byte, message string, isAppend bool) *Future {
	return q.Submit(ctx, Write{Path: path, Content: content, Message: message, Append: isAppend})
}

// Submit queues w. The remote calls it leads to run without the cancellation
// of ctx.
func (q *WriteQueue) Submit(ctx context.Context, w Write) *Future {
	f := &Future{done: make(chan struct{})}
	qw := &queuedWrite{ctx: context.WithoutCancel(ctx), write: w, future: f}

	q.mu.Lock()
	q.pending = append(q.pending, qw)
	q.metrics.SetQueueDepth(len(q.pending))
	if !q.draining {
		q.draining = true
		q.idle = make(chan struct{})
		go q.drain()
	}
	q.mu.Unlock()
	return f
}

// Flush waits until every write queued so far, and any queued while waiting,
// has executed. It returns at once when the queue is idle.
func (q *WriteQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of writes waiting to execute.
func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *WriteQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.metrics.SetQueueDepth(len(q.pending))
		q.mu.Unlock()

		revision, err := q.execute(next.ctx, next.write)
		q.record(next.write, err)
		next.future.resolve(revision, err)
	}
}

func (q *WriteQueue) execute(ctx context.Context, w Write) (string, error) {
	if w.Expect != nil {
		if w.Expect.Exists {
			return q.storage.Update(ctx, w.Path, w.Content, w.Message, w.Expect.Revision)
		}
		return q.storage.Create(ctx, w.Path, w.Content, w.Message)
	}

	current, err := q.storage.Read(ctx, w.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read %v before writing: %w", w.Path, err)
	}
	if !current.Found {
		return q.storage.Create(ctx, w.Path, w.Content, w.Message)
	}
	content := w.Content
	if w.Append {
		content = append(bytes.Clone(current.Content), w.Content...)
	}
	return q.storage.Update(ctx, w.Path, content, w.Message, current.Revision)
}

func (q *WriteQueue) record(w Write, err error) {
	switch {
	case err == nil:
		q.metrics.WriteDone("ok")
		q.logger.Debug().Str("path", w.Path).Bool("append", w.Append).Msg("write executed")
	case errors.Is(err, store.ErrRevisionConflict):
		q.metrics.WriteDone("conflict")
		q.logger.Warn().Err(err).Str("path", w.Path).Msg("write rejected by revision conflict")
	default:
		q.metrics.WriteDone("error")
		q.logger.Warn().Err(err).Str("path", w.Path).Msg("write failed")
	}
}
