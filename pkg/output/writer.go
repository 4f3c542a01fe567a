// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package output

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"k8s.io/client-go/util/workqueue"
)

const (
	writerName          = "output-writer"
	defaultMaxBatchSize = 500
	defaultFlushPeriod  = time.Second
)

// Collaborator is the external sink the Writer stages batches to. The
// on-disk encoding and container layout are entirely the collaborator's own
// business (spec.md §1's exclusion); the Writer only guarantees every row
// it was handed is eventually passed to FlushRows, retried under backoff.
type Collaborator interface {
	FlushRows(ctx context.Context, rows []Row) error
}

var batchCounter uint64

// rowBatch is one unit of queued work: an id purely to make Writer's queue
// entries comparable despite workqueue needing a hashable/comparable item
// type (slices are neither, hence the wrapping struct and pointer identity).
type rowBatch struct {
	rows []Row
	id   uint64
}

func newRowBatch(rows []Row) *rowBatch {
	return &rowBatch{rows: rows, id: atomic.AddUint64(&batchCounter, 1)}
}

// Writer batches staged Rows and flushes them to a Collaborator through a
// rate-limited retry queue: Stage plays the role of an event-channel
// consumer loop, with a periodic flusher and a retrying sender running
// alongside it.
type Writer struct {
	collaborator Collaborator
	log          logr.Logger
	queue        workqueue.TypedRateLimitingInterface[*rowBatch]

	mu    sync.Mutex
	batch *rowBatch

	maxBatchSize int
	flushPeriod  time.Duration
}

// WriterOpt configures a Writer at construction time.
type WriterOpt func(*Writer)

func WithMaxBatchSize(n int) WriterOpt {
	return func(w *Writer) { w.maxBatchSize = n }
}

func WithFlushPeriod(d time.Duration) WriterOpt {
	return func(w *Writer) { w.flushPeriod = d }
}

func WithLogger(log logr.Logger) WriterOpt {
	return func(w *Writer) { w.log = log }
}

// NewWriter creates a Writer staging rows for collaborator.
func NewWriter(collaborator Collaborator, opts ...WriterOpt) (*Writer, error) {
	if collaborator == nil {
		return nil, fmt.Errorf("output: collaborator can't be nil")
	}

	limiter := workqueue.DefaultTypedControllerRateLimiter[*rowBatch]()
	queue := workqueue.NewTypedRateLimitingQueueWithConfig(limiter,
		workqueue.TypedRateLimitingQueueConfig[*rowBatch]{Name: writerName})

	w := &Writer{
		collaborator: collaborator,
		queue:        queue,
		batch:        newRowBatch(nil),
		maxBatchSize: defaultMaxBatchSize,
		flushPeriod:  defaultFlushPeriod,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Stage appends rows to the current batch, flushing immediately if the
// batch has reached maxBatchSize.
func (w *Writer) Stage(rows ...Row) {
	w.mu.Lock()
	w.batch.rows = append(w.batch.rows, rows...)
	shouldFlush := len(w.batch.rows) >= w.maxBatchSize
	w.mu.Unlock()

	if shouldFlush {
		w.flushBatch()
	}
}

func (w *Writer) flushBatch() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.batch.rows) == 0 {
		return
	}
	w.queue.AddRateLimited(w.batch)
	w.batch = newRowBatch(nil)
}

// Run starts the periodic flusher and the sender loop, blocking until ctx
// is canceled. On cancellation it flushes whatever is staged, drains the
// queue, and returns.
func (w *Writer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sender(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.batchFlusher(ctx)
	}()

	<-ctx.Done()
	w.flushBatch()
	w.queue.ShutDownWithDrain()
	wg.Wait()
	return nil
}

func (w *Writer) batchFlusher(ctx context.Context) {
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flushBatch()
		}
	}
}

func (w *Writer) sender(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !w.sendOne(ctx) {
				return
			}
		}
	}
}

// sendOne dequeues one batch and flushes it, retrying the collaborator call
// under exponential backoff. It returns false once the queue has been told
// to shut down, signaling the sender loop to exit.
func (w *Writer) sendOne(ctx context.Context) bool {
	batch, shutdown := w.queue.Get()
	if shutdown {
		return false
	}
	defer w.queue.Done(batch)

	_, err := backoff.Retry(ctx, func() (bool, error) {
		return true, w.collaborator.FlushRows(ctx, batch.rows)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))

	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		w.log.Error(err, "failed to flush output rows, retrying", "rows", len(batch.rows))
		if !w.queue.ShuttingDown() {
			w.queue.AddRateLimited(batch)
		}
		return true
	}

	w.queue.Forget(batch)
	return true
}
