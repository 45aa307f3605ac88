package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrWorkerClosed is returned by Do after Close.
var ErrWorkerClosed = errors.New("db worker closed")

const defaultQueue = 256

// TxFn runs inside a transaction owned by the Worker. Returning an error
// rolls the transaction back.
type TxFn func(ctx context.Context, tx *sql.Tx) error

type writeReq struct {
	ctx    context.Context
	fn     TxFn
	result chan<- error
}

// WorkerStats counts finished transactions.
type WorkerStats struct {
	Committed uint64
	Failed    uint64
	Queued    int
}

// Worker is the single sqlite writer. Audit events and door sightings are
// queued here so the visit flow never waits on SQLITE_BUSY.
type Worker struct {
	db    *sql.DB
	queue chan writeReq
	done  chan struct{}

	closeMu sync.RWMutex
	closed  bool

	committed atomic.Uint64
	failed    atomic.Uint64
}

func NewWorker(db *sql.DB) *Worker {
	return NewWorkerSize(db, defaultQueue)
}

// NewWorkerSize is NewWorker with an explicit queue depth.
func NewWorkerSize(db *sql.DB, queue int) *Worker {
	if queue <= 0 {
		queue = defaultQueue
	}
	w := &Worker{
		db:    db,
		queue: make(chan writeReq, queue),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Close finishes queued writes and stops the worker. Safe to call twice.
func (w *Worker) Close() {
	w.closeMu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.closeMu.Unlock()
	<-w.done
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Committed: w.committed.Load(),
		Failed:    w.failed.Load(),
		Queued:    len(w.queue),
	}
}

// Do queues fn and waits for its transaction to finish or for ctx to end.
// A transaction already begun when ctx ends may still commit; its result
// is dropped.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	if fn == nil {
		return w.closedOr(errors.New("db worker: nil TxFn"))
	}
	result := make(chan error, 1)

	w.closeMu.RLock()
	if w.closed {
		w.closeMu.RUnlock()
		return ErrWorkerClosed
	}
	select {
	case w.queue <- writeReq{ctx: ctx, fn: fn, result: result}:
	case <-ctx.Done():
		w.closeMu.RUnlock()
		return ctx.Err()
	}
	w.closeMu.RUnlock()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) closedOr(err error) error {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return ErrWorkerClosed
	}
	return err
}

func (w *Worker) run() {
	defer close(w.done)
	for req := range w.queue {
		err := w.exec(req)
		if err != nil {
			w.failed.Add(1)
		} else {
			w.committed.Add(1)
		}
		req.result <- err
	}
}

func (w *Worker) exec(req writeReq) error {
	tx, err := w.db.BeginTx(req.ctx, nil)
	if err != nil {
		return err
	}
	if err := req.fn(req.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
