// Package executor implements the Parallel Executor (spec §4.8): a bounded
// worker pool that fans a batch of term-mapping requests across a fixed
// number of goroutines while preserving the caller's input order, isolating
// per-request failures from one another, and honoring external cancellation
// by dispatching no further requests once it fires.
package executor

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

const (
	minWorkers           = 4
	workerHeadroom       = 4
	defaultQueueFactor   = 4
	defaultTermDeadline  = time.Second
	defaultBatchDeadline = 30 * time.Second
)

// Stats tracks pool-level throughput, mirroring the shape of the teacher's
// connection pool manager's PoolStats/ManagerStats counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Executor is the domain.ParallelExecutor implementation.
type Executor struct {
	workers       int
	queueCap      int
	termDeadline  time.Duration
	batchDeadline time.Duration
	limiter       *rate.Limiter

	submitted int64
	completed int64
	failed    int64
	cancelled int64
}

type job struct {
	index int
	req   domain.TermRequest
}

// New builds an Executor sized per cfg. The pool holds min(cpu*2+4,
// WorkersConfig.Max) workers, or cpu*2+4 when Max is zero (spec §4.8); the
// queue, term deadline, and batch deadline all fall back to sensible
// defaults when unset.
func New(cfg domain.WorkersConfig) *Executor {
	workers := runtime.NumCPU()*2 + workerHeadroom
	if workers < minWorkers {
		workers = minWorkers
	}
	if cfg.Max > 0 && cfg.Max < workers {
		workers = cfg.Max
	}

	queueCap := cfg.QueueCapacity
	if queueCap <= 0 {
		queueCap = workers * defaultQueueFactor
	}

	termDeadline := cfg.TermDeadline
	if termDeadline <= 0 {
		termDeadline = defaultTermDeadline
	}
	batchDeadline := cfg.BatchDeadline
	if batchDeadline <= 0 {
		batchDeadline = defaultBatchDeadline
	}

	return &Executor{
		workers:       workers,
		queueCap:      queueCap,
		termDeadline:  termDeadline,
		batchDeadline: batchDeadline,
		limiter:       rate.NewLimiter(rate.Limit(workers*50), queueCap),
	}
}

// Run fans requests across the pool and returns one ExecutorResult per
// request, written back at its original index regardless of completion
// order (spec §4.8: the pool must be order-preserving).
//
// If ctx (or the batch deadline) is done before a request has been handed
// to a worker, that request is never started and its slot carries
// Cancelled=true. Requests already queued to a worker are still run, and
// the pool itself never interrupts a call in flight; the context each call
// receives is derived from ctx, though, so fn sees the cancellation. One
// request's failure never cancels its siblings.
func (e *Executor) Run(ctx context.Context, requests []domain.TermRequest, fn func(context.Context, domain.TermRequest) (*domain.MappingResult, error)) []domain.ExecutorResult {
	results := make([]domain.ExecutorResult, len(requests))
	if len(requests) == 0 {
		return results
	}

	batchCtx, cancel := context.WithTimeout(ctx, e.batchDeadline)
	defer cancel()

	jobs := make(chan job, e.queueCap)

	var g errgroup.Group
	for w := 0; w < e.workers; w++ {
		g.Go(func() error {
			e.drain(batchCtx, jobs, results, fn)
			return nil
		})
	}

dispatch:
	for i, req := range requests {
		if err := e.limiter.Wait(batchCtx); err != nil {
			e.cancelFrom(results, requests, i)
			break dispatch
		}
		select {
		case jobs <- job{index: i, req: req}:
			atomic.AddInt64(&e.submitted, 1)
		case <-batchCtx.Done():
			e.cancelFrom(results, requests, i)
			break dispatch
		}
	}
	close(jobs)

	g.Wait()
	return results
}

// drain is one worker's loop: pull jobs until the channel is closed, run
// each to its own result slot. A request's failure never cancels its
// siblings — it is recorded in ExecutorResult.Err, not propagated.
func (e *Executor) drain(ctx context.Context, jobs <-chan job, results []domain.ExecutorResult, fn func(context.Context, domain.TermRequest) (*domain.MappingResult, error)) {
	for j := range jobs {
		results[j.index] = e.runOne(ctx, j.req, j.index, fn)
	}
}

func (e *Executor) cancelFrom(results []domain.ExecutorResult, requests []domain.TermRequest, from int) {
	for i := from; i < len(requests); i++ {
		results[i] = domain.ExecutorResult{Index: i, Cancelled: true, ErrKind: domain.ErrKindTimeout}
	}
	atomic.AddInt64(&e.cancelled, int64(len(requests)-from))
}

func (e *Executor) runOne(ctx context.Context, req domain.TermRequest, index int, fn func(context.Context, domain.TermRequest) (*domain.MappingResult, error)) domain.ExecutorResult {
	termCtx, cancel := context.WithTimeout(ctx, e.termDeadline)
	defer cancel()

	result, err := fn(termCtx, req)
	if err != nil {
		atomic.AddInt64(&e.failed, 1)
		return domain.ExecutorResult{Index: index, Err: err, ErrKind: errKind(err)}
	}

	atomic.AddInt64(&e.completed, 1)
	return domain.ExecutorResult{Index: index, Result: result}
}

func errKind(err error) domain.ErrorKind {
	var mappingErr *domain.MappingError
	if errors.As(err, &mappingErr) {
		return mappingErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrKindTimeout
	}
	return domain.ErrKindInternalError
}

// Stats returns cumulative submission/completion counters since the
// Executor was built.
func (e *Executor) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&e.submitted),
		Completed: atomic.LoadInt64(&e.completed),
		Failed:    atomic.LoadInt64(&e.failed),
		Cancelled: atomic.LoadInt64(&e.cancelled),
	}
}

// Workers returns the resolved worker count the pool was sized to.
func (e *Executor) Workers() int { return e.workers }
