// Package fanout runs a batch of independent, I/O-bound calls concurrently and
// joins them according to a domain.FailurePolicy.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"kilometers.ai/pluginhost/internal/core/domain"
)

// Outcome is the settled result of one item of a batch
type Outcome[T any] struct {
	Value T
	Err   error
}

// Executor owns the goroutine pool shared by all batches of the host
type Executor struct {
	pool           *ants.Pool
	maxConcurrency int
}

// NewExecutor creates an executor. maxConcurrency <= 0 means every item of a
// batch is started without waiting for the others.
func NewExecutor(maxConcurrency int) (*Executor, error) {
	size := maxConcurrency
	if size <= 0 {
		size = -1
	}

	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Executor{
		pool:           pool,
		maxConcurrency: maxConcurrency,
	}, nil
}

// MaxConcurrency returns the configured bound, 0 when unbounded
func (e *Executor) MaxConcurrency() int {
	if e.maxConcurrency < 0 {
		return 0
	}
	return e.maxConcurrency
}

// Close releases the pool's workers
func (e *Executor) Close() {
	e.pool.Release()
}

// Run calls fn for every index in [0, n) and joins the results.
//
// With IsolatePerItem every call settles, outcomes are returned in index order
// and the returned error is always nil. With AbortOnFirstError the first
// failure cancels the context handed to the remaining calls and is returned
// without outcomes.
func Run[T any](ctx context.Context, e *Executor, policy domain.FailurePolicy, n int, fn func(ctx context.Context, i int) (T, error)) ([]Outcome[T], error) {
	if n == 0 {
		return []Outcome[T]{}, nil
	}

	switch policy {
	case domain.AbortOnFirstError:
		return runAbortOnFirstError(ctx, e, n, fn)
	case domain.IsolatePerItem, "":
		return runIsolated(ctx, e, n, fn), nil
	default:
		return nil, fmt.Errorf("unsupported failure policy: %s", policy)
	}
}

func runIsolated[T any](ctx context.Context, e *Executor, n int, fn func(ctx context.Context, i int) (T, error)) []Outcome[T] {
	outcomes := make([]Outcome[T], n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcomes[i] = call(ctx, i, fn)
		}
		if err := e.pool.Submit(task); err != nil {
			wg.Done()
			outcomes[i] = Outcome[T]{Err: fmt.Errorf("failed to schedule item %d: %w", i, err)}
		}
	}
	wg.Wait()

	return outcomes
}

func runAbortOnFirstError[T any](ctx context.Context, e *Executor, n int, fn func(ctx context.Context, i int) (T, error)) ([]Outcome[T], error) {
	outcomes := make([]Outcome[T], n)

	g, gctx := errgroup.WithContext(ctx)
	if limit := e.MaxConcurrency(); limit > 0 {
		g.SetLimit(limit)
	}

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			outcome := call(gctx, i, fn)
			if outcome.Err != nil {
				return outcome.Err
			}
			outcomes[i] = outcome
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// call runs fn and turns a panic into a failed outcome
func call[T any](ctx context.Context, i int, fn func(ctx context.Context, i int) (T, error)) (outcome Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome[T]{Err: fmt.Errorf("item %d panicked: %v", i, r)}
		}
	}()

	value, err := fn(ctx, i)
	return Outcome[T]{Value: value, Err: err}
}
