package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/gantry/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery. A panicking task is
// logged with its stack and never takes the process down. Use this instead
// of bare `go func()` for fire-and-forget work such as webhook dispatch and
// lock lease heartbeats.
func SafeGo(taskName string, logger *observability.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.WithFields(map[string]interface{}{
						"task":  taskName,
						"panic": fmt.Sprintf("%v", r),
						"stack": string(debug.Stack()),
					}).Errorf("panic in background task")
				}
			}
		}()
		fn()
	}()
}

// WorkerPool runs submitted tasks on a fixed set of goroutines with panic
// recovery and per-task timeouts. Webhook delivery rides on one of these so
// a slow receiver delays other deliveries, never API requests.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	logger       *observability.Logger
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewWorkerPool creates and starts a worker pool
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.worker()
			}()
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the pool. Returns an error once the pool is shut
// down; it never blocks indefinitely against a stopped pool.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool %s shut down", p.taskName)
	default:
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool %s shut down", p.taskName)
	}
}

// Shutdown stops accepting work and waits up to timeout for in-flight
// tasks to finish
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		close(p.workCh)

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool %s shutdown timed out after %v", p.taskName, timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(fn)
		}
	}
}

func (p *WorkerPool) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.WithFields(map[string]interface{}{
					"task":  p.taskName,
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				}).Errorf("panic in worker task")
			}
		}
	}()

	if err := fn(ctx); err != nil && p.logger != nil {
		p.logger.WithError(err).WithField("task", p.taskName).Warnf("worker task failed")
	}
}
