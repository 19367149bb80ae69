// Package workers runs dispatch units on a fixed set of goroutines fed by a
// bounded queue.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	errspkg "github.com/drblury/eventdispatch/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventdispatch/internal/runtime/logging"
)

// Task is a unit of work. *dispatch.Unit satisfies it; Run must be safe to
// call on a task that was already started elsewhere.
type Task interface {
	Run()
}

// Config sizes a Pool. Zero values select NumCPU workers and a queue twice
// that size.
type Config struct {
	Workers   int
	QueueSize int
	// SubmitTimeout bounds how long Submit waits for queue space. Zero makes
	// Submit fail immediately when the queue is full.
	SubmitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 2
	}
	return c
}

// Pool is a fixed-size worker pool.
type Pool struct {
	cfg    Config
	queue  chan Task
	group  errgroup.Group
	logger loggingpkg.ServiceLogger

	mu     sync.RWMutex
	closed bool

	running atomic.Int64
}

// New starts the workers of a Pool.
func New(cfg Config, logger loggingpkg.ServiceLogger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}

	p := &Pool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
		logger: logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.group.Go(func() error {
			p.work(i)
			return nil
		})
	}

	logger.Debug("Worker pool started", loggingpkg.LogFields{
		"workers":    cfg.Workers,
		"queue_size": cfg.QueueSize,
	})
	return p
}

// Submit queues task. It returns ErrSubmitTimeout when no queue slot frees up
// within the submit timeout, ErrPoolClosed after Close, and the context error
// when ctx ends first.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errspkg.ErrPoolClosed
	}

	select {
	case p.queue <- task:
		return nil
	default:
	}

	if p.cfg.SubmitTimeout <= 0 {
		return errspkg.ErrSubmitTimeout
	}

	timer := time.NewTimer(p.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case p.queue <- task:
		return nil
	case <-timer.C:
		return errspkg.ErrSubmitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, drains the queue and waits for the workers.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	err := p.group.Wait()
	p.logger.Debug("Worker pool stopped", nil)
	return err
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// Capacity returns how many tasks the pool holds at once, running or queued.
func (p *Pool) Capacity() int {
	return p.cfg.Workers + p.cfg.QueueSize
}

func (p *Pool) work(id int) {
	for task := range p.queue {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	p.running.Add(1)
	defer p.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker recovered from task panic", fmt.Errorf("panic: %v", r), loggingpkg.LogFields{
				"worker": id,
			})
		}
	}()
	task.Run()
}
