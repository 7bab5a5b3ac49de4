package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a detached unit of best-effort work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs detached tasks on a fixed set of goroutines. Task failures are
// logged and never reach the submitter.
type Pool struct {
	log     *zap.Logger
	tasks   chan Task
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewPool starts workers goroutines draining a buffer of size tasks.
func NewPool(log *zap.Logger, workers, size int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}
	p := &Pool{log: log, tasks: make(chan Task, size), timeout: 30 * time.Second}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.exec(t)
	}
}

func (p *Pool) exec(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("background task panicked", zap.String("task", t.Name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	if err := t.Run(ctx); err != nil {
		p.log.Warn("background task failed", zap.String("task", t.Name), zap.Error(err))
	}
}

// Submit queues t without blocking. It reports false when the pool is full or closed.
func (p *Pool) Submit(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn("background pool closed, dropping task", zap.String("task", t.Name))
		return false
	}
	select {
	case p.tasks <- t:
		return true
	default:
		p.log.Warn("background pool saturated, dropping task", zap.String("task", t.Name))
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
