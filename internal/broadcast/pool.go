package broadcast

import (
	"context"
	"log/slog"
	"sync"
)

// Pool runs tasks on goroutines, at most n at a time.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewPool(n int, logger *slog.Logger) *Pool {
	if n <= 0 {
		n = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{sem: make(chan struct{}, n), logger: logger}
}

// Go starts fn once a slot is free. If ctx ends first the task is dropped.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			p.logger.Warn("task dropped before start", "err", ctx.Err())
			return
		}
		defer func() { <-p.sem }()
		fn(ctx)
	}()
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() { p.wg.Wait() }
