// Package worker 提供有界工作池，承接阻塞型任务（本地推理、分词器初始化），
// 保证协作调度路径不被 CPU 密集工作阻塞。
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrPoolClosed 工作池已关闭
var ErrPoolClosed = errors.New("worker pool is closed")

type task struct {
	fn   func()
	done chan struct{}
}

// Pool 固定大小的工作池。队列有界，满时 Submit 阻塞（背压而非拒绝）。
type Pool struct {
	tasks  chan task
	wg     sync.WaitGroup
	logger *log.Helper

	mu     sync.Mutex
	closed bool
}

// NewPool 创建并启动工作池
func NewPool(workers, queueSize int, logger log.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}

	p := &Pool{
		tasks:  make(chan task, queueSize),
		logger: log.NewHelper(log.With(logger, "module", "worker-pool")),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.fn()
		close(t.done)
	}
}

// Submit 提交任务并等待其被接受入队。队列满时阻塞，直到有空位或 ctx 取消。
// 返回的通道在任务执行完成时关闭。
func (p *Pool) Submit(ctx context.Context, fn func()) (<-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	t := task{fn: fn, done: make(chan struct{})}
	select {
	case p.tasks <- t:
		return t.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitWait 提交任务并等待执行完成
func (p *Pool) SubmitWait(ctx context.Context, fn func()) error {
	done, err := p.Submit(ctx, fn)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// 任务仍会在池内跑完，这里只是不再等待
		return ctx.Err()
	}
}

// Close 停止接收新任务并等待在途任务完成
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()
	p.logger.Info("worker pool drained")
}
