package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Task 任务函数
type Task func()

// Stats 运行统计
type Stats struct {
	Workers   int
	Pending   int
	Completed int64
	Panics    int64
}

// Pool 固定 worker 数的有界任务池，关闭时执行完已入队任务
type Pool struct {
	name    string
	workers int
	queue   chan Task
	stop    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger

	// gate 读锁覆盖入队，写锁覆盖关闭队列
	gate   sync.RWMutex
	closed bool

	completed atomic.Int64
	panics    atomic.Int64
}

// New 创建并启动任务池
func New(name string, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		name:    name,
		workers: workers,
		queue:   make(chan Task, queueSize),
		stop:    make(chan struct{}),
		logger:  slog.Default().With("pool", name),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop(i)
	}
	p.logger.Info("Worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

func (p *Pool) loop(worker int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.exec(worker, task)
	}
}

func (p *Pool) exec(worker int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Task panicked", "worker", worker, "panic", r)
			return
		}
		p.completed.Add(1)
	}()
	task()
}

// Submit 入队，队列满时等待直到 ctx 结束或池关闭
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		return nil
	case <-p.stop:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 不等待；队列满或已关闭返回 false
func (p *Pool) TrySubmit(task Task) bool {
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- task:
		return true
	default:
		return false
	}
}

// Stats 当前统计
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Pending:   len(p.queue),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}

// Shutdown 拒绝新任务，等待已入队任务执行完；可重复调用
func (p *Pool) Shutdown() {
	select {
	case <-p.stop:
		return
	default:
		close(p.stop)
	}

	// stop 已关闭，阻塞中的 Submit 会释放读锁
	p.gate.Lock()
	p.closed = true
	close(p.queue)
	p.gate.Unlock()

	p.wg.Wait()
	st := p.Stats()
	p.logger.Info("Worker pool stopped", "completed", st.Completed, "panics", st.Panics)
}
