package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Config 工作池配置。
type Config struct {
	// Capacity 最大并发 goroutine 数，必须大于 0。
	Capacity int
	// ExpiryDuration goroutine 空闲过期时间
	ExpiryDuration time.Duration
	// Nonblocking 池满时 Submit 立即返回 ErrPoolOverload
	Nonblocking bool
	// MaxBlockingTasks 阻塞模式下最大排队任务数（0 表示无限制）
	MaxBlockingTasks int
	// PanicHandler 恐慌处理函数
	PanicHandler func(any)
}

// EmbeddingPoolConfig 返回 embedding 子批次调度池配置。
// 并发上限即同时在途的供应商请求数。
func EmbeddingPoolConfig(concurrency int) *Config {
	return &Config{
		Capacity:       concurrency,
		ExpiryDuration: 30 * time.Second,
	}
}

// Pool 包装 ants.Pool 并记录任务统计。
type Pool struct {
	name   string
	pool   *ants.Pool
	config *Config
	stats  poolStatsCounter
	closed atomic.Bool
	mu     sync.Mutex
}

type poolStatsCounter struct {
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// Stats 池统计快照。
type Stats struct {
	SubmittedTasks int64
	CompletedTasks int64
	RejectedTasks  int64
	PanicRecovered int64
	Running        int
	Capacity       int
}

// NewPool 创建工作池。
func NewPool(name string, config *Config) (*Pool, error) {
	if config == nil || config.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidPoolConfig)
	}

	p := &Pool{name: name, config: config}

	handler := config.PanicHandler
	if handler == nil {
		handler = func(r any) {
			logger.Errorw("Worker panic recovered", "pool", name, "panic", r)
		}
	}

	ap, err := ants.NewPool(config.Capacity,
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithPanicHandler(func(r any) {
			p.stats.panics.Add(1)
			handler(r)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 ants 池失败: %w", err)
	}
	p.pool = ap

	logger.Infow("Worker pool created", "name", name, "capacity", config.Capacity)
	return p, nil
}

// Name 返回池名称
func (p *Pool) Name() string { return p.name }

// Submit 提交任务到池中执行
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	err := p.pool.Submit(func() {
		defer p.stats.completed.Add(1)
		task()
	})
	switch {
	case err == nil:
		p.stats.submitted.Add(1)
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		p.stats.rejected.Add(1)
		return ErrPoolOverload
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrPoolClosed
	default:
		return err
	}
}

// Run 把 jobs 分发到池中并等待全部结束，errs[i] 对应 jobs[i]。
// 某个 job 失败不会影响其它 job；ctx 取消后尚未开始的 job 返回 ctx.Err()。
func (p *Pool) Run(ctx context.Context, jobs []func(ctx context.Context) error) []error {
	errs := make([]error, len(jobs))
	var wg sync.WaitGroup

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		i, job := i, job
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.stats.panics.Add(1)
					errs[i] = fmt.Errorf("job panic: %v", r)
				}
			}()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = job(ctx)
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}

	wg.Wait()
	return errs
}

// Release 关闭池并释放资源
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return
	}
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout 等待在途任务完成后关闭，超时返回错误。
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	return p.pool.ReleaseTimeout(timeout)
}

// Stats 返回池统计信息快照
func (p *Pool) Stats() Stats {
	return Stats{
		SubmittedTasks: p.stats.submitted.Load(),
		CompletedTasks: p.stats.completed.Load(),
		RejectedTasks:  p.stats.rejected.Load(),
		PanicRecovered: p.stats.panics.Load(),
		Running:        p.pool.Running(),
		Capacity:       p.pool.Cap(),
	}
}
