package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	p, err := NewPool("test", EmbeddingPoolConfig(4))
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	if p.Name() != "test" {
		t.Errorf("池名称不匹配: 期望 test, 实际 %s", p.Name())
	}
	if p.Stats().Capacity != 4 {
		t.Errorf("池容量不匹配: 期望 4, 实际 %d", p.Stats().Capacity)
	}
}

func TestNewPoolInvalidConfig(t *testing.T) {
	if _, err := NewPool("bad", &Config{Capacity: 0}); !errors.Is(err, ErrInvalidPoolConfig) {
		t.Errorf("期望 ErrInvalidPoolConfig, 实际 %v", err)
	}
}

func TestPoolSubmit(t *testing.T) {
	p, err := NewPool("test", &Config{Capacity: 10, ExpiryDuration: 5 * time.Second})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}); err != nil {
			t.Errorf("提交任务失败: %v", err)
			wg.Done()
		}
	}
	wg.Wait()

	if counter.Load() != 100 {
		t.Errorf("任务执行数不匹配: 期望 100, 实际 %d", counter.Load())
	}
}

func TestPoolRunIsolatesFailures(t *testing.T) {
	p, err := NewPool("run", EmbeddingPoolConfig(2))
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	boom := errors.New("boom")
	jobs := []func(context.Context) error{
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
		func(context.Context) error { panic("bad batch") },
		func(context.Context) error { return nil },
	}

	errs := p.Run(context.Background(), jobs)
	if len(errs) != 4 {
		t.Fatalf("结果数量不匹配: %d", len(errs))
	}
	if errs[0] != nil || errs[3] != nil {
		t.Errorf("成功任务不应返回错误: %v %v", errs[0], errs[3])
	}
	if !errors.Is(errs[1], boom) {
		t.Errorf("期望 boom, 实际 %v", errs[1])
	}
	if errs[2] == nil {
		t.Error("panic 任务应返回错误")
	}
}

func TestPoolRunBoundsConcurrency(t *testing.T) {
	p, err := NewPool("bounded", EmbeddingPoolConfig(3))
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	var cur, peak atomic.Int32
	jobs := make([]func(context.Context) error, 12)
	for i := range jobs {
		jobs[i] = func(context.Context) error {
			n := cur.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
			return nil
		}
	}
	p.Run(context.Background(), jobs)

	if peak.Load() > 3 {
		t.Errorf("并发超出上限: %d", peak.Load())
	}
}

func TestPoolRunCanceled(t *testing.T) {
	p, err := NewPool("cancel", EmbeddingPoolConfig(1))
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errs := p.Run(ctx, []func(context.Context) error{
		func(context.Context) error { return nil },
	})
	if !errors.Is(errs[0], context.Canceled) {
		t.Errorf("期望 context.Canceled, 实际 %v", errs[0])
	}
}

func TestPoolClosed(t *testing.T) {
	p, err := NewPool("closed", EmbeddingPoolConfig(1))
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	p.Release()
	p.Release()

	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("期望 ErrPoolClosed, 实际 %v", err)
	}
}
