package sensor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval 传感器采样间隔（略快于 60Hz 帧率）
const DefaultInterval = 16 * time.Millisecond

var ErrAlreadyStarted = errors.New("sensor adapter already started")

// Sample 一次设备姿态采样（弧度）
// Beta: 前后倾斜；Gamma: 左右倾斜
type Sample struct {
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// Source 连续姿态流；Run 阻塞直到 ctx 结束或流关闭，每个样本调用一次 emit
type Source interface {
	Run(ctx context.Context, interval time.Duration, emit func(Sample)) error
}

// Latest 只保存最近一次采样的单槽位，读写均不阻塞
type Latest struct {
	v atomic.Pointer[Sample]
}

// Store 覆盖旧样本（有意丢弃历史，只关心当前倾斜）
func (l *Latest) Store(s Sample) {
	l.v.Store(&s)
}

// Load 返回最近样本；尚无样本时 ok 为 false
func (l *Latest) Load() (s Sample, ok bool) {
	p := l.v.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}

// Adapter 订阅一次姿态流并把样本写入 Latest；游戏循环只拉取，不被回调
type Adapter struct {
	interval time.Duration
	latest   Latest

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func NewAdapter(interval time.Duration) *Adapter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Adapter{interval: interval}
}

// Start 开始订阅；每个 Adapter 只能订阅一次
func (a *Adapter) Start(ctx context.Context, src Source) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAlreadyStarted
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		err := src.Run(ctx, a.interval, a.latest.Store)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.mu.Lock()
			a.err = err
			a.mu.Unlock()
		}
	}()
	return nil
}

// Latest 读取最近样本（同步、不阻塞）
func (a *Adapter) Latest() (Sample, bool) {
	return a.latest.Load()
}

// Stop 取消订阅并等待采样协程退出；可重复调用
func (a *Adapter) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
