package duel

import (
	"context"
	"sync/atomic"
	"time"

	"tiltduel/logging"
	"tiltduel/transport"
)

// remountDelay 对战异常退出（如监听失败）后重新进入大厅前的等待
const remountDelay = time.Second

// Opener 为每次挂载创建一条全新的传输会话；stats 可为 nil
type Opener func() (tr Transport, stats *transport.Stats)

// Lobby 大厅：每次进入构造新的会话与对战，离开时整体撤销
// 对端断开或玩家选择回大厅后，以相同角色与名称重新开始发现
type Lobby struct {
	cfg     Config
	open    Opener
	metrics *Metrics

	cur    atomic.Pointer[Match]
	link   atomic.Pointer[transport.Stats]
	mounts atomic.Int64

	leave chan struct{}
	done  chan struct{}
}

// NewLobby 立即构造第一次挂载，Current 在 Run 之前即可用
func NewLobby(cfg Config, open Opener, metrics *Metrics) (*Lobby, error) {
	if metrics == nil {
		metrics = &Metrics{}
	}
	l := &Lobby{
		cfg:     cfg,
		open:    open,
		metrics: metrics,
		leave:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if err := l.mount(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Lobby) mount() error {
	tr, stats := l.open()
	cfg := l.cfg
	cfg.OnPeerLost = func() {
		logging.Log.Infof("duel: opponent left, back to lobby")
		l.requestLeave()
	}
	m, err := NewMatch(cfg, tr, l.metrics)
	if err != nil {
		return err
	}
	if stats == nil {
		stats = &transport.Stats{}
	}
	l.link.Store(stats)
	l.cur.Store(m)
	l.mounts.Add(1)
	return nil
}

// Current 当前挂载的对战
func (l *Lobby) Current() *Match { return l.cur.Load() }

// Link 当前会话的链路计数
func (l *Lobby) Link() *transport.Stats { return l.link.Load() }

// Metrics 跨挂载累计的对战指标
func (l *Lobby) Metrics() *Metrics { return l.metrics }

// Mounts 已进入大厅的次数（含第一次）
func (l *Lobby) Mounts() int64 { return l.mounts.Load() }

// Done 在 Run 返回后关闭
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Leave 撤销当前对战并重新进入大厅；进行中的对局视为放弃
func (l *Lobby) Leave() error {
	select {
	case <-l.done:
		return ErrMatchClosed
	default:
	}
	l.requestLeave()
	return nil
}

func (l *Lobby) requestLeave() {
	select {
	case l.leave <- struct{}{}:
	default:
	}
}

// Run 挂载当前对战直到 ctx 结束；每次离开都撤销旧的会话与对战再构造新的
func (l *Lobby) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		m := l.Current()
		mctx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() { errc <- m.Run(mctx) }()

		var err error
		select {
		case <-ctx.Done():
			cancel()
			return <-errc
		case <-l.leave:
			cancel()
			err = <-errc
		case err = <-errc:
			cancel()
		}
		if err != nil {
			logging.Log.Warnf("duel: match %s ended: %v", m.ID(), err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(remountDelay):
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		// 旧对战已撤销，丢弃它遗留的离开请求
		select {
		case <-l.leave:
		default:
		}
		if err := l.mount(); err != nil {
			return err
		}
		logging.Log.Infof("duel: lobby re-entered as %v (mount %d)", l.cfg.Role, l.Mounts())
	}
}
