package duel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"tiltduel/logging"
	"tiltduel/protocol"
	"tiltduel/sensor"
	"tiltduel/transport"
)

var ErrMatchClosed = errors.New("match closed")

// Transport 对战所需的传输能力（*transport.Session 满足）
type Transport interface {
	StartAsHost(ctx context.Context, displayName string) error
	StartAsClient(ctx context.Context) error
	Subscribe() (<-chan transport.Event, func())
	Send(payload string) bool
	Stop() error
}

// Config 大厅交给对战界面的参数，挂载时只读取一次
type Config struct {
	Role           transport.Role
	Name           string
	Tuning         Tuning
	Sensor         sensor.Source
	SensorInterval time.Duration
	// OnPeerLost 对端断开后在循环线程上调用，不可阻塞
	OnPeerLost     func()
}

// StatusView 状态栏展示用的只读快照
type StatusView struct {
	MatchID     string   `json:"matchId"`
	Role        string   `json:"role"`
	Phase       string   `json:"phase"`
	Connection  string   `json:"connection"`
	PeerID      string   `json:"peerId,omitempty"`
	PeerName    string   `json:"peerName,omitempty"`
	Label       string   `json:"label"`
	Local       Position `json:"local"`
	Remote      Position `json:"remote"`
	Bullets     int      `json:"bullets"`
	AwaitingAck bool     `json:"awaitingAck"` // 已发出 GAME_OVER 尚未被确认
	LastError   string   `json:"lastError,omitempty"`
}

type fireCmd struct{}
type rematchCmd struct{ reply chan error }
type tuneCmd struct {
	apply func(Tuning) Tuning
	reply chan tuneResult
}

type tuneResult struct {
	t   Tuning
	err error
}

// Match 一次对战界面的生命周期：单一逻辑线程串行处理帧、传输事件与玩家操作
type Match struct {
	id      string
	cfg     Config
	tr      Transport
	sensor  *sensor.Adapter
	game    *Game
	frames  *Frames
	resend  *Frames
	metrics *Metrics

	inbox chan any
	done  chan struct{}

	conn     transport.Status
	peerID   string
	peerName string
	lastErr  error

	status atomic.Pointer[StatusView]
	tuning atomic.Pointer[Tuning]

	now func() time.Time
}

func NewMatch(cfg Config, tr Transport, metrics *Metrics) (*Match, error) {
	if cfg.Role != transport.RoleHost && cfg.Role != transport.RoleClient {
		return nil, fmt.Errorf("match needs host or client role, got %v", cfg.Role)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sensor == nil {
		return nil, fmt.Errorf("match needs a sensor source")
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	m := &Match{
		id:      uuid.NewString(),
		cfg:     cfg,
		tr:      tr,
		sensor:  sensor.NewAdapter(cfg.SensorInterval),
		frames:  NewFrames(cfg.Tuning.FrameInterval),
		resend:  NewFrames(cfg.Tuning.GameOverResend),
		metrics: metrics,
		inbox:   make(chan any, 16),
		done:    make(chan struct{}),
		conn:    transport.StatusSearching,
		now:     time.Now,
	}
	m.game = NewGame(cfg.Tuning, m.sendMessage, metrics)
	t := cfg.Tuning
	m.tuning.Store(&t)
	m.publish()
	return m, nil
}

func (m *Match) ID() string { return m.id }
func (m *Match) Metrics() *Metrics { return m.metrics }

// Status 任意协程可读
func (m *Match) Status() StatusView { return *m.status.Load() }

func (m *Match) Tuning() Tuning { return *m.tuning.Load() }

// sendMessage 编码并交给传输层；编码失败只记日志
func (m *Match) sendMessage(msg protocol.Message) bool {
	payload, err := protocol.Encode(msg)
	if err != nil {
		logging.Log.Warnf("duel: encode %v: %v", msg.Kind(), err)
		return false
	}
	return m.tr.Send(payload)
}

// Run 挂载：订阅传输与传感器、按角色启动传输，然后进入事件循环直到 ctx 结束
// 返回前按 帧 -> 传感器 -> 传输 的顺序撤销
func (m *Match) Run(ctx context.Context) (err error) {
	defer close(m.done)

	events, unsubscribe := m.tr.Subscribe()
	if err := m.sensor.Start(ctx, m.cfg.Sensor); err != nil {
		unsubscribe()
		return fmt.Errorf("sensor: %w", err)
	}
	defer func() {
		err = multierr.Append(err, m.teardown(unsubscribe))
	}()

	switch m.cfg.Role {
	case transport.RoleHost:
		err = m.tr.StartAsHost(ctx, m.cfg.Name)
	case transport.RoleClient:
		err = m.tr.StartAsClient(ctx)
	}
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	logging.Log.Infof("duel: match %s started as %v", m.id, m.cfg.Role)
	m.publish()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.frames.C():
			m.frames.Fired()
			m.frame()
		case <-m.resend.C():
			m.resend.Fired()
			m.game.ResendGameOver(m.now())
			if m.game.AwaitingAck() {
				m.resend.Arm()
			}
		case ev := <-events:
			m.handleEvent(ev)
		case cmd := <-m.inbox:
			m.handleCommand(cmd)
		}
	}
}

func (m *Match) teardown(unsubscribe func()) error {
	m.frames.Cancel()
	m.resend.Cancel()
	err := m.sensor.Stop()
	unsubscribe()
	err = multierr.Append(err, m.tr.Stop())
	logging.Log.Infof("duel: match %s closed", m.id)
	return err
}

func (m *Match) frame() {
	start := time.Now()
	tilt, ok := m.sensor.Latest()
	m.game.Step(m.now(), tilt, ok)
	m.metrics.AddFrame(time.Since(start).Nanoseconds())
	m.afterChange()
}

// afterChange 根据阶段重新装填或撤销帧任务，并刷新状态快照
func (m *Match) afterChange() {
	if m.game.Phase() == PhasePlaying {
		m.frames.Arm()
	} else {
		m.frames.Cancel()
	}
	if m.game.AwaitingAck() {
		m.resend.Arm()
	} else {
		m.resend.Cancel()
	}
	m.publish()
}

func (m *Match) handleEvent(ev transport.Event) {
	switch e := ev.(type) {
	case transport.Connected:
		m.conn = transport.StatusConnected
		m.peerID, m.peerName = e.PeerID, e.PeerName
		m.lastErr = nil
		if err := m.game.Connected(); err != nil {
			logging.Log.Warnf("duel: connect in %v: %v", m.game.Phase(), err)
		}
	case transport.Disconnected:
		m.conn = transport.StatusDisconnected
		m.game.Disconnected()
		if m.cfg.OnPeerLost != nil {
			m.cfg.OnPeerLost()
		}
	case transport.Data:
		msg, err := protocol.Decode(e.Payload)
		if err != nil {
			m.metrics.IncMalformed()
			logging.Log.Warnf("duel: drop payload %q: %v", e.Payload, err)
			return
		}
		m.game.Apply(msg)
	case transport.Failed:
		m.lastErr = e.Err
		logging.Log.Errorf("duel: transport failed: %v", e.Err)
	}
	m.afterChange()
}

func (m *Match) handleCommand(cmd any) {
	var reply func()
	switch c := cmd.(type) {
	case fireCmd:
		m.game.Fire()
	case rematchCmd:
		err := m.game.Rematch()
		reply = func() { c.reply <- err }
	case tuneCmd:
		t, err := m.retune(c.apply)
		reply = func() { c.reply <- tuneResult{t: t, err: err} }
	}
	// 回复前先刷新快照，调用方返回后即可读到新状态
	m.afterChange()
	if reply != nil {
		reply()
	}
}

// retune 在循环线程上基于当前参数计算并应用新参数
func (m *Match) retune(apply func(Tuning) Tuning) (Tuning, error) {
	t := apply(m.game.Tuning())
	if err := t.Validate(); err != nil {
		return m.game.Tuning(), err
	}
	m.game.SetTuning(t)
	m.frames.SetInterval(t.FrameInterval)
	m.resend.SetInterval(t.GameOverResend)
	m.tuning.Store(&t)
	logging.Log.Infof("duel: tuning updated speed=%.2f rest=%.2f throttle=%v bullet=%.1f",
		t.SpeedFactor, t.RestAngle, t.MoveThrottle, t.BulletSpeed)
	return t, nil
}

func (m *Match) post(ctx context.Context, cmd any) error {
	select {
	case <-m.done:
		return ErrMatchClosed
	default:
	}
	select {
	case m.inbox <- cmd:
		return nil
	case <-m.done:
		return ErrMatchClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, m *Match, reply chan T) (T, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-m.done:
		var zero T
		return zero, ErrMatchClosed
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Fire 玩家按下开火；非 Playing 阶段为 no-op
func (m *Match) Fire(ctx context.Context) error {
	return m.post(ctx, fireCmd{})
}

// Rematch 结算界面的“再来一局”
func (m *Match) Rematch(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.post(ctx, rematchCmd{reply: reply}); err != nil {
		return err
	}
	rerr, err := await(ctx, m, reply)
	if err != nil {
		return err
	}
	return rerr
}

// Tune 整体替换参数，由循环线程应用
func (m *Match) Tune(ctx context.Context, t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := m.UpdateTuning(ctx, func(Tuning) Tuning { return t })
	return err
}

// UpdateTuning 在循环线程上以当前参数为基础执行 apply，并发更新不会互相覆盖
func (m *Match) UpdateTuning(ctx context.Context, apply func(Tuning) Tuning) (Tuning, error) {
	reply := make(chan tuneResult, 1)
	if err := m.post(ctx, tuneCmd{apply: apply, reply: reply}); err != nil {
		return Tuning{}, err
	}
	res, err := await(ctx, m, reply)
	if err != nil {
		return Tuning{}, err
	}
	return res.t, res.err
}

// Done 在 Run 返回后关闭
func (m *Match) Done() <-chan struct{} { return m.done }

func (m *Match) publish() {
	g := m.game
	v := StatusView{
		MatchID:     m.id,
		Role:        m.cfg.Role.String(),
		Phase:       g.Phase().String(),
		Connection:  m.conn.String(),
		PeerID:      m.peerID,
		PeerName:    m.peerName,
		Local:       g.Local(),
		Remote:      g.Remote(),
		Bullets:     g.BulletCount(),
		AwaitingAck: g.AwaitingAck(),
	}
	if m.lastErr != nil {
		v.LastError = m.lastErr.Error()
	}
	v.Label = statusLabel(g.Phase(), m.conn, m.peerLabel(), m.lastErr)
	m.status.Store(&v)
}

func (m *Match) peerLabel() string {
	if m.peerName != "" {
		return m.peerName
	}
	return m.peerID
}

func statusLabel(p Phase, conn transport.Status, peer string, lastErr error) string {
	switch p {
	case PhasePlaying:
		return fmt.Sprintf("Connected to %s - fight!", peer)
	case PhaseWon:
		return "You won! Tap rematch to play again."
	case PhaseLost:
		return "You lost! Tap rematch to play again."
	}
	switch {
	case lastErr != nil:
		return "Connection error: " + lastErr.Error()
	case conn == transport.StatusDisconnected:
		return "Opponent disconnected. Return to the lobby to find a new match."
	default:
		return "Searching for opponent..."
	}
}
