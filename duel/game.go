package duel

import (
	"fmt"
	"time"

	"tiltduel/logging"
	"tiltduel/protocol"
	"tiltduel/sensor"
)

// Owner 子弹来源，创建后不再改变
type Owner uint8

const (
	OwnerLocal Owner = iota
	OwnerRemote
)

func (o Owner) String() string {
	if o == OwnerRemote {
		return "remote"
	}
	return "local"
}

// Position 设备本地像素坐标（左上角）
type Position struct {
	X, Y float64
}

type Bullet struct {
	ID    int
	X, Y  float64
	VY    float64 // 每帧竖直速度；本地子弹向上为负
	Owner Owner
}

// Game 一局对战的全部可变状态，只在 Match 的单一逻辑线程上访问
type Game struct {
	tune    Tuning
	fsm     *Machine
	send    func(protocol.Message) bool
	metrics *Metrics
	seq     *protocol.Sequencer

	local   Position
	remote  Position
	bullets []Bullet
	nextID  int

	lastMove time.Time

	// 对端序列号水位：0 表示尚未收到带序列号的消息
	lastMoveSeq     uint64
	lastGameOverSeq uint64

	// 已发送、待确认的 GAME_OVER
	pendingOver *protocol.GameOver
	lastResend  time.Time
}

// NewGame send 为发出即忘的出站通道，返回 false 表示未能入队
func NewGame(t Tuning, send func(protocol.Message) bool, metrics *Metrics) *Game {
	if metrics == nil {
		metrics = &Metrics{}
	}
	g := &Game{
		tune:    t,
		fsm:     NewMachine(),
		send:    send,
		metrics: metrics,
		seq:     protocol.NewSequencer(),
	}
	g.placePlayers()
	return g
}

func (g *Game) Phase() Phase { return g.fsm.Phase() }
func (g *Game) Machine() *Machine { return g.fsm }
func (g *Game) Tuning() Tuning { return g.tune }
func (g *Game) Local() Position { return g.local }
func (g *Game) Remote() Position { return g.remote }
func (g *Game) AwaitingAck() bool { return g.pendingOver != nil }
func (g *Game) BulletCount() int { return len(g.bullets) }
func (g *Game) Bullets() []Bullet { return append([]Bullet(nil), g.bullets...) }
func (g *Game) SetTuning(t Tuning) {
	g.tune = t
	g.local = t.clampLocal(g.local)
}

func (g *Game) placePlayers() {
	g.local = g.tune.startPosition()
	g.remote = Position{
		X: g.tune.Width - g.local.X - g.tune.PlayerSize,
		Y: g.tune.Height - g.local.Y - g.tune.PlayerSize,
	}
}

func (g *Game) clearBullets() {
	g.bullets = g.bullets[:0]
}

func (g *Game) emit(m protocol.Message) {
	if g.send == nil || !g.send(m) {
		g.metrics.IncSendDropped()
	}
}

// Connected Lobby -> Playing：新对端，重置场面与序列号水位
func (g *Game) Connected() error {
	if err := g.fsm.To(PhasePlaying); err != nil {
		return err
	}
	g.clearBullets()
	g.placePlayers()
	g.lastMove = time.Time{}
	g.lastMoveSeq = 0
	g.lastGameOverSeq = 0
	g.pendingOver = nil
	return nil
}

// Disconnected 回到大厅并清空子弹；已在大厅时为 no-op
func (g *Game) Disconnected() {
	g.clearBullets()
	g.pendingOver = nil
	if g.fsm.Phase() == PhaseLobby {
		return
	}
	_ = g.fsm.To(PhaseLobby)
}

// Step 单帧推进：移动 -> 限位 -> 节流发送 MOVE -> 子弹推进/剔除 -> 碰撞
func (g *Game) Step(now time.Time, tilt sensor.Sample, haveTilt bool) {
	if g.fsm.Phase() != PhasePlaying {
		return
	}
	t := g.tune

	if haveTilt {
		g.local.X += tilt.Gamma * t.SpeedFactor
		g.local.Y += (tilt.Beta - t.RestAngle) * t.SpeedFactor
	}
	g.local = t.clampLocal(g.local)

	if g.lastMove.IsZero() || now.Sub(g.lastMove) > t.MoveThrottle {
		g.emit(protocol.Move{
			X:   float32(clamp(g.local.X/t.Width, 0, 1)),
			Y:   float32(clamp(g.local.Y/t.Height, 0, 1)),
			Seq: g.seq.Next(protocol.KindMove),
		})
		g.metrics.IncMovesSent()
		g.lastMove = now
	}

	kept := g.bullets[:0]
	for _, b := range g.bullets {
		b.Y += b.VY
		if b.Y < -t.BulletMargin || b.Y > t.Height+t.BulletMargin {
			continue
		}
		kept = append(kept, b)
	}
	g.bullets = kept

	for i, b := range g.bullets {
		if b.Owner != OwnerRemote || !g.hits(b) {
			continue
		}
		g.bullets = append(g.bullets[:i], g.bullets[i+1:]...)
		g.lose(now)
		break
	}
}

// hits 子弹矩形与本地玩家矩形（PlayerSize 见方）是否重叠
func (g *Game) hits(b Bullet) bool {
	ps, bs := g.tune.PlayerSize, g.tune.BulletSize
	return b.X < g.local.X+ps && b.X+bs > g.local.X &&
		b.Y < g.local.Y+ps && b.Y+bs > g.local.Y
}

func (g *Game) lose(now time.Time) {
	if err := g.fsm.To(PhaseLost); err != nil {
		return
	}
	over := protocol.GameOver{Seq: g.seq.Next(protocol.KindGameOver)}
	g.pendingOver = &over
	g.lastResend = now
	g.emit(over)
	g.metrics.IncGameOversSent()
}

// ResendGameOver 败方在收到确认前按间隔重发同一条 GAME_OVER
func (g *Game) ResendGameOver(now time.Time) bool {
	if g.pendingOver == nil || g.fsm.Phase() != PhaseLost {
		return false
	}
	if now.Sub(g.lastResend) < g.tune.GameOverResend {
		return false
	}
	g.lastResend = now
	logging.Log.Debugf("duel: resend GAME_OVER seq=%d", g.pendingOver.Seq)
	g.emit(*g.pendingOver)
	g.metrics.IncGameOversSent()
	g.metrics.IncGameOverResends()
	return true
}

// Fire 本地开火：从本地玩家位置向对方半场发射，并通知对端
func (g *Game) Fire() bool {
	if g.fsm.Phase() != PhasePlaying {
		return false
	}
	g.spawn(g.local, -g.tune.BulletSpeed, OwnerLocal)
	g.emit(protocol.Fire{Seq: g.seq.Next(protocol.KindFire)})
	g.metrics.IncFiresSent()
	return true
}

func (g *Game) spawn(from Position, vy float64, owner Owner) {
	g.nextID++
	g.bullets = append(g.bullets, Bullet{ID: g.nextID, X: from.X, Y: from.Y, VY: vy, Owner: owner})
}

// Rematch 结算后再来一局：清空子弹、本地玩家回到起点、回到 Playing，不重建连接
func (g *Game) Rematch() error {
	if p := g.fsm.Phase(); p != PhaseWon && p != PhaseLost {
		return fmt.Errorf("rematch from %v: %w", p, ErrInvalidTransition)
	}
	if err := g.fsm.To(PhasePlaying); err != nil {
		return err
	}
	g.clearBullets()
	g.local = g.tune.startPosition()
	g.lastMove = time.Time{}
	g.lastMoveSeq = 0
	g.pendingOver = nil
	return nil
}

// Apply 处理一条已解码的入站消息
func (g *Game) Apply(m protocol.Message) {
	switch msg := m.(type) {
	case protocol.Move:
		if g.fsm.Phase() != PhasePlaying {
			return
		}
		if msg.Seq != 0 && g.lastMoveSeq != 0 && msg.Seq <= g.lastMoveSeq {
			g.metrics.IncStaleMoves()
			logging.Log.Debugf("duel: stale MOVE seq=%d after %d", msg.Seq, g.lastMoveSeq)
			return
		}
		if msg.Seq != 0 {
			g.lastMoveSeq = msg.Seq
		}
		g.remote = g.tune.mirror(float64(msg.X), float64(msg.Y))
	case protocol.Fire:
		if g.fsm.Phase() != PhasePlaying {
			return
		}
		g.metrics.IncFiresReceived()
		g.spawn(g.remote, g.tune.BulletSpeed, OwnerRemote)
	case protocol.GameOver:
		// 无论是否重复都回 ACK，让败方停止重发
		g.emit(protocol.Ack{Seq: msg.Seq})
		g.metrics.IncAcksSent()
		if msg.Seq != 0 && msg.Seq == g.lastGameOverSeq {
			g.metrics.IncDuplicateOvers()
			return
		}
		if msg.Seq != 0 {
			g.lastGameOverSeq = msg.Seq
		}
		if g.fsm.Phase() != PhasePlaying {
			logging.Log.Debugf("duel: GAME_OVER seq=%d ignored in %v", msg.Seq, g.fsm.Phase())
			return
		}
		_ = g.fsm.To(PhaseWon)
	case protocol.Ack:
		if g.pendingOver != nil && (msg.Seq == 0 || msg.Seq == g.pendingOver.Seq) {
			g.pendingOver = nil
		}
	}
}
