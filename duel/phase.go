package duel

import (
	"errors"
	"fmt"

	"tiltduel/logging"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

// Phase 对战阶段；每台设备只有一份权威实例，两端不保证瞬时一致
type Phase int

const (
	PhaseLobby Phase = iota
	PhasePlaying
	PhaseWon
	PhaseLost
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "LOBBY"
	case PhasePlaying:
		return "PLAYING"
	case PhaseWon:
		return "WON"
	case PhaseLost:
		return "LOST"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

type transition struct {
	From, To Phase
}

var transitions = map[transition]struct{}{
	{PhaseLobby, PhasePlaying}: {}, // 连接建立
	{PhasePlaying, PhaseLobby}: {}, // 断开
	{PhasePlaying, PhaseLost}:  {}, // 本地被击中
	{PhasePlaying, PhaseWon}:   {}, // 收到 GAME_OVER
	{PhaseWon, PhasePlaying}:   {}, // 再来一局
	{PhaseLost, PhasePlaying}:  {},
	{PhaseWon, PhaseLobby}:     {}, // 结算界面时断开
	{PhaseLost, PhaseLobby}:    {},
}

// Machine 对战状态机：只允许表内的边
type Machine struct {
	phase    Phase
	onChange func(from, to Phase)
}

func NewMachine() *Machine {
	return &Machine{phase: PhaseLobby}
}

func (m *Machine) Phase() Phase { return m.phase }

// OnChange 注册阶段变化回调（在调用 To 的同一线程执行）
func (m *Machine) OnChange(fn func(from, to Phase)) { m.onChange = fn }

// To 尝试迁移；非法边返回 ErrInvalidTransition 且不改变状态
func (m *Machine) To(p Phase) error {
	from := m.phase
	if _, ok := transitions[transition{from, p}]; !ok {
		return fmt.Errorf("%v -> %v: %w", from, p, ErrInvalidTransition)
	}
	m.phase = p
	logging.Log.Infof("duel: phase %v -> %v", from, p)
	if m.onChange != nil {
		m.onChange(from, p)
	}
	return nil
}
