package duel

import (
	"sync/atomic"
)

// Metrics 记录对战运行期的关键指标（用于监控与调试）
type Metrics struct {
	FrameCount      int64 // 已执行的帧数
	TotalFrameNs    int64 // 帧累计耗时（纳秒）
	MovesSent       int64 // 节流后实际发出的 MOVE
	FiresSent       int64
	FiresReceived   int64
	GameOversSent   int64 // 含重发
	GameOverResends int64
	AcksSent        int64
	Malformed       int64 // 解析失败或未知类型被丢弃
	StaleMoves      int64 // 因旧序列被忽略的 MOVE
	DuplicateOvers  int64 // 重复的 GAME_OVER
	SendDropped     int64 // 链路不可用或队列满
}

func (m *Metrics) IncMovesSent() { atomic.AddInt64(&m.MovesSent, 1) }
func (m *Metrics) IncFiresSent() { atomic.AddInt64(&m.FiresSent, 1) }
func (m *Metrics) IncFiresReceived() { atomic.AddInt64(&m.FiresReceived, 1) }
func (m *Metrics) IncGameOversSent() { atomic.AddInt64(&m.GameOversSent, 1) }
func (m *Metrics) IncGameOverResends() { atomic.AddInt64(&m.GameOverResends, 1) }
func (m *Metrics) IncAcksSent() { atomic.AddInt64(&m.AcksSent, 1) }
func (m *Metrics) IncMalformed() { atomic.AddInt64(&m.Malformed, 1) }
func (m *Metrics) IncStaleMoves() { atomic.AddInt64(&m.StaleMoves, 1) }
func (m *Metrics) IncDuplicateOvers() { atomic.AddInt64(&m.DuplicateOvers, 1) }
func (m *Metrics) IncSendDropped() { atomic.AddInt64(&m.SendDropped, 1) }
func (m *Metrics) AddFrame(ns int64) {
	atomic.AddInt64(&m.FrameCount, 1)
	atomic.AddInt64(&m.TotalFrameNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	frames := atomic.LoadInt64(&m.FrameCount)
	total := atomic.LoadInt64(&m.TotalFrameNs)
	var avgMs float64
	if frames > 0 {
		avgMs = float64(total) / float64(frames) / 1e6
	}
	return map[string]any{
		"frame_count":       frames,
		"avg_frame_ms":      avgMs,
		"moves_sent":        atomic.LoadInt64(&m.MovesSent),
		"fires_sent":        atomic.LoadInt64(&m.FiresSent),
		"fires_received":    atomic.LoadInt64(&m.FiresReceived),
		"game_overs_sent":   atomic.LoadInt64(&m.GameOversSent),
		"game_over_resends": atomic.LoadInt64(&m.GameOverResends),
		"acks_sent":         atomic.LoadInt64(&m.AcksSent),
		"malformed":         atomic.LoadInt64(&m.Malformed),
		"stale_moves":       atomic.LoadInt64(&m.StaleMoves),
		"duplicate_overs":   atomic.LoadInt64(&m.DuplicateOvers),
		"send_dropped":      atomic.LoadInt64(&m.SendDropped),
	}
}
