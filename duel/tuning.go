package duel

import (
	"fmt"
	"time"
)

// Tuning 对战参数（像素为设备本地坐标）
type Tuning struct {
	Width          float64       `json:"width"`
	Height         float64       `json:"height"`
	PlayerSize     float64       `json:"playerSize"`
	BulletSize     float64       `json:"bulletSize"`
	BulletSpeed    float64       `json:"bulletSpeed"`  // 每帧移动像素
	BulletMargin   float64       `json:"bulletMargin"` // 出界判定留白
	SpeedFactor    float64       `json:"speedFactor"`  // 倾斜(弧度) -> 每帧位移
	RestAngle      float64       `json:"restAngle"`    // 手持舒适角度补偿（弧度）
	MoveThrottle   time.Duration `json:"moveThrottle"`
	GameOverResend time.Duration `json:"gameOverResend"`
	FrameInterval  time.Duration `json:"frameInterval"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Width:          390,
		Height:         844,
		PlayerSize:     50,
		BulletSize:     10,
		BulletSpeed:    8,
		BulletMargin:   50,
		SpeedFactor:    15,
		RestAngle:      0.6,
		MoveThrottle:   50 * time.Millisecond,
		GameOverResend: 250 * time.Millisecond,
		FrameInterval:  16 * time.Millisecond,
	}
}

// Validate 拒绝会让场地或节流失效的参数
func (t Tuning) Validate() error {
	switch {
	case t.Width <= t.PlayerSize || t.Height <= 2*t.PlayerSize:
		return fmt.Errorf("playfield %gx%g too small for player size %g", t.Width, t.Height, t.PlayerSize)
	case t.PlayerSize <= 0 || t.BulletSize <= 0:
		return fmt.Errorf("player and bullet size must be > 0")
	case t.BulletSpeed <= 0:
		return fmt.Errorf("bullet speed must be > 0")
	case t.BulletMargin < 0:
		return fmt.Errorf("bullet margin must be >= 0")
	case t.MoveThrottle <= 0 || t.FrameInterval <= 0 || t.GameOverResend <= 0:
		return fmt.Errorf("intervals must be > 0")
	}
	return nil
}

// midline 本地玩家可到达的最高位置（场地下半区上沿）
func (t Tuning) midline() float64 { return t.Height / 2 }

// startPosition 本地玩家初始位置：水平居中，下半区中部
func (t Tuning) startPosition() Position {
	y := t.Height*0.75 - t.PlayerSize/2
	return t.clampLocal(Position{X: (t.Width - t.PlayerSize) / 2, Y: y})
}

func (t Tuning) clampLocal(p Position) Position {
	p.X = clamp(p.X, 0, t.Width-t.PlayerSize)
	p.Y = clamp(p.Y, t.midline(), t.Height-t.PlayerSize)
	return p
}

// mirror 对面设备的归一化坐标 -> 本机显示坐标（面对面布局：x、y 反转并偏移玩家尺寸）
func (t Tuning) mirror(nx, ny float64) Position {
	return Position{
		X: t.Width - nx*t.Width - t.PlayerSize,
		Y: t.Height - ny*t.Height - t.PlayerSize,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
