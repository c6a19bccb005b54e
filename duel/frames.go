package duel

import "time"

// Frames 自我重新装填的定时任务：每次触发后由调用方决定是否 Arm 下一帧
// 单一句柄 Cancel 即可撤销尚未触发的帧；只在所属线程使用，不加锁
type Frames struct {
	interval time.Duration
	timer    *time.Timer
	armed    bool
}

func NewFrames(interval time.Duration) *Frames {
	return &Frames{interval: interval}
}

// C 已装填时返回定时通道；未装填时返回 nil，select 中永远不会被选中
func (f *Frames) C() <-chan time.Time {
	if !f.armed {
		return nil
	}
	return f.timer.C
}

func (f *Frames) Armed() bool { return f.armed }

// Arm 安排下一帧；已装填时不重复安排
func (f *Frames) Arm() {
	if f.armed {
		return
	}
	if f.timer == nil {
		f.timer = time.NewTimer(f.interval)
	} else {
		f.timer.Reset(f.interval)
	}
	f.armed = true
}

// Fired 在从 C 收到值之后调用
func (f *Frames) Fired() {
	f.armed = false
}

// Cancel 撤销尚未触发的帧，保证之后不会再从 C 收到旧值
func (f *Frames) Cancel() {
	if !f.armed {
		return
	}
	if !f.timer.Stop() {
		select {
		case <-f.timer.C:
		default:
		}
	}
	f.armed = false
}

// SetInterval 下一次 Arm 起生效
func (f *Frames) SetInterval(d time.Duration) {
	if d > 0 {
		f.interval = d
	}
}
