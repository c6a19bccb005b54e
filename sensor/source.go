package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"time"

	"tiltduel/logging"
)

// Wobble 合成姿态源：没有真实传感器时用于演示与联调
// 在 RestBeta 附近做正弦摆动，Gamma 以另一频率左右摆动
type Wobble struct {
	RestBeta  float64
	Amplitude float64
	Period    time.Duration
}

func (w Wobble) Run(ctx context.Context, interval time.Duration, emit func(Sample)) error {
	period := w.Period
	if period <= 0 {
		period = 4 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			phase := 2 * math.Pi * float64(now.Sub(start)) / float64(period)
			emit(Sample{
				Beta:  w.RestBeta + w.Amplitude*math.Sin(phase),
				Gamma: w.Amplitude * math.Cos(phase*0.7),
			})
		}
	}
}

// Lines 从 io.Reader 读取按行分隔的 JSON 样本
// 示例：{"beta":0.61,"gamma":-0.12}
// 取消时只能靠关闭读端打断阻塞的读取；终端或继承的管道关闭后仍可能阻塞，stdin 请用 LineFeed
type Lines struct {
	R io.Reader
}

// Run 样本节奏由上游决定，interval 不参与
func (l Lines) Run(ctx context.Context, _ time.Duration, emit func(Sample)) error {
	if c, ok := l.R.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}
	sc := bufio.NewScanner(l.R)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s, ok := parseSample(sc.Bytes()); ok {
			emit(s)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sc.Err()
}

// LineFeed 常驻读协程把按行 JSON 样本转发到通道，可被多次挂载的对战复用
// 读协程与订阅解耦：取消订阅不等待阻塞中的 Read
type LineFeed struct {
	samples chan Sample
	done    chan struct{}
	err     error
}

// NewLineFeed 立即开始读取 r，直到 EOF 或读错误
func NewLineFeed(r io.Reader) *LineFeed {
	f := &LineFeed{samples: make(chan Sample, 1), done: make(chan struct{})}
	go f.pump(r)
	return f
}

func (f *LineFeed) pump(r io.Reader) {
	defer close(f.done)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s, ok := parseSample(sc.Bytes())
		if !ok {
			continue
		}
		// 无人订阅时只保留最新一条
		select {
		case f.samples <- s:
		default:
			select {
			case <-f.samples:
			default:
			}
			select {
			case f.samples <- s:
			default:
			}
		}
	}
	f.err = sc.Err()
}

func (f *LineFeed) Run(ctx context.Context, _ time.Duration, emit func(Sample)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-f.samples:
			emit(s)
		case <-f.done:
			// 排空最后的样本
			select {
			case s := <-f.samples:
				emit(s)
			default:
			}
			return f.err
		}
	}
}

// Datagrams 每个 UDP 报文一个 JSON 样本（手机传感器 App 推送）
// 取消时只设置读超时，不关闭 Conn，下一次挂载可继续使用
type Datagrams struct {
	Conn net.PacketConn
}

func (d Datagrams) Run(ctx context.Context, _ time.Duration, emit func(Sample)) error {
	if err := d.Conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = d.Conn.SetReadDeadline(time.Now()) })
	defer stop()
	buf := make([]byte, 2048)
	for {
		n, _, err := d.Conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// 上一次挂载的取消回调迟到，恢复阻塞读取
				if err := d.Conn.SetReadDeadline(time.Time{}); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if s, ok := parseSample(buf[:n]); ok {
			emit(s)
		}
	}
}

func parseSample(b []byte) (Sample, bool) {
	if len(b) == 0 {
		return Sample{}, false
	}
	var s Sample
	if err := json.Unmarshal(b, &s); err != nil {
		logging.Log.Debugf("sensor: drop bad sample %q: %v", b, err)
		return Sample{}, false
	}
	if math.IsNaN(s.Beta) || math.IsNaN(s.Gamma) {
		return Sample{}, false
	}
	return s, true
}
