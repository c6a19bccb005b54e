package transport

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// PathDuel 主机端 WebSocket 入口
	PathDuel = "/duel"

	sendQueueSize = 64
	writeWait     = 5 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 25 * time.Second
	maxPayload    = 1 << 16
)

// Impairment 模拟链路丢包与延迟（默认关闭），用于验证“发出即忘”的容错
type Impairment struct {
	DropProb float64
	DelayMin time.Duration
	DelayMax time.Duration
}

func (im Impairment) drop() bool {
	return im.DropProb > 0 && rand.Float64() < im.DropProb
}

func (im Impairment) delay() time.Duration {
	if im.DelayMax <= 0 {
		return 0
	}
	if im.DelayMax <= im.DelayMin {
		return im.DelayMin
	}
	return im.DelayMin + time.Duration(rand.Int63n(int64(im.DelayMax-im.DelayMin)))
}

// Stats 链路层计数
type Stats struct {
	Sent           int64
	Received       int64
	QueueFull      int64 // 发送队列满被丢弃
	SimulatedDrops int64 // 模拟丢包
}

func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"sent":            atomic.LoadInt64(&s.Sent),
		"received":        atomic.LoadInt64(&s.Received),
		"queue_full":      atomic.LoadInt64(&s.QueueFull),
		"simulated_drops": atomic.LoadInt64(&s.SimulatedDrops),
	}
}

// link 一条已建立的 WebSocket 链路：独立写协程 + 读协程
type link struct {
	ws       *websocket.Conn
	peerID   string
	peerName string
	send     chan string
	closed   chan struct{}
	once     sync.Once

	impair Impairment
	stats  *Stats
}

func newLink(ws *websocket.Conn, peerID, peerName string, impair Impairment, stats *Stats) *link {
	return &link{
		ws:       ws,
		peerID:   peerID,
		peerName: peerName,
		send:     make(chan string, sendQueueSize),
		closed:   make(chan struct{}),
		impair:   impair,
		stats:    stats,
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (l *link) Enqueue(payload string) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.send <- payload:
		return true
	default:
		// 为了实时性，丢弃而不是阻塞游戏循环
		atomic.AddInt64(&l.stats.QueueFull, 1)
		return false
	}
}

// Close 关闭底层连接；可重复调用
func (l *link) Close() {
	l.once.Do(func() {
		close(l.closed)
		_ = l.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定时 ping
func (l *link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.Close()
	}()
	for {
		select {
		case <-l.closed:
			return
		case msg := <-l.send:
			if l.impair.drop() {
				atomic.AddInt64(&l.stats.SimulatedDrops, 1)
				continue
			}
			if d := l.impair.delay(); d > 0 {
				time.Sleep(d)
			}
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			atomic.AddInt64(&l.stats.Sent, 1)
		case <-ticker.C:
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取对端载荷并回调 onData；退出时关闭链路并回调 onClose
func (l *link) readPump(onData func(string), onClose func()) {
	defer onClose()
	defer l.Close()
	l.ws.SetReadLimit(maxPayload)
	_ = l.ws.SetReadDeadline(time.Now().Add(pongWait))
	l.ws.SetPongHandler(func(string) error {
		return l.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, payload, err := l.ws.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		_ = l.ws.SetReadDeadline(time.Now().Add(pongWait))
		atomic.AddInt64(&l.stats.Received, 1)
		onData(string(payload))
	}
}
