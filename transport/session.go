package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"tiltduel/logging"
)

// Options 会话依赖；由对战界面在进入时构造，离开时 Stop
type Options struct {
	ListenAddr string // 主机端监听地址，默认 ":0"
	Advertiser Advertiser
	Browser    Browser
	Impair     Impairment
	// Name 客户端连接时附带的展示名，主机端以此作为对手名称
	Name string
	// EventBuffer 订阅通道容量，默认 64
	EventBuffer int
}

// Session 两台设备之间唯一的一条本地链路；只搬运字符串载荷，不含游戏语义
type Session struct {
	id   string
	opts Options

	mu            sync.Mutex
	role          Role
	name          string
	status        Status
	link          *link
	connecting    bool
	ctx           context.Context
	cancel        context.CancelFunc
	srv           *http.Server
	port          int
	stopAdvertise func()

	// emitMu 只保护事件投递与 stopped，避免与 Send 共用锁造成互等
	emitMu  sync.Mutex
	stopped bool
	subs    map[*subscription]struct{}
	done    chan struct{}
	once    sync.Once

	stats Stats
}

// subscription 一个订阅者；cancel 关闭后不再投递
type subscription struct {
	ch     chan Event
	cancel chan struct{}
	once   sync.Once
}

func NewSession(opts Options) *Session {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":0"
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Session{
		id:     uuid.NewString(),
		opts:   opts,
		status: StatusSearching,
		subs:   make(map[*subscription]struct{}),
		done:   make(chan struct{}),
	}
}

// ID 本机对端标识（广播与握手中携带）
func (s *Session) ID() string { return s.id }

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Stats() *Stats { return &s.stats }

// Subscribe 注册事件订阅（推送而非轮询），返回事件通道与退订句柄
func (s *Session) Subscribe() (<-chan Event, func()) {
	sub := &subscription{
		ch:     make(chan Event, s.opts.EventBuffer),
		cancel: make(chan struct{}),
	}
	s.emitMu.Lock()
	s.subs[sub] = struct{}{}
	s.emitMu.Unlock()
	return sub.ch, func() {
		sub.once.Do(func() {
			close(sub.cancel)
			s.emitMu.Lock()
			delete(s.subs, sub)
			s.emitMu.Unlock()
		})
	}
}

func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.stopped {
		return
	}
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		case <-sub.cancel:
		case <-s.done:
			return
		}
	}
}

// fail 启动失败：状态保持 Searching，以 Failed 事件报告一次
func (s *Session) fail(err error) {
	logging.Log.Warnf("transport: %v", err)
	s.emit(Failed{Err: err})
}

func (s *Session) begin(ctx context.Context, role Role, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	if s.role != RoleNone {
		return ErrAlreadyStarted
	}
	s.role = role
	s.name = name
	s.status = StatusSearching
	s.ctx, s.cancel = context.WithCancel(ctx)
	return nil
}

// StartAsHost 开始广播并等待一个对端连接
// 监听或广播失败不会返回错误，而是投递 Failed 事件
func (s *Session) StartAsHost(ctx context.Context, displayName string) error {
	if err := s.begin(ctx, RoleHost, displayName); err != nil {
		return err
	}
	if s.opts.Advertiser == nil {
		s.fail(errors.New("no advertiser available"))
		return nil
	}
	ln, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		s.fail(fmt.Errorf("listen %s: %w", s.opts.ListenAddr, err))
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc(PathDuel, s.handleUpgrade)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	port := ln.Addr().(*net.TCPAddr).Port
	s.mu.Lock()
	s.srv = srv
	s.port = port
	actx := s.ctx
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Log.Warnf("transport: serve: %v", err)
		}
	}()

	stop, err := s.opts.Advertiser.Advertise(actx, Endpoint{Name: displayName, Port: port, PeerID: s.id})
	if err != nil {
		_ = srv.Close()
		s.fail(fmt.Errorf("advertise: %w", err))
		return nil
	}
	s.mu.Lock()
	s.stopAdvertise = stop
	s.mu.Unlock()
	logging.Log.Infof("transport: hosting %q on port %d (peer=%s)", displayName, port, s.id)
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 局域网点对点：不校验来源
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Session) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	// 一个会话只接受一次连接；断开后须回大厅重新开始
	if s.status != StatusSearching || s.connecting || s.ctx.Err() != nil {
		s.mu.Unlock()
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}
	s.connecting = true
	s.mu.Unlock()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.Warnf("transport: upgrade error: %v", err)
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		return
	}
	peerID := r.URL.Query().Get("peer")
	if peerID == "" {
		peerID = r.RemoteAddr
	}
	s.attach(newLink(ws, peerID, r.URL.Query().Get("name"), s.opts.Impair, &s.stats))
}

// StartAsClient 开始扫描；发现兼容广播后自动连接
func (s *Session) StartAsClient(ctx context.Context) error {
	if err := s.begin(ctx, RoleClient, ""); err != nil {
		return err
	}
	if s.opts.Browser == nil {
		s.fail(errors.New("no browser available"))
		return nil
	}
	s.mu.Lock()
	sctx, cancel := context.WithCancel(s.ctx)
	s.mu.Unlock()
	entries, err := s.opts.Browser.Browse(sctx)
	if err != nil {
		cancel()
		s.fail(fmt.Errorf("browse: %w", err))
		return nil
	}
	logging.Log.Infof("transport: scanning for %s (peer=%s)", ServiceType, s.id)
	go s.scan(sctx, cancel, entries)
	return nil
}

func (s *Session) scan(ctx context.Context, cancel context.CancelFunc, entries <-chan Endpoint) {
	defer cancel()
	tried := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case ep, ok := <-entries:
			if !ok {
				return
			}
			key := ep.Host + ":" + strconv.Itoa(ep.Port)
			if ep.PeerID == s.id || tried[key] {
				continue
			}
			tried[key] = true
			if err := s.dial(ctx, ep); err != nil {
				logging.Log.Warnf("transport: connect %s (%s): %v", ep.Name, key, err)
				continue
			}
			return
		}
	}
}

func (s *Session) dial(ctx context.Context, ep Endpoint) error {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(trimBrackets(ep.Host), strconv.Itoa(ep.Port)),
		Path:     PathDuel,
		RawQuery: url.Values{"peer": {s.id}, "name": {s.opts.Name}}.Encode(),
	}
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ws, resp, err := websocket.DefaultDialer.DialContext(dctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}
	peerID := ep.PeerID
	if peerID == "" {
		peerID = u.Host
	}
	s.attach(newLink(ws, peerID, ep.Name, s.opts.Impair, &s.stats))
	return nil
}

func trimBrackets(h string) string {
	if len(h) > 1 && h[0] == '[' && h[len(h)-1] == ']' {
		return h[1 : len(h)-1]
	}
	return h
}

// attach 登记唯一链路、停止广播、投递 Connected 并启动读写协程
func (s *Session) attach(l *link) {
	s.mu.Lock()
	s.connecting = false
	if s.link != nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		l.Close()
		return
	}
	s.link = l
	s.status = StatusConnected
	stopAdv := s.stopAdvertise
	s.stopAdvertise = nil
	s.mu.Unlock()

	if stopAdv != nil {
		stopAdv()
	}
	logging.Log.Infof("transport: connected to %s", l.peerID)
	s.emit(Connected{PeerID: l.peerID, PeerName: l.peerName})

	go l.writePump()
	go l.readPump(func(p string) { s.emit(Data{Payload: p}) }, func() { s.detach(l) })
}

func (s *Session) detach(l *link) {
	s.mu.Lock()
	current := s.link == l
	if current {
		s.link = nil
		s.status = StatusDisconnected
	}
	s.mu.Unlock()
	if current {
		logging.Log.Infof("transport: disconnected from %s", l.peerID)
		s.emit(Disconnected{})
	}
}

// Send 尽力发送，不阻塞调用方，无确认
func (s *Session) Send(payload string) bool {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return false
	}
	return l.Enqueue(payload)
}

// Stop 撤销广播/扫描并关闭链路；可重复调用，返回后不再投递任何事件
func (s *Session) Stop() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.emitMu.Lock()
		s.stopped = true
		s.emitMu.Unlock()

		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		stopAdv, srv, l := s.stopAdvertise, s.srv, s.link
		s.stopAdvertise, s.srv, s.link = nil, nil, nil
		if s.role != RoleNone {
			s.status = StatusDisconnected
		}
		s.mu.Unlock()

		if stopAdv != nil {
			stopAdv()
		}
		if srv != nil {
			err = multierr.Append(err, srv.Close())
		}
		if l != nil {
			l.Close()
		}
		logging.Log.Debugf("transport: session %s stopped", s.id)
	})
	return err
}
