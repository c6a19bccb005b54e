package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"

	"tiltduel/logging"
)

// ServiceType 局域网内广播的服务类型
const ServiceType = "_tiltduel._tcp"

// Endpoint 一条可连接的广播
type Endpoint struct {
	Name   string // 主机显示名
	Host   string
	Port   int
	PeerID string
}

// Advertiser 主机端：把自己广播出去，返回的 stop 撤销广播
type Advertiser interface {
	Advertise(ctx context.Context, ep Endpoint) (stop func(), err error)
}

// Browser 客户端：持续扫描广播，ctx 结束时关闭返回的通道
type Browser interface {
	Browse(ctx context.Context) (<-chan Endpoint, error)
}

// MDNS 基于 zeroconf 的局域网发现
type MDNS struct {
	Domain string
}

func (m MDNS) domain() string {
	if m.Domain == "" {
		return "local."
	}
	return m.Domain
}

func (m MDNS) Advertise(_ context.Context, ep Endpoint) (func(), error) {
	txt := []string{"peer=" + ep.PeerID, "v=1"}
	srv, err := zeroconf.Register(ep.Name, ServiceType, m.domain(), ep.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	logging.Log.Infof("mdns: advertising %q on port %d", ep.Name, ep.Port)
	return srv.Shutdown, nil
}

func (m MDNS) Browse(ctx context.Context) (<-chan Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry, 8)
	out := make(chan Endpoint)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-entries:
				if !ok {
					return
				}
				ep, ok := endpointFromEntry(e)
				if !ok {
					continue
				}
				select {
				case out <- ep:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	if err := resolver.Browse(ctx, ServiceType, m.domain(), entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	return out, nil
}

func endpointFromEntry(e *zeroconf.ServiceEntry) (Endpoint, bool) {
	if e == nil || e.Port == 0 {
		return Endpoint{}, false
	}
	ep := Endpoint{Name: e.Instance, Port: e.Port}
	switch {
	case len(e.AddrIPv4) > 0:
		ep.Host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		ep.Host = "[" + e.AddrIPv6[0].String() + "]"
	default:
		return Endpoint{}, false
	}
	for _, kv := range e.Text {
		if v, ok := strings.CutPrefix(kv, "peer="); ok {
			ep.PeerID = v
		}
	}
	return ep, true
}

// Directory 进程内的发现表：同进程两个会话互相发现（测试与本机回环对战）
type Directory struct {
	mu       sync.Mutex
	ads      map[string]Endpoint
	watchers map[chan Endpoint]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		ads:      make(map[string]Endpoint),
		watchers: make(map[chan Endpoint]struct{}),
	}
}

func (d *Directory) Advertise(_ context.Context, ep Endpoint) (func(), error) {
	if ep.Host == "" {
		ep.Host = "127.0.0.1"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ads[ep.PeerID] = ep
	for w := range d.watchers {
		select {
		case w <- ep:
		default:
		}
	}
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.ads, ep.PeerID)
	}, nil
}

func (d *Directory) Browse(ctx context.Context) (<-chan Endpoint, error) {
	w := make(chan Endpoint, 16)
	d.mu.Lock()
	for _, ep := range d.ads {
		select {
		case w <- ep:
		default:
		}
	}
	d.watchers[w] = struct{}{}
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.watchers, w)
		close(w)
		d.mu.Unlock()
	}()
	return w, nil
}
