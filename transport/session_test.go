package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitEvent[T Event](t *testing.T, ch <-chan Event, d time.Duration) T {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case ev := <-ch:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func pair(t *testing.T) (host, client *Session, hs, cs <-chan Event) {
	t.Helper()
	dir := NewDirectory()
	host = NewSession(Options{ListenAddr: "127.0.0.1:0", Advertiser: dir})
	client = NewSession(Options{Browser: dir, Name: "bob"})
	hs, _ = host.Subscribe()
	cs, _ = client.Subscribe()
	t.Cleanup(func() {
		_ = client.Stop()
		_ = host.Stop()
	})

	ctx := context.Background()
	if err := host.StartAsHost(ctx, "alice"); err != nil {
		t.Fatalf("start host: %v", err)
	}
	if err := client.StartAsClient(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	hc := waitEvent[Connected](t, hs, 2*time.Second)
	cc := waitEvent[Connected](t, cs, 2*time.Second)
	if hc.PeerID != client.ID() || hc.PeerName != "bob" {
		t.Fatalf("host sees peer %q/%q, want %q/bob", hc.PeerID, hc.PeerName, client.ID())
	}
	if cc.PeerID != host.ID() || cc.PeerName != "alice" {
		t.Fatalf("client sees peer %q/%q, want %q/alice", cc.PeerID, cc.PeerName, host.ID())
	}
	return host, client, hs, cs
}

func TestHostAdvertisesClientConnects(t *testing.T) {
	host, client, _, _ := pair(t)
	if host.Status() != StatusConnected || client.Status() != StatusConnected {
		t.Fatalf("status host=%v client=%v, want connected", host.Status(), client.Status())
	}
	if host.Role() != RoleHost || client.Role() != RoleClient {
		t.Fatalf("roles host=%v client=%v", host.Role(), client.Role())
	}
}

func TestSendCarriesPayloadBothWays(t *testing.T) {
	host, client, hs, cs := pair(t)

	if !client.Send(`{"type":"FIRE"}`) {
		t.Fatalf("client send not queued")
	}
	d := waitEvent[Data](t, hs, 2*time.Second)
	if d.Payload != `{"type":"FIRE"}` {
		t.Fatalf("host got %q", d.Payload)
	}

	if !host.Send("pong") {
		t.Fatalf("host send not queued")
	}
	d = waitEvent[Data](t, cs, 2*time.Second)
	if d.Payload != "pong" {
		t.Fatalf("client got %q", d.Payload)
	}
}

func TestPeerStopRaisesDisconnected(t *testing.T) {
	host, client, hs, _ := pair(t)
	if err := client.Stop(); err != nil {
		t.Fatalf("client stop: %v", err)
	}
	waitEvent[Disconnected](t, hs, 2*time.Second)
	if host.Status() != StatusDisconnected {
		t.Fatalf("host status = %v, want disconnected", host.Status())
	}
	if host.Send("late") {
		t.Fatalf("send after disconnect should not be queued")
	}
}

func TestStopIsIdempotentAndSilent(t *testing.T) {
	host, client, _, cs := pair(t)
	if err := client.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	// drain anything delivered before Stop returned
	for len(cs) > 0 {
		<-cs
	}
	_ = host.Send("after stop")
	select {
	case ev := <-cs:
		t.Fatalf("event %#v delivered after Stop", ev)
	case <-time.After(150 * time.Millisecond):
	}
	if err := client.StartAsClient(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("start after stop err = %v, want ErrStopped", err)
	}
}

func TestSecondClientIsRejected(t *testing.T) {
	dir := NewDirectory()
	host := NewSession(Options{ListenAddr: "127.0.0.1:0", Advertiser: dir})
	a := NewSession(Options{Browser: dir})
	hs, _ := host.Subscribe()
	defer host.Stop()
	defer a.Stop()

	ctx := context.Background()
	if err := host.StartAsHost(ctx, "host"); err != nil {
		t.Fatalf("start host: %v", err)
	}
	if err := a.StartAsClient(ctx); err != nil {
		t.Fatalf("start a: %v", err)
	}
	waitEvent[Connected](t, hs, 2*time.Second)

	// the advertisement is withdrawn on connect, so re-advertise the same port manually
	b := NewSession(Options{Browser: staticBrowser{Endpoint{Host: "127.0.0.1", Port: hostPort(t, host)}}})
	bs, _ := b.Subscribe()
	defer b.Stop()
	if err := b.StartAsClient(ctx); err != nil {
		t.Fatalf("start b: %v", err)
	}
	select {
	case ev := <-bs:
		if _, ok := ev.(Connected); ok {
			t.Fatalf("second client connected to a busy host")
		}
	case <-time.After(300 * time.Millisecond):
	}
	if b.Status() != StatusSearching {
		t.Fatalf("b status = %v, want searching", b.Status())
	}
}

func TestStartTwice(t *testing.T) {
	s := NewSession(Options{Browser: NewDirectory()})
	defer s.Stop()
	if err := s.StartAsClient(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.StartAsHost(context.Background(), "x"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("err = %v, want ErrAlreadyStarted", err)
	}
}

type failingAdvertiser struct{}

func (failingAdvertiser) Advertise(context.Context, Endpoint) (func(), error) {
	return nil, errors.New("bluetooth permission denied")
}

func TestAdvertiseFailureReportedOnce(t *testing.T) {
	s := NewSession(Options{ListenAddr: "127.0.0.1:0", Advertiser: failingAdvertiser{}})
	sub, _ := s.Subscribe()
	defer s.Stop()
	if err := s.StartAsHost(context.Background(), "x"); err != nil {
		t.Fatalf("start host returned %v, want failure as event", err)
	}
	f := waitEvent[Failed](t, sub, time.Second)
	if f.Err == nil {
		t.Fatalf("failed event without error")
	}
	if s.Status() != StatusSearching {
		t.Fatalf("status = %v, want searching", s.Status())
	}
	select {
	case ev := <-sub:
		t.Fatalf("unexpected second event %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("host"); err != nil || r != RoleHost {
		t.Fatalf("host -> %v %v", r, err)
	}
	if r, err := ParseRole("client"); err != nil || r != RoleClient {
		t.Fatalf("client -> %v %v", r, err)
	}
	if _, err := ParseRole("spectator"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

type staticBrowser []Endpoint

func (b staticBrowser) Browse(ctx context.Context) (<-chan Endpoint, error) {
	ch := make(chan Endpoint, len(b))
	for _, ep := range b {
		ch <- ep
	}
	return ch, nil
}

func hostPort(t *testing.T, s *Session) int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		t.Fatalf("host has no server")
	}
	return s.port
}
