package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestEndpointFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry("alice", ServiceType, "local.")
	e.Port = 4242
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.Text = []string{"v=1", "peer=abc"}

	ep, ok := endpointFromEntry(e)
	if !ok {
		t.Fatalf("entry rejected")
	}
	if ep.Name != "alice" || ep.Host != "192.168.1.20" || ep.Port != 4242 || ep.PeerID != "abc" {
		t.Fatalf("endpoint = %+v", ep)
	}

	e.AddrIPv4 = nil
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	if ep, ok = endpointFromEntry(e); !ok || ep.Host != "[fe80::1]" {
		t.Fatalf("ipv6 endpoint = %+v %v", ep, ok)
	}

	e.AddrIPv6 = nil
	if _, ok := endpointFromEntry(e); ok {
		t.Fatalf("entry without address accepted")
	}
	if _, ok := endpointFromEntry(nil); ok {
		t.Fatalf("nil entry accepted")
	}
}

func TestDirectoryDeliversExistingAndLaterAds(t *testing.T) {
	d := NewDirectory()
	stopA, _ := d.Advertise(context.Background(), Endpoint{Name: "a", Port: 1, PeerID: "a"})
	defer stopA()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.Browse(ctx)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	first := <-ch
	if first.PeerID != "a" || first.Host != "127.0.0.1" {
		t.Fatalf("first = %+v", first)
	}

	stopB, _ := d.Advertise(context.Background(), Endpoint{Name: "b", Port: 2, PeerID: "b"})
	defer stopB()
	select {
	case ep := <-ch:
		if ep.PeerID != "b" {
			t.Fatalf("second = %+v", ep)
		}
	case <-time.After(time.Second):
		t.Fatalf("later advertisement not delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected endpoint after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("browse channel not closed on cancel")
	}
}
