package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"tiltduel/config"
	"tiltduel/duel"
	"tiltduel/sensor"
	"tiltduel/transport"
)

func testLobby(t *testing.T, dir *transport.Directory, role transport.Role, name string) *duel.Lobby {
	t.Helper()
	open := func() (duel.Transport, *transport.Stats) {
		sess := transport.NewSession(transport.Options{ListenAddr: "127.0.0.1:0", Advertiser: dir, Browser: dir, Name: name})
		return sess, sess.Stats()
	}
	l, err := duel.NewLobby(duel.Config{
		Role:           role,
		Name:           name,
		Tuning:         duel.DefaultTuning(),
		Sensor:         sensor.Wobble{},
		SensorInterval: 5 * time.Millisecond,
	}, open, nil)
	if err != nil {
		t.Fatalf("new lobby: %v", err)
	}
	return l
}

func TestCommandsDriveMatch(t *testing.T) {
	lobby := testLobby(t, transport.NewDirectory(), transport.RoleHost, "tester")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = lobby.Run(ctx) }()

	var out bytes.Buffer
	commands(ctx, strings.NewReader("status\n\nwarp\nrematch\nlobby\n"), &out, lobby, cancel)
	deadline := time.Now().Add(2 * time.Second)
	for lobby.Mounts() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("lobby command did not remount")
		}
		time.Sleep(5 * time.Millisecond)
	}

	commands(ctx, strings.NewReader("quit\nfire\n"), &out, lobby, cancel)
	select {
	case <-lobby.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("quit did not stop the lobby")
	}
	got := out.String()
	for _, want := range []string{"[LOBBY] Searching for opponent", `unknown command "warp"`, "invalid"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
}

func TestSparringPartnerConnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := transport.NewDirectory()
	lobby := testLobby(t, dir, transport.RoleHost, "tester")
	go func() { _ = lobby.Run(ctx) }()
	bot := sparring(ctx, config.Config{Role: transport.RoleHost}, dir, transport.Impairment{})
	if bot == nil {
		t.Fatalf("sparring lobby not created")
	}

	deadline := time.Now().Add(5 * time.Second)
	for lobby.Current().Status().PeerName != sparringName || bot.Current().Status().Phase == duel.PhaseLobby.String() {
		if time.Now().After(deadline) {
			t.Fatalf("sparring partner never connected: %+v / %+v", lobby.Current().Status(), bot.Current().Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := bot.Current().Status().PeerName; got != "tester" {
		t.Fatalf("bot sees opponent %q", got)
	}
	cancel()
	<-lobby.Done()
	<-bot.Done()
}
