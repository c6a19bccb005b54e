package sensor

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestLatestKeepsOnlyNewest(t *testing.T) {
	var l Latest
	if _, ok := l.Load(); ok {
		t.Fatalf("empty cell reported a sample")
	}
	l.Store(Sample{Beta: 1, Gamma: 2})
	l.Store(Sample{Beta: 3, Gamma: 4})
	s, ok := l.Load()
	if !ok || s.Beta != 3 || s.Gamma != 4 {
		t.Fatalf("Load = %+v %v, want newest sample", s, ok)
	}
}

func TestAdapterLinesFeedsLatest(t *testing.T) {
	a := NewAdapter(time.Millisecond)
	src := Lines{R: strings.NewReader("{\"beta\":0.1,\"gamma\":0.2}\nbogus\n\n{\"beta\":0.5,\"gamma\":-0.3}\n")}
	if err := a.Start(context.Background(), src); err != nil {
		t.Fatalf("start: %v", err)
	}
	// reader is finite: Stop waits for the goroutine, after which the last line is stored
	deadline := time.After(time.Second)
	for {
		s, ok := a.Latest()
		if ok && s.Beta == 0.5 && s.Gamma == -0.3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("latest sample never reached last line, got %+v %v", s, ok)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestAdapterStartTwice(t *testing.T) {
	a := NewAdapter(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx, Wobble{Amplitude: 0.2}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(ctx, Wobble{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start err = %v, want ErrAlreadyStarted", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestWobbleProducesSamples(t *testing.T) {
	a := NewAdapter(2 * time.Millisecond)
	if err := a.Start(context.Background(), Wobble{RestBeta: 0.5, Amplitude: 0.3}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()
	deadline := time.After(time.Second)
	for {
		if s, ok := a.Latest(); ok {
			if s.Beta < 0.2-1e-9 || s.Beta > 0.8+1e-9 {
				t.Fatalf("beta %f outside rest±amplitude", s.Beta)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("no sample from wobble source")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestLinesStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	a := NewAdapter(time.Millisecond)
	if err := a.Start(context.Background(), Lines{R: pr}); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- a.Stop() }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop blocked on a reader with no data")
	}
}

func TestDatagramsFeedLatest(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()
	a := NewAdapter(time.Millisecond)
	if err := a.Start(context.Background(), Datagrams{Conn: pc}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()

	out, err := net.Dial("udp", pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer out.Close()
	deadline := time.After(2 * time.Second)
	for {
		_, _ = out.Write([]byte(`{"beta":0.7,"gamma":0.25}`))
		if s, ok := a.Latest(); ok {
			if s.Beta != 0.7 || s.Gamma != 0.25 {
				t.Fatalf("sample = %+v", s)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no sample from datagrams")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func waitSample(t *testing.T, a *Adapter, poke func()) Sample {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if poke != nil {
			poke()
		}
		if s, ok := a.Latest(); ok {
			return s
		}
		select {
		case <-deadline:
			t.Fatalf("no sample")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDatagramsSurviveRemount(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()
	out, err := net.Dial("udp", pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer out.Close()
	src := Datagrams{Conn: pc}

	first := NewAdapter(time.Millisecond)
	if err := first.Start(context.Background(), src); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSample(t, first, func() { _, _ = out.Write([]byte(`{"beta":0.1,"gamma":0}`)) })
	if err := first.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	second := NewAdapter(time.Millisecond)
	if err := second.Start(context.Background(), src); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer second.Stop()
	s := waitSample(t, second, func() { _, _ = out.Write([]byte(`{"beta":0.9,"gamma":0}`)) })
	if s.Beta != 0.9 {
		t.Fatalf("second mount sample = %+v", s)
	}
}

func TestLineFeedStopDoesNotWaitForReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	feed := NewLineFeed(pr)

	a := NewAdapter(time.Millisecond)
	if err := a.Start(context.Background(), feed); err != nil {
		t.Fatalf("start: %v", err)
	}
	go func() { _, _ = pw.Write([]byte("{\"beta\":0.4,\"gamma\":0.1}\n")) }()
	if s := waitSample(t, a, nil); s.Beta != 0.4 {
		t.Fatalf("sample = %+v", s)
	}

	// 读端仍阻塞在 Read 上，Stop 必须立即返回
	done := make(chan error, 1)
	go func() { done <- a.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Stop blocked on a stalled feed")
	}

	b := NewAdapter(time.Millisecond)
	if err := b.Start(context.Background(), feed); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer b.Stop()
	go func() { _, _ = pw.Write([]byte("{\"beta\":0.8,\"gamma\":0}\n")) }()
	if s := waitSample(t, b, nil); s.Beta != 0.8 {
		t.Fatalf("second mount sample = %+v", s)
	}
}

func TestLineFeedEndsWithReader(t *testing.T) {
	feed := NewLineFeed(strings.NewReader("{\"beta\":0.2,\"gamma\":0.3}\n"))
	var got []Sample
	err := feed.Run(context.Background(), 0, func(s Sample) { got = append(got, s) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != 1 || got[0].Gamma != 0.3 {
		t.Fatalf("samples = %+v", got)
	}
}
