package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestDebugGoesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duel.log")
	if err := InitLogger(path, false); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { Log = zap.NewNop().Sugar() }()

	Log.Debugf("duel: stale MOVE seq=%d after %d", 3, 7)
	Log.Infof("duel: lobby re-entered")
	SyncLogger()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	got := string(b)
	for _, want := range []string{"DEBUG", "stale MOVE seq=3", "INFO", "tiltduel"} {
		if !strings.Contains(got, want) {
			t.Fatalf("log file missing %q:\n%s", want, got)
		}
	}
}
