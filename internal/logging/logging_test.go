package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := New("warn", "json", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", zap.Int("n", 3))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected info to be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"n":3`) {
		t.Fatalf("expected json warn line, got %s", out)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestChannelsAreNamed(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ch := NewChannels(zap.New(core))
	ch.Status.Info("a")
	ch.Inserted.Debug("b")
	ch.Updated.Info("c")
	ch.Deleted.Debug("d")
	ch.Sync()

	var names []string
	for _, e := range logs.All() {
		names = append(names, e.LoggerName)
	}
	if strings.Join(names, ",") != "status,inserted,updated,deleted" {
		t.Fatalf("unexpected channel names %v", names)
	}
}

func TestNewChannelsNilRoot(t *testing.T) {
	ch := NewChannels(nil)
	ch.Status.Info("dropped")
	ch.Sync()
}
