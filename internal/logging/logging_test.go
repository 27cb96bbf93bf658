package logging_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazz-dev/slotprobe/internal/config"
	"github.com/hazz-dev/slotprobe/internal/logging"
)

func TestSetup_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, closeLog, err := logging.Setup(config.LogConfig{Level: "info"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer closeLog()

	logger.Debug("hidden")
	logger.Info("probe finished", "status", "found")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record should be filtered at info level")
	}
	if !strings.Contains(out, "probe finished") || !strings.Contains(out, "status=found") {
		t.Errorf("unexpected console output: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("expected no color codes when writing to a buffer")
	}
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slotprobe.log")
	logger, closeLog, err := logging.Setup(config.LogConfig{File: path, Level: "debug"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("run state changed", "to", "probing")
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `msg="run state changed"`) {
		t.Errorf("unexpected log file contents: %q", data)
	}
}

func TestSetup_Errors(t *testing.T) {
	if _, _, err := logging.Setup(config.LogConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid level")
	}
	bad := filepath.Join(t.TempDir(), "missing", "dir", "x.log")
	if _, _, err := logging.Setup(config.LogConfig{File: bad, Level: "info"}, nil); err == nil {
		t.Error("expected error for unwritable log path")
	}
}
