package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/hazz-dev/slotprobe/internal/browser"
	"github.com/hazz-dev/slotprobe/internal/config"
	"github.com/hazz-dev/slotprobe/internal/notify"
)

// stubSession is a browser.Session that renders the services container with
// the given option texts.
type stubSession struct {
	texts      []string
	screenshot []byte
}

func (s *stubSession) Open(ctx context.Context, url string) error { return nil }
func (s *stubSession) Click(ctx context.Context, loc browser.Locator) error { return nil }
func (s *stubSession) SwitchToPopup(ctx context.Context, index int) error { return nil }
func (s *stubSession) AcceptDialog(ctx context.Context) error { return nil }
func (s *stubSession) Visible(ctx context.Context, l browser.Locator) (bool, error) { return true, nil }
func (s *stubSession) VisibleTexts(ctx context.Context, parent browser.Locator, childTag string) ([]string, error) {
	return s.texts, nil
}
func (s *stubSession) Screenshot(ctx context.Context) ([]byte, error) { return s.screenshot, nil }
func (s *stubSession) Close() error { return nil }

// stubLaunchers swaps newLauncher for the duration of the test and counts
// browser launches.
func stubLaunchers(t *testing.T, sess browser.Session) *int {
	t.Helper()
	launches := 0
	orig := newLauncher
	newLauncher = func(opts browser.Options) browser.Launcher {
		return func(ctx context.Context) (browser.Session, error) {
			launches++
			return sess, nil
		}
	}
	t.Cleanup(func() { newLauncher = orig })
	return &launches
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheck_InvalidConfigFailsBeforeLaunch(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	launches := stubLaunchers(t, &stubSession{})
	path := writeConfig(t, `
notifier:
  type: telegram
  telegram:
    token: "123:abc"
    recipients: []
`)

	out, err := execute(t, "--config", path, "check")
	if err == nil {
		t.Fatal("expected error for empty recipient list")
	}
	if !strings.Contains(out, "recipient") {
		t.Errorf("expected error to mention recipients, got:\n%s", out)
	}
	if *launches != 0 {
		t.Errorf("expected no browser launch, got %d", *launches)
	}
}

func TestCheck_MissingConfig(t *testing.T) {
	launches := stubLaunchers(t, &stubSession{})
	if _, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yml"), "check"); err == nil {
		t.Fatal("expected error for missing config file")
	}
	if *launches != 0 {
		t.Errorf("expected no browser launch, got %d", *launches)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "slotprobe ") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestExecuteRun_PublishesToNATS(t *testing.T) {
	t.Setenv("NATS_HOST", "")
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatal(err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	ch := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("scrapper.result", ch); err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	png := []byte("\x89PNG\r\n\x1a\nslot")
	launches := stubLaunchers(t, &stubSession{texts: []string{"Renovación de pasaporte"}, screenshot: png})
	evidencePath := filepath.Join(t.TempDir(), "screenshot.png")
	cfg, err := config.Load(writeConfig(t, `
probe:
  interstitial_timeout: 100ms
  interstitial_poll: 10ms
  poll_interval: 10ms
  max_poll: 1s
evidence:
  path: `+evidencePath+`
notifier:
  type: nats
  nats:
    url: `+ns.ClientURL()+`
`))
	if err != nil {
		t.Fatal(err)
	}

	if err := executeRun(context.Background(), cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *launches != 1 {
		t.Errorf("expected one browser launch, got %d", *launches)
	}

	select {
	case m := <-ch:
		var p notify.Payload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Debug || p.Message != "There are hours available" {
			t.Errorf("unexpected payload: %+v", p)
		}
		img, err := base64.StdEncoding.DecodeString(p.Image)
		if err != nil || !bytes.Equal(img, png) {
			t.Errorf("image mismatch: %q (err %v)", img, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestExecuteWatch_InvalidSchedule(t *testing.T) {
	cfg := &config.Config{Watch: config.WatchConfig{Schedule: "whenever"}}
	if err := executeWatch(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
