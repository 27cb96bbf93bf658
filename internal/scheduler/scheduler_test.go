package scheduler_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/slotprobe/internal/scheduler"
)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestScheduler_RunsImmediately(t *testing.T) {
	var calls int32
	sched, err := scheduler.New("@every 1h", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 1 })
	cancel()
	sched.Wait()
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	var calls int32
	sched, err := scheduler.New("@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-ctx.Done()
	sched.Wait()

	// One immediate run plus at least one tick.
	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("expected at least 2 runs, got %d", n)
	}
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	var running, maxRunning int32
	release := make(chan struct{})
	sched, err := scheduler.New("@every 1s", func(ctx context.Context) error {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2500 * time.Millisecond)
	close(release)
	cancel()
	sched.Wait()

	if m := atomic.LoadInt32(&maxRunning); m != 1 {
		t.Errorf("expected runs never to overlap, max concurrent %d", m)
	}
}

func TestScheduler_JobErrorIsLogged(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	sched, err := scheduler.New("@every 1h", func(ctx context.Context) error {
		return errors.New("notifying result: telegram: Unauthorized")
	}, logger)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return strings.Contains(logs.String(), "scheduled run failed") })
	cancel()
	sched.Wait()
}

func TestScheduler_JobPanicIsRecovered(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	sched, err := scheduler.New("@every 1h", func(ctx context.Context) error {
		panic("browser went away")
	}, logger)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return strings.Contains(logs.String(), "panic") })
	cancel()
	sched.Wait()
}

func TestScheduler_ContextCancellation(t *testing.T) {
	sched, err := scheduler.New("*/15 * * * *", func(ctx context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Wait() did not return within 2s after context cancel")
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	for _, spec := range []string{"", "every now and then", "61 * * * *"} {
		if _, err := scheduler.New(spec, func(ctx context.Context) error { return nil }, nil); err == nil {
			t.Errorf("expected error for schedule %q", spec)
		}
	}
}
