package evidence_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazz-dev/slotprobe/internal/evidence"
)

type fakeShooter struct {
	data []byte
	err  error
}

func (f fakeShooter) Screenshot(ctx context.Context) ([]byte, error) {
	return f.data, f.err
}

func newStore(t *testing.T) evidence.Store {
	t.Helper()
	return evidence.Store{Path: filepath.Join(t.TempDir(), "screenshot.png")}
}

func TestStore_SaveClear(t *testing.T) {
	store := newStore(t)
	png := []byte("\x89PNG\r\n\x1a\n")

	if err := store.Save(png); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(store.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, png) {
		t.Errorf("unexpected file contents: %v", data)
	}

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.Path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected file removed, stat err = %v", err)
	}
	// Clearing twice is fine.
	if err := store.Clear(); err != nil {
		t.Errorf("unexpected error clearing missing file: %v", err)
	}
}

func TestArtifact(t *testing.T) {
	if a := (evidence.Artifact{}); a.Present() || a.Bytes() != nil {
		t.Errorf("zero artifact should be absent, got %v", a.Bytes())
	}
	if evidence.NewArtifact([]byte{}).Present() {
		t.Error("empty data should yield an absent artifact")
	}
}

func TestCapture(t *testing.T) {
	tests := []struct {
		name    string
		shooter fakeShooter
		want    bool
	}{
		{name: "success", shooter: fakeShooter{data: []byte("png")}, want: true},
		{name: "screenshot error", shooter: fakeShooter{err: errors.New("target closed")}, want: false},
		{name: "empty screenshot", shooter: fakeShooter{}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			a := evidence.Capture(context.Background(), tc.shooter, store, nil)
			if a.Present() != tc.want {
				t.Errorf("artifact present = %v, want %v", a.Present(), tc.want)
			}
			_, err := os.Stat(store.Path)
			if saved := err == nil; saved != tc.want {
				t.Errorf("file saved = %v, want %v", saved, tc.want)
			}
		})
	}
}

func TestCapture_UnwritablePathKeepsBytes(t *testing.T) {
	store := evidence.Store{Path: filepath.Join(t.TempDir(), "missing-dir", "shot.png")}
	a := evidence.Capture(context.Background(), fakeShooter{data: []byte("png")}, store, nil)
	if !a.Present() || string(a.Bytes()) != "png" {
		t.Errorf("expected screenshot bytes despite save failure, got %q", a.Bytes())
	}
}
