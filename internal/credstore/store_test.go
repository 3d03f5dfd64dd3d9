package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workspace-realtime/internal/logging"
)

func TestMemorySetReplacesBothSlots(t *testing.T) {
	store := NewMemory(Pair{Access: "tok-A", Renewal: "ref-A"})
	if err := store.Set(Pair{Access: "tok-B", Renewal: "ref-B"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := store.Get(); got != (Pair{Access: "tok-B", Renewal: "ref-B"}) {
		t.Fatalf("Get() = %#v", got)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if !store.Get().Empty() {
		t.Fatalf("Get() after Clear = %#v", store.Get())
	}
}

func TestFileRoundTripAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store, err := NewFile(path, logging.Discard())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	if !store.Get().Empty() {
		t.Fatalf("missing file should read as empty pair")
	}

	want := Pair{Access: "tok-A", Renewal: "ref-A"}
	if err := store.Set(want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("credential file perm = %o, want 600", perm)
	}

	reopened, err := NewFile(path, logging.Discard())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	if got := reopened.Get(); got != want {
		t.Fatalf("Get() = %#v, want %#v", got, want)
	}

	if err := reopened.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("credential file still present: %v", err)
	}
	if !store.Get().Empty() {
		t.Fatalf("other handle still sees credentials after Clear")
	}
}

func TestFileGetFallsBackToCacheOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFile(path, logging.Discard())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	want := Pair{Access: "tok-A", Renewal: "ref-A"}
	if err := store.Set(want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if got := store.Get(); got != want {
		t.Fatalf("Get() = %#v, want cached %#v", got, want)
	}
}

func TestWatchReportsRotatedPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFile(path, logging.Discard())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Pair, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logging.Discard(), func(p Pair) { changes <- p })
	}()

	deadline := time.After(5 * time.Second)
	for i := 0; ; i++ {
		// The watcher may not be registered yet; keep rotating until seen.
		want := Pair{Access: fmt.Sprintf("tok-%d", i), Renewal: fmt.Sprintf("ref-%d", i)}
		if err := store.Set(want); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		select {
		case got := <-changes:
			if !strings.HasPrefix(got.Access, "tok-") || !strings.HasPrefix(got.Renewal, "ref-") {
				t.Fatalf("change = %#v", got)
			}
			cancel()
			<-done
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no change notification")
		}
	}
}
