package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_DebouncesBurstIntoOneEvent(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer func() { _ = w.Close() }()

	path := filepath.Join(root, "users.yaml")
	for i := 0; i < 5; i++ {
		if writeErr := os.WriteFile(path, []byte("users: []\n"), 0o644); writeErr != nil {
			t.Fatalf("write %d failed: %v", i, writeErr)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case ev := <-w.Events():
		if ev.Channel != ChannelUsers {
			t.Fatalf("expected users channel, got %s", ev.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced event")
	}

	select {
	case ev, ok := <-w.Events():
		if ok {
			t.Fatalf("expected exactly one event for the burst, got a second: %v", ev)
		}
	case <-time.After(150 * time.Millisecond):
		// No second event arrived within the debounce window; as expected.
	}
}

func TestWatcher_IgnoresUnrecognizedFiles(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer func() { _ = w.Close() }()

	if writeErr := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644); writeErr != nil {
		t.Fatalf("write failed: %v", writeErr)
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event for an unrecognized file, got %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_SeparateChannelsDebounceIndependently(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer func() { _ = w.Close() }()

	if writeErr := os.WriteFile(filepath.Join(root, "users.yaml"), []byte("users: []\n"), 0o644); writeErr != nil {
		t.Fatalf("write users failed: %v", writeErr)
	}
	if writeErr := os.WriteFile(filepath.Join(root, "domains.yaml"), []byte("domains: []\n"), 0o644); writeErr != nil {
		t.Fatalf("write domains failed: %v", writeErr)
	}

	seen := map[Channel]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-w.Events():
			seen[ev.Channel] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if !seen[ChannelUsers] || !seen[ChannelDomains] {
		t.Fatalf("expected both users and domains channels to fire, got %v", seen)
	}
}

func TestClose_StopsPendingTimersWithoutPanicking(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, time.Second)
	if err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	if writeErr := os.WriteFile(filepath.Join(root, "users.yaml"), []byte("users: []\n"), 0o644); writeErr != nil {
		t.Fatalf("write failed: %v", writeErr)
	}
	time.Sleep(50 * time.Millisecond)

	if closeErr := w.Close(); closeErr != nil {
		t.Fatalf("close failed: %v", closeErr)
	}

	if _, ok := <-w.Events(); ok {
		t.Fatalf("expected Events channel to be closed with no pending event delivered")
	}
}
