package watcher

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// mockWatcher is a simple mock for testing DebouncedWatcher.
type mockWatcher struct {
	mu       sync.Mutex
	events   chan Event
	errors   chan error
	watching map[string]bool
	closed   bool
}

func newMockWatcher() *mockWatcher {
	return &mockWatcher{
		events:   make(chan Event, 100),
		errors:   make(chan error, 100),
		watching: make(map[string]bool),
	}
}

func (m *mockWatcher) Watch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watching[path] {
		return ErrAlreadyWatching
	}
	m.watching[path] = true
	return nil
}

func (m *mockWatcher) Unwatch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.watching[path] {
		return ErrNotWatching
	}
	delete(m.watching, path)
	return nil
}

func (m *mockWatcher) Events() <-chan Event {
	return m.events
}

func (m *mockWatcher) Errors() <-chan error {
	return m.errors
}

func (m *mockWatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
		close(m.errors)
	}
	return nil
}

func (m *mockWatcher) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		WatchedFiles: len(m.watching),
		StartTime:    time.Now(),
	}
}

func (m *mockWatcher) IsWatching(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watching[path]
}

func (m *mockWatcher) sendEvent(event Event) {
	m.events <- event
}

func (m *mockWatcher) sendError(err error) {
	m.errors <- err
}

func TestNewDebouncedWatcher_DefaultDelay(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 0)
	defer dw.Close()

	if dw.delay != 100*time.Millisecond {
		t.Errorf("delay = %v, want 100ms (default)", dw.delay)
	}
}

func TestDebouncedWatcher_PassThrough(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 20*time.Millisecond)
	defer dw.Close()

	if err := dw.Watch("/a.bin"); err != nil {
		t.Fatalf("Watch error = %v", err)
	}
	if !dw.IsWatching("/a.bin") {
		t.Error("should be watching /a.bin")
	}
	if n := dw.Stats().WatchedFiles; n != 1 {
		t.Errorf("Stats().WatchedFiles = %d, want 1", n)
	}
	if err := dw.Unwatch("/a.bin"); err != nil {
		t.Fatalf("Unwatch error = %v", err)
	}
	if err := dw.Unwatch("/a.bin"); err != ErrNotWatching {
		t.Errorf("Unwatch again error = %v, want ErrNotWatching", err)
	}
}

func TestDebouncedWatcher_Coalescing(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 50*time.Millisecond)
	defer dw.Close()

	mock.sendEvent(Event{Path: "/a.bin", Op: OpWrite, Timestamp: time.Now()})
	mock.sendEvent(Event{Path: "/a.bin", Op: OpWrite, Timestamp: time.Now()})
	mock.sendEvent(Event{Path: "/a.bin", Op: OpChmod, Timestamp: time.Now()})

	select {
	case e := <-dw.Events():
		if e.Path != "/a.bin" {
			t.Errorf("Path = %q", e.Path)
		}
		if !e.Op.Has(OpWrite) || !e.Op.Has(OpChmod) {
			t.Errorf("Op = %d, want WRITE|CHMOD", e.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced event")
	}

	select {
	case e := <-dw.Events():
		t.Errorf("unexpected second event %+v", e)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestDebouncedWatcher_DifferentFiles(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 20*time.Millisecond)
	defer dw.Close()

	mock.sendEvent(Event{Path: "/a.bin", Op: OpWrite})
	mock.sendEvent(Event{Path: "/b.bin", Op: OpRemove})

	seen := make(map[string]Op)
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case e := <-dw.Events():
			seen[e.Path] = e.Op
		case <-timeout:
			t.Fatalf("timeout, got %v", seen)
		}
	}
	if seen["/a.bin"] != OpWrite || seen["/b.bin"] != OpRemove {
		t.Errorf("events = %v", seen)
	}
}

func TestDebouncedWatcher_ErrorForwarding(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 20*time.Millisecond)
	defer dw.Close()

	mock.sendError(errors.New("queue overflow"))

	select {
	case err := <-dw.Errors():
		if err.Error() != "queue overflow" {
			t.Errorf("error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestDebouncedWatcher_PendingStats(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 100*time.Millisecond)
	defer dw.Close()

	mock.sendEvent(Event{Path: "/a.bin", Op: OpWrite})

	deadline := time.Now().Add(time.Second)
	for dw.Stats().PendingEvents == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := dw.Stats().PendingEvents; n != 1 {
		t.Fatalf("Stats().PendingEvents = %d, want 1", n)
	}

	select {
	case e := <-dw.Events():
		if e.Path != "/a.bin" {
			t.Errorf("Path = %q", e.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced event")
	}
	if n := dw.Stats().PendingEvents; n != 0 {
		t.Errorf("Stats().PendingEvents after delivery = %d, want 0", n)
	}
}

func TestDebouncedWatcher_UnwatchDropsPending(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, time.Hour)
	defer dw.Close()

	_ = dw.Watch("/a.bin")
	mock.sendEvent(Event{Path: "/a.bin", Op: OpWrite})

	deadline := time.Now().Add(time.Second)
	for dw.Stats().PendingEvents == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := dw.Unwatch("/a.bin"); err != nil {
		t.Fatalf("Unwatch error = %v", err)
	}
	if n := dw.Stats().PendingEvents; n != 0 {
		t.Errorf("Stats().PendingEvents = %d, want 0", n)
	}
}

func TestDebouncedWatcher_CloseWithPending(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, time.Hour)

	mock.sendEvent(Event{Path: "/a.bin", Op: OpWrite})
	time.Sleep(10 * time.Millisecond)

	if err := dw.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
	if err := dw.Close(); err != nil {
		t.Errorf("Close again error = %v", err)
	}

	if _, ok := <-dw.Events(); ok {
		t.Error("events channel should be closed")
	}
	if !mock.closed {
		t.Error("inner watcher should be closed")
	}
}
