package watcher

import (
	"sync"
	"time"
)

// DebouncedWatcher wraps a Watcher with event debouncing.
// Rapid changes to the same file are coalesced into one event whose Op
// combines every operation seen in the window.
type DebouncedWatcher struct {
	inner Watcher
	delay time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	events   chan Event
	errors   chan error
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// pendingEvent tracks a debounced event.
type pendingEvent struct {
	event Event
	timer *time.Timer
}

// NewDebouncedWatcher creates a debounced watcher wrapper.
func NewDebouncedWatcher(inner Watcher, delay time.Duration) *DebouncedWatcher {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}

	dw := &DebouncedWatcher{
		inner:   inner,
		delay:   delay,
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, bufferSize),
		errors:  make(chan error, bufferSize),
		closeCh: make(chan struct{}),
	}

	dw.closedWg.Add(1)
	go dw.processLoop()

	return dw
}

// Watch starts watching a file.
func (dw *DebouncedWatcher) Watch(path string) error {
	return dw.inner.Watch(path)
}

// Unwatch stops watching a file. A pending event for it is discarded.
func (dw *DebouncedWatcher) Unwatch(path string) error {
	if err := dw.inner.Unwatch(path); err != nil {
		return err
	}

	dw.mu.Lock()
	for p, pe := range dw.pending {
		if !dw.inner.IsWatching(p) {
			pe.timer.Stop()
			delete(dw.pending, p)
		}
	}
	dw.mu.Unlock()
	return nil
}

// Events returns the debounced event channel.
func (dw *DebouncedWatcher) Events() <-chan Event {
	return dw.events
}

// Errors returns the error channel.
func (dw *DebouncedWatcher) Errors() <-chan error {
	return dw.errors
}

// Close stops the debounced watcher and the inner watcher.
func (dw *DebouncedWatcher) Close() error {
	dw.mu.Lock()
	if dw.closed {
		dw.mu.Unlock()
		return nil
	}
	dw.closed = true
	close(dw.closeCh)

	for path, p := range dw.pending {
		p.timer.Stop()
		delete(dw.pending, path)
	}
	dw.mu.Unlock()

	dw.closedWg.Wait()

	// Timers that already fired hold the lock while sending, so no send can
	// race with closing the channels once closed is set.
	dw.mu.Lock()
	close(dw.events)
	close(dw.errors)
	dw.mu.Unlock()

	return dw.inner.Close()
}

// Stats returns watcher statistics.
func (dw *DebouncedWatcher) Stats() Stats {
	dw.mu.Lock()
	pendingCount := len(dw.pending)
	dw.mu.Unlock()

	stats := dw.inner.Stats()
	stats.PendingEvents = pendingCount
	return stats
}

// IsWatching returns true if the file is being watched.
func (dw *DebouncedWatcher) IsWatching(path string) bool {
	return dw.inner.IsWatching(path)
}

// processLoop handles incoming events from the inner watcher.
func (dw *DebouncedWatcher) processLoop() {
	defer dw.closedWg.Done()

	for {
		select {
		case <-dw.closeCh:
			return

		case event, ok := <-dw.inner.Events():
			if !ok {
				return
			}
			dw.handleEvent(event)

		case err, ok := <-dw.inner.Errors():
			if !ok {
				return
			}
			dw.forwardError(err)
		}
	}
}

// handleEvent starts or extends the window for the event's file.
func (dw *DebouncedWatcher) handleEvent(event Event) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.closed {
		return
	}

	if p, exists := dw.pending[event.Path]; exists {
		p.event.Op |= event.Op
		p.event.Timestamp = event.Timestamp
		p.timer.Reset(dw.delay)
		return
	}

	p := &pendingEvent{event: event}
	p.timer = time.AfterFunc(dw.delay, func() {
		dw.fireEvent(event.Path)
	})
	dw.pending[event.Path] = p
}

// fireEvent sends a pending event and removes it from the map.
func (dw *DebouncedWatcher) fireEvent(path string) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	p, exists := dw.pending[path]
	if !exists || dw.closed {
		return
	}
	delete(dw.pending, path)

	select {
	case dw.events <- p.event:
	default:
		// Channel full, drop event
	}
}

// forwardError forwards an error from the inner watcher.
func (dw *DebouncedWatcher) forwardError(err error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.closed {
		return
	}
	select {
	case dw.errors <- err:
	default:
	}
}

// Ensure DebouncedWatcher implements Watcher.
var _ Watcher = (*DebouncedWatcher)(nil)
