// Package watch is the File Watcher: a recursive watch over an
// environment's config directory that coalesces bursts of filesystem
// events into one debounced notification per channel (a channel being a
// logical config area, e.g. "users", "domains", "environments"). Built on
// fsnotify.Watcher. The per-channel debounce bookkeeping uses the same
// small mutex-guarded accounting style as internal/output's Timer/Progress,
// applied to filesystem events instead of CLI progress reporting.
package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the debounce window applied per channel when the
// caller does not configure one explicitly.
const DefaultDebounce = 250 * time.Millisecond

// Channel names a logical config area a changed file belongs to.
type Channel string

const (
	ChannelUsers        Channel = "users"
	ChannelDomains       Channel = "domains"
	ChannelEnvironments  Channel = "environments"
	ChannelSecrets       Channel = "secrets"
	ChannelServices      Channel = "services"
	ChannelGlobal        Channel = "global"
	ChannelUnknown       Channel = "unknown"
)

// classify maps a changed file's base name to the channel it belongs to.
// Kept as a simple table rather than a struct method since it has no
// dependency on Watcher state.
func classify(path string) Channel {
	switch filepath.Base(path) {
	case "users.yaml":
		return ChannelUsers
	case "domains.yaml":
		return ChannelDomains
	case "environments.yaml", "environments.local.yaml":
		return ChannelEnvironments
	case "secrets.yaml":
		return ChannelSecrets
	case "services.yaml":
		return ChannelServices
	case "global.yaml":
		return ChannelGlobal
	default:
		return ChannelUnknown
	}
}

// Event is one coalesced, debounced notification: at least one file under
// Channel changed since the last Event for that channel was delivered.
type Event struct {
	Channel Channel
	Paths   []string
}

// Watcher recursively watches a root directory and emits one debounced
// Event per channel after that channel's configured quiet period elapses
// with no further changes. Consumers pull events from Events() and must
// keep draining it; Close cancels any pending debounce timers and closes
// the channel.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	events   chan Event
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[Channel]*pendingChannel
	closed  bool
}

type pendingChannel struct {
	timer *time.Timer
	paths map[string]struct{}
}

// New starts a Watcher recursively covering root, with the given
// per-channel debounce window (DefaultDebounce if zero). The returned
// Watcher must be closed with Close to release its fsnotify handle and
// any running debounce timers.
func New(root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
		pending:  make(map[Channel]*pendingChannel),
	}

	if err := addRecursive(fsw, root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			return fsw.Add(path)
		}
		return nil
	})
}

// Events returns the channel consumers read debounced events from. It is
// closed once Close has drained every pending timer.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops watching, cancels every pending debounce timer and closes
// the Events channel. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Errors from fsnotify (e.g. a removed watch) don't carry a
			// path to attribute to a channel; the caller learns about a
			// missed change on its next poll of the config documents.
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	channel := classify(ev.Name)
	if channel == ChannelUnknown {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	p, ok := w.pending[channel]
	if !ok {
		p = &pendingChannel{paths: make(map[string]struct{})}
		w.pending[channel] = p
	}
	p.paths[ev.Name] = struct{}{}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(w.debounce, func() { w.flush(channel) })
}

func (w *Watcher) flush(channel Channel) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	p, ok := w.pending[channel]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, channel)
	paths := make([]string, 0, len(p.paths))
	for path := range p.paths {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	select {
	case w.events <- Event{Channel: channel, Paths: paths}:
	case <-w.done:
	}
}
