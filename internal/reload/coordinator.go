// Package reload is the Reload Coordinator: it serializes graceful
// reloads per container, collapsing concurrent requests into a single
// follow-up, and retries a failed reload with backoff before escalating
// to a Failed state that suppresses further automatic reloads until
// cleared. Drives the reload command through the same exec path as the
// Container Supervisor, with a mutex-guarded per-container state machine
// in the style of internal/store's per-path locking.
package reload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/shell"
	"github.com/lakowske/netcore/internal/transport"
)

// State is one container's position in the reload state machine:
// Idle -> Reloading -> Idle (success) or -> Failed (after retries).
type State string

const (
	StateIdle      State = "idle"
	StateReloading State = "reloading"
	StateFailed    State = "failed"
)

// execClient is the subset of transport.Client the Coordinator depends
// on, letting tests substitute a fake instead of dialing real SSH
// sessions.
type execClient interface {
	Execute(host, cmd string) (*transport.Result, error)
}

// defaultBackoff is the fixed 1s/4s/16s retry schedule: three retries
// after the first attempt before a reload escalates to StateFailed.
var defaultBackoff = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

// mailbox is one container's serialized reload queue.
type mailbox struct {
	mu         sync.Mutex
	state      State
	running    bool
	pending    bool
	pendingCmd string
}

// Coordinator drives graceful reloads for the containers it's asked
// about, one at a time per container.
type Coordinator struct {
	transport execClient
	host      string
	bin       string // CONTAINER_CMD
	timeout   time.Duration
	backoff   []time.Duration

	mu        sync.Mutex
	mailboxes map[string]*mailbox
}

// New returns a Coordinator that drives bin (e.g. "podman" or "docker")
// via tc against host (typically "localhost").
func New(tc execClient, host, bin string) *Coordinator {
	if host == "" {
		host = "localhost"
	}
	if bin == "" {
		bin = "podman"
	}
	return &Coordinator{
		transport: tc,
		host:      host,
		bin:       bin,
		timeout:   10 * time.Second,
		backoff:   defaultBackoff,
		mailboxes: make(map[string]*mailbox),
	}
}

func (c *Coordinator) box(containerName string) *mailbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.mailboxes[containerName]
	if !ok {
		b = &mailbox{state: StateIdle}
		c.mailboxes[containerName] = b
	}
	return b
}

// State reports containerName's current reload state.
func (c *Coordinator) State(containerName string) State {
	b := c.box(containerName)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ClearFailed resets a Failed container back to Idle, re-enabling
// automatic synchronizer-triggered reloads. User-initiated start/stop
// is expected to call this once the container is confirmed healthy
// again.
func (c *Coordinator) ClearFailed(containerName string) {
	b := c.box(containerName)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateFailed {
		b.state = StateIdle
	}
}

// RequestReload asks for containerName to run gracefulCmd through the
// container runtime's exec verb. If a reload for this container is
// already in flight, the request collapses into a single follow-up that
// runs once the in-flight one finishes; a third, fourth, etc. request
// arriving before that follow-up starts simply replaces its command,
// so at most one extra reload ever runs per burst. A container already
// in StateFailed suppresses the request unless force is set, matching
// user-initiated start/stop bypassing the automatic-reload suppression.
func (c *Coordinator) RequestReload(ctx context.Context, containerName, gracefulCmd string, force bool) *core.Error {
	b := c.box(containerName)

	b.mu.Lock()
	if b.state == StateFailed && !force {
		b.mu.Unlock()
		return nil
	}
	if b.running {
		b.pending = true
		b.pendingCmd = gracefulCmd
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.state = StateReloading
	b.mu.Unlock()

	cerr := c.runWithRetry(ctx, containerName, gracefulCmd)

	for {
		b.mu.Lock()
		if cerr != nil {
			b.state = StateFailed
			b.running = false
			b.pending = false
			b.pendingCmd = ""
			b.mu.Unlock()
			return cerr
		}
		if !b.pending {
			b.state = StateIdle
			b.running = false
			b.mu.Unlock()
			return nil
		}
		next := b.pendingCmd
		b.pending = false
		b.pendingCmd = ""
		b.mu.Unlock()
		cerr = c.runWithRetry(ctx, containerName, next)
	}
}

// runWithRetry runs gracefulCmd once, then retries per the backoff
// schedule on failure, returning a RELOAD_FAILED error once every
// attempt has failed.
func (c *Coordinator) runWithRetry(ctx context.Context, containerName, gracefulCmd string) *core.Error {
	maxAttempts := len(c.backoff) + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return core.New(core.KindReloadFailed, "reload cancelled",
				map[string]any{"container": containerName, "error": err.Error()})
		}

		lastErr = c.execReload(ctx, containerName, gracefulCmd)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return core.New(core.KindReloadFailed, "reload cancelled",
				map[string]any{"container": containerName, "error": ctx.Err().Error()})
		case <-time.After(c.backoff[attempt]):
		}
	}

	return core.New(core.KindReloadFailed, "reload failed after retries",
		map[string]any{"container": containerName, "attempts": maxAttempts, "last_error": lastErr.Error()})
}

func (c *Coordinator) execReload(ctx context.Context, containerName, gracefulCmd string) error {
	cmd := fmt.Sprintf("%s exec %s %s", c.bin, shell.Quote(containerName), gracefulCmd)
	done := make(chan struct{})
	var result *transport.Result
	var execErr error

	go func() {
		result, execErr = c.transport.Execute(c.host, cmd)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.timeout):
		return fmt.Errorf("reload command timed out after %s", c.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if execErr != nil {
		return execErr
	}
	if !result.Success() {
		return fmt.Errorf("reload command exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
