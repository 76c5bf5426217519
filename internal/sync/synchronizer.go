// Package sync is the Synchronizer Framework: the registry and
// reconcile loop that projects validated config into the on-disk
// artifacts each managed service reads, and reloads that service when its
// projection changes. Built as a struct composing independent
// sub-synchronizers, each owning one file projection and its own reload
// path, registered into a shared reconcile loop.
package sync

import (
	"context"
	"os"

	"github.com/lakowske/netcore/internal/watch"
)

// Action names what a FileChange does to its Path.
type Action string

const (
	ActionWrite    Action = "write"
	ActionDelete   Action = "delete"
	ActionMkdirAll Action = "mkdir_all"
)

// FileChange is one artifact a Synchronizer's Plan would write or remove.
// Content and Mode are only meaningful for ActionWrite.
type FileChange struct {
	Path    string
	Action  Action
	Content []byte
	Mode    os.FileMode
	Reason  string
}

// Plan is the full set of changes one Synchronizer would make to bring
// its projected artifacts in line with current config. An empty Plan
// means the projection is already up to date.
type Plan struct {
	Synchronizer string
	Changes      []FileChange
}

// Dirty reports whether applying this plan would change anything on disk.
func (p Plan) Dirty() bool {
	return len(p.Changes) > 0
}

// Synchronizer projects one area of validated config into on-disk
// artifacts a managed container reads. Implementations must be safe to
// Plan and Apply repeatedly; Plan must not mutate any on-disk state.
type Synchronizer interface {
	// Name identifies the synchronizer in logs, plans and reconcile results.
	Name() string

	// Channels lists the config channels (internal/watch.Channel values)
	// that should trigger a reconcile of this synchronizer.
	Channels() []watch.Channel

	// Plan computes the set of file changes needed to bring this
	// synchronizer's projection in line with current config, without
	// writing anything.
	Plan(ctx context.Context) (Plan, error)

	// Apply writes every change in plan. plan must have come from this
	// synchronizer's own Plan call.
	Apply(ctx context.Context, plan Plan) error
}

// Reloader is implemented by synchronizers whose managed service must be
// told to pick up a changed projection (e.g. a config-reload signal or
// container restart). Synchronizers that don't need this need not
// implement it; the reconciler checks for it with a type assertion.
type Reloader interface {
	Reload(ctx context.Context) error
}
