package sync

import (
	"context"

	"github.com/google/uuid"
	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/watch"
)

// Result is the outcome of reconciling one Synchronizer during one
// reconcile run.
type Result struct {
	Synchronizer string
	Plan         Plan
	Applied      bool
	Reloaded     bool
	Err          *core.Error
}

// RunResult is the outcome of one full reconcile pass across every
// selected synchronizer, tagged with a reconcile-run ID for correlating
// log lines across synchronizers.
type RunResult struct {
	RunID   string
	Results []Result
	Errors  core.Errors
}

// Reconciler drives Plan/Apply/Reload across a Registry's synchronizers.
type Reconciler struct {
	registry *Registry
	dryRun   bool
}

// NewReconciler returns a Reconciler over registry. When dryRun is true,
// Reconcile computes and returns plans without ever calling Apply or
// Reload.
func NewReconciler(registry *Registry, dryRun bool) *Reconciler {
	return &Reconciler{registry: registry, dryRun: dryRun}
}

// Reconcile runs Plan (and, unless dry-run, Apply and Reload) for every
// synchronizer subscribed to any of channels. If channels is empty, every
// registered synchronizer is reconciled. A failure in one synchronizer is
// recorded in its Result and in RunResult.Errors but does not stop the
// rest from reconciling.
func (r *Reconciler) Reconcile(ctx context.Context, channels ...watch.Channel) RunResult {
	run := RunResult{RunID: uuid.NewString()}

	var targets []Synchronizer
	if len(channels) == 0 {
		targets = r.registry.All()
	} else {
		seen := make(map[string]bool)
		for _, ch := range channels {
			for _, s := range r.registry.ForChannel(ch) {
				if !seen[s.Name()] {
					seen[s.Name()] = true
					targets = append(targets, s)
				}
			}
		}
	}

	for _, s := range targets {
		result := r.reconcileOne(ctx, s)
		run.Results = append(run.Results, result)
		if result.Err != nil {
			run.Errors = append(run.Errors, result.Err)
		}
	}
	return run
}

func (r *Reconciler) reconcileOne(ctx context.Context, s Synchronizer) Result {
	result := Result{Synchronizer: s.Name()}

	plan, err := s.Plan(ctx)
	if err != nil {
		result.Err = asCoreError(s.Name(), "plan", err)
		return result
	}
	result.Plan = plan

	if r.dryRun || !plan.Dirty() {
		return result
	}

	if err := s.Apply(ctx, plan); err != nil {
		result.Err = asCoreError(s.Name(), "apply", err)
		return result
	}
	result.Applied = true

	if reloader, ok := s.(Reloader); ok {
		if err := reloader.Reload(ctx); err != nil {
			result.Err = asCoreError(s.Name(), "reload", err)
			return result
		}
		result.Reloaded = true
	}

	return result
}

func asCoreError(synchronizer, stage string, err error) *core.Error {
	if ce, ok := err.(*core.Error); ok {
		return ce
	}
	return core.New(core.KindIOFatal, "synchronizer "+stage+" failed",
		map[string]any{"synchronizer": synchronizer, "stage": stage, "error": err.Error()})
}
