package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lakowske/netcore/internal/watch"
)

type fakeSynchronizer struct {
	name     string
	channels []watch.Channel
	plan     Plan
	planErr  error
	applyErr error
	reloaded bool
	reloadErr error
	applied  bool
}

func (f *fakeSynchronizer) Name() string               { return f.name }
func (f *fakeSynchronizer) Channels() []watch.Channel   { return f.channels }
func (f *fakeSynchronizer) Plan(context.Context) (Plan, error) {
	return f.plan, f.planErr
}
func (f *fakeSynchronizer) Apply(ctx context.Context, plan Plan) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = true
	return ApplyFiles(plan)
}
func (f *fakeSynchronizer) Reload(context.Context) error {
	f.reloaded = true
	return f.reloadErr
}

func TestReconcile_AppliesDirtyPlanAndReloads(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")

	reg := NewRegistry()
	f := &fakeSynchronizer{
		name:     "mail",
		channels: []watch.Channel{watch.ChannelUsers},
		plan: Plan{
			Synchronizer: "mail",
			Changes:      []FileChange{{Path: target, Action: ActionWrite, Content: []byte("hello"), Mode: 0o644}},
		},
	}
	reg.Register(f)

	rec := NewReconciler(reg, false)
	run := rec.Reconcile(context.Background(), watch.ChannelUsers)

	if len(run.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", run.Errors)
	}
	if !f.applied || !f.reloaded {
		t.Fatalf("expected apply and reload to run, got applied=%v reloaded=%v", f.applied, f.reloaded)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "hello" {
		t.Fatalf("expected file to contain 'hello', got %q, err=%v", data, err)
	}
}

func TestReconcile_DryRunNeverApplies(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")

	reg := NewRegistry()
	f := &fakeSynchronizer{
		name:     "mail",
		channels: []watch.Channel{watch.ChannelUsers},
		plan: Plan{
			Changes: []FileChange{{Path: target, Action: ActionWrite, Content: []byte("hello")}},
		},
	}
	reg.Register(f)

	rec := NewReconciler(reg, true)
	run := rec.Reconcile(context.Background())

	if f.applied || f.reloaded {
		t.Fatalf("expected dry-run to skip apply/reload, got applied=%v reloaded=%v", f.applied, f.reloaded)
	}
	if len(run.Results) != 1 || !run.Results[0].Plan.Dirty() {
		t.Fatalf("expected dry-run to still report the computed plan")
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Fatalf("expected no file to be written in dry-run, stat err=%v", statErr)
	}
}

func TestReconcile_OneFailureDoesNotStopOthers(t *testing.T) {
	reg := NewRegistry()
	failing := &fakeSynchronizer{name: "dns", channels: []watch.Channel{watch.ChannelDomains}, planErr: errors.New("boom")}
	healthy := &fakeSynchronizer{name: "mail", channels: []watch.Channel{watch.ChannelDomains}, plan: Plan{}}
	reg.Register(failing)
	reg.Register(healthy)

	rec := NewReconciler(reg, false)
	run := rec.Reconcile(context.Background(), watch.ChannelDomains)

	if len(run.Results) != 2 {
		t.Fatalf("expected both synchronizers to produce a result, got %d", len(run.Results))
	}
	if len(run.Errors) != 1 {
		t.Fatalf("expected exactly one aggregated error, got %v", run.Errors)
	}
}

func TestReconcile_OnlyTargetsRequestedChannels(t *testing.T) {
	reg := NewRegistry()
	mail := &fakeSynchronizer{name: "mail", channels: []watch.Channel{watch.ChannelUsers}}
	dns := &fakeSynchronizer{name: "dns", channels: []watch.Channel{watch.ChannelDomains}}
	reg.Register(mail)
	reg.Register(dns)

	rec := NewReconciler(reg, false)
	run := rec.Reconcile(context.Background(), watch.ChannelUsers)

	if len(run.Results) != 1 || run.Results[0].Synchronizer != "mail" {
		t.Fatalf("expected only mail to be reconciled, got %v", run.Results)
	}
}
