// Package envmgr registers, enables, switches between and validates the
// named environments that share one netcore installation. A root
// environments.yaml lists every environment; an optional
// environments.local.yaml overlay holds machine-local overrides merged on
// top of it.
package envmgr

import (
	"errors"
	"os"
	"time"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/events"
	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/store"
	"gopkg.in/yaml.v3"
)

// Manager owns the root environments.yaml (plus its optional local
// overlay) that lists every environment this installation knows about.
type Manager struct {
	rootStore *store.Store
	localPath string
	bus       *events.Bus
}

// New returns a Manager rooted at rootPaths, the Paths resolved for the
// installation's root base directory (see internal/state.DefaultBase).
// bus may be nil, in which case Switch publishes nothing.
func New(rootPaths paths.Paths, bus *events.Bus) *Manager {
	return &Manager{
		rootStore: store.New(rootPaths),
		localPath: rootPaths.ConfigDir + "/environments.local.yaml",
		bus:       bus,
	}
}

func (m *Manager) load() (*schema.EnvironmentsDocument, *core.Error) {
	base, err := m.rootStore.LoadEnvironments()
	if err != nil {
		return nil, err
	}

	overlayData, readErr := os.ReadFile(m.localPath)
	if errors.Is(readErr, os.ErrNotExist) {
		return base, nil
	}
	if readErr != nil {
		return nil, core.New(core.KindIOTransient, "failed to read environments.local.yaml overlay",
			map[string]any{"path": m.localPath, "error": readErr.Error()})
	}

	var overlay schema.EnvironmentsDocument
	if err := schema.Parse(overlayData, &overlay); err != nil {
		return nil, core.New(core.KindConfigParse, "failed to parse environments.local.yaml overlay",
			map[string]any{"path": m.localPath, "error": err.Error()})
	}

	var node yaml.Node
	if err := yaml.Unmarshal(overlayData, &node); err != nil {
		return nil, core.New(core.KindConfigParse, "failed to parse environments.local.yaml overlay nodes",
			map[string]any{"path": m.localPath, "error": err.Error()})
	}

	return mergeOverlay(base, &overlay, &node), nil
}

// List returns every registered environment.
func (m *Manager) List() ([]schema.Environment, *core.Error) {
	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	return doc.Environments, nil
}

// Current returns the environment currently marked active.
func (m *Manager) Current() (*schema.Environment, *core.Error) {
	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	if doc.Current == "" {
		return nil, core.New(core.KindEnvNotFound, "no current environment is set", nil)
	}
	env, ok := doc.FindEnvironment(doc.Current)
	if !ok {
		return nil, core.New(core.KindEnvNotFound, "current_environment is not a registered environment",
			map[string]any{"environment": doc.Current})
	}
	return env, nil
}

// Info returns the named environment's record.
func (m *Manager) Info(name string) (*schema.Environment, *core.Error) {
	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	env, ok := doc.FindEnvironment(name)
	if !ok {
		return nil, core.New(core.KindEnvNotFound, "environment not found", map[string]any{"environment": name})
	}
	return env, nil
}

// Add registers a new environment with the Enabled value env carries, and
// makes it the current environment if none is set yet.
func (m *Manager) Add(env schema.Environment) *core.Error {
	base, err := m.rootStore.LoadEnvironments()
	if err != nil {
		return err
	}
	if _, exists := base.FindEnvironment(env.Name); exists {
		return core.New(core.KindConfigValidate, "environment already registered",
			map[string]any{"environment": env.Name})
	}

	env.CreatedAt = currentTime()
	if env.PortMappings == nil {
		env.PortMappings = make(map[string][]schema.PortMapping)
	}
	base.Environments = append(base.Environments, env)

	if errs := schema.ValidateEnvironments(base); len(errs) > 0 {
		base.Environments = base.Environments[:len(base.Environments)-1]
		return errs[0]
	}
	if pathErr := paths.CheckDistinct(baseMap(base.Environments)); pathErr != nil {
		return pathErr
	}

	if base.Current == "" {
		base.Current = env.Name
	}
	return m.rootStore.SaveEnvironments(base)
}

// Remove deletes an environment registration. It refuses to remove the
// last remaining environment or the current one.
func (m *Manager) Remove(name string) *core.Error {
	base, err := m.rootStore.LoadEnvironments()
	if err != nil {
		return err
	}
	if len(base.Environments) <= 1 {
		return core.New(core.KindEnvLastRemaining, "cannot remove the last remaining environment", nil)
	}
	if base.Current == name {
		return core.New(core.KindEnvCurrentRemove, "cannot remove the current environment; switch first",
			map[string]any{"environment": name})
	}

	kept := make([]schema.Environment, 0, len(base.Environments))
	found := false
	for _, e := range base.Environments {
		if e.Name == name {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return core.New(core.KindEnvNotFound, "environment not found", map[string]any{"environment": name})
	}
	base.Environments = kept
	return m.rootStore.SaveEnvironments(base)
}

// Enable marks an environment enabled.
func (m *Manager) Enable(name string) *core.Error {
	return m.setEnabled(name, true)
}

// Disable marks an environment disabled. Disabling the current environment
// is rejected, matching the invariant that the current environment must
// always be enabled.
func (m *Manager) Disable(name string) *core.Error {
	base, err := m.rootStore.LoadEnvironments()
	if err != nil {
		return err
	}
	if base.Current == name {
		return core.New(core.KindEnvNotEnabled, "cannot disable the current environment; switch first",
			map[string]any{"environment": name})
	}
	return m.setEnabled(name, false)
}

func (m *Manager) setEnabled(name string, enabled bool) *core.Error {
	base, err := m.rootStore.LoadEnvironments()
	if err != nil {
		return err
	}
	env, ok := base.FindEnvironment(name)
	if !ok {
		return core.New(core.KindEnvNotFound, "environment not found", map[string]any{"environment": name})
	}
	env.Enabled = enabled
	return m.rootStore.SaveEnvironments(base)
}

// Switch makes name the current environment, publishing
// events.KindEnvironmentSwitched on success.
func (m *Manager) Switch(name string) (*schema.Environment, *core.Error) {
	base, err := m.rootStore.LoadEnvironments()
	if err != nil {
		return nil, err
	}
	env, ok := base.FindEnvironment(name)
	if !ok {
		return nil, core.New(core.KindEnvNotFound, "environment not found", map[string]any{"environment": name})
	}
	if !env.Enabled {
		return nil, core.New(core.KindEnvNotEnabled, "environment is not enabled", map[string]any{"environment": name})
	}

	previous := base.Current
	base.Current = name
	env.LastUsed = currentTime()
	if saveErr := m.rootStore.SaveEnvironments(base); saveErr != nil {
		return nil, saveErr
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Kind: events.KindEnvironmentSwitched,
			Data: map[string]any{"previous": previous, "current": name},
		})
	}
	return env, nil
}

// Validate runs every cross-field environment invariant and returns the
// accumulated errors, if any.
func (m *Manager) Validate() core.Errors {
	base, err := m.load()
	if err != nil {
		return core.Errors{err}
	}
	return schema.ValidateEnvironments(base)
}

// Init resolves name's base path, creates its on-disk directory tree and
// populates its config documents with defaults. It is idempotent.
func (m *Manager) Init(name, domain, adminEmail string) *core.Error {
	env, err := m.Info(name)
	if err != nil {
		return err
	}

	envPaths, pathErr := paths.Resolve(env.BasePath)
	if pathErr != nil {
		return pathErr
	}

	for _, dir := range []string{
		envPaths.ConfigDir, envPaths.StateDir, envPaths.LogsDir, envPaths.CodeDir,
		envPaths.CertificatesDir, envPaths.MailDir, envPaths.ApacheAuthDir, envPaths.DNSZonesDir,
	} {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return core.New(core.KindIOFatal, "failed to create environment directory",
				map[string]any{"path": dir, "error": mkErr.Error()})
		}
	}

	return store.New(envPaths).InitializeDefaults(domain, adminEmail)
}

func baseMap(envs []schema.Environment) map[string]string {
	m := make(map[string]string, len(envs))
	for _, e := range envs {
		m[e.Name] = e.BasePath
	}
	return m
}

// currentTime is a package-level seam so tests can stub out wall-clock
// time without reaching for a mocking library.
var currentTime = func() time.Time { return time.Now() }
