// Package store is the Config Store: atomic, cached, per-path-locked
// load/save of the YAML documents under one environment's config
// directory, with a file-size cap and a flock-based exclusive lock per
// config path rather than one process-wide lock file. Documents are parsed
// as read, with no environment-variable expansion.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/fsatomic"
	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/state"
)

// maxConfigFileSize bounds how large a single YAML document may be before
// parsing untrusted config content.
const maxConfigFileSize = 10 << 20 // 10 MiB

type cacheEntry struct {
	modTime time.Time
	size    int64
	data    []byte
}

// Store is the Config Store for one environment. A Store is safe for
// concurrent use by multiple goroutines within one process; cross-process
// mutual exclusion is provided by the per-path lock files acquired during
// Save and Transaction commit.
type Store struct {
	paths paths.Paths

	mu       sync.Mutex
	cache    map[string]cacheEntry
	backedUp map[string]bool
}

// New returns a Store rooted at the given resolved Paths.
func New(p paths.Paths) *Store {
	return &Store{
		paths:    p,
		cache:    make(map[string]cacheEntry),
		backedUp: make(map[string]bool),
	}
}

// LoadUsers reads config/users.yaml, returning an empty document if the
// file does not yet exist.
func (s *Store) LoadUsers() (*schema.UsersDocument, *core.Error) {
	return loadDocument[schema.UsersDocument](s, s.paths.UsersYAML)
}

// SaveUsers validates doc against the current domain set, then writes
// config/users.yaml atomically. Returns a CONFIG_VALIDATE error and
// leaves the file untouched if validation fails.
func (s *Store) SaveUsers(doc *schema.UsersDocument) *core.Error {
	domains, err := s.LoadDomains()
	if err != nil {
		return err
	}
	if errs := schema.ValidateUsers(doc, domains); len(errs) > 0 {
		return errs[0]
	}
	return saveDocument(s, s.paths.UsersYAML, doc)
}

// LoadDomains reads config/domains.yaml.
func (s *Store) LoadDomains() (*schema.DomainsDocument, *core.Error) {
	return loadDocument[schema.DomainsDocument](s, s.paths.DomainsYAML)
}

// SaveDomains validates doc, then writes config/domains.yaml atomically.
func (s *Store) SaveDomains(doc *schema.DomainsDocument) *core.Error {
	if errs := schema.ValidateDomains(doc); len(errs) > 0 {
		return errs[0]
	}
	return saveDocument(s, s.paths.DomainsYAML, doc)
}

// LoadEnvironments reads config/environments.yaml.
func (s *Store) LoadEnvironments() (*schema.EnvironmentsDocument, *core.Error) {
	return loadDocument[schema.EnvironmentsDocument](s, s.paths.EnvironmentsYAML)
}

// SaveEnvironments validates doc, then writes config/environments.yaml
// atomically.
func (s *Store) SaveEnvironments(doc *schema.EnvironmentsDocument) *core.Error {
	if errs := schema.ValidateEnvironments(doc); len(errs) > 0 {
		return errs[0]
	}
	return saveDocument(s, s.paths.EnvironmentsYAML, doc)
}

// LoadSecrets reads config/secrets.yaml.
func (s *Store) LoadSecrets() (*schema.SecretsDocument, *core.Error) {
	return loadDocument[schema.SecretsDocument](s, s.paths.SecretsYAML)
}

// SaveSecrets writes config/secrets.yaml atomically with owner-only
// permissions, since it holds plaintext secret material.
func (s *Store) SaveSecrets(doc *schema.SecretsDocument) *core.Error {
	return saveDocument(s, s.paths.SecretsYAML, doc)
}

// LoadServices reads config/services/services.yaml.
func (s *Store) LoadServices() (*schema.ServicesDocument, *core.Error) {
	return loadDocument[schema.ServicesDocument](s, s.paths.ServicesYAML)
}

// SaveServices writes config/services/services.yaml atomically.
func (s *Store) SaveServices(doc *schema.ServicesDocument) *core.Error {
	return saveDocument(s, s.paths.ServicesYAML, doc)
}

// LoadGlobal reads config/global.yaml.
func (s *Store) LoadGlobal() (*schema.GlobalConfig, *core.Error) {
	return loadDocument[schema.GlobalConfig](s, s.paths.GlobalYAML)
}

// SaveGlobal writes config/global.yaml atomically.
func (s *Store) SaveGlobal(doc *schema.GlobalConfig) *core.Error {
	return saveDocument(s, s.paths.GlobalYAML, doc)
}

// Invalidate drops any cached read for path, forcing the next load to hit
// disk. Used by the File Watcher when it observes an external edit.
func (s *Store) Invalidate(path string) {
	s.mu.Lock()
	delete(s.cache, path)
	s.mu.Unlock()
}

func loadDocument[T any](s *Store, path string) (*T, *core.Error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return new(T), nil
	}
	if err != nil {
		return nil, core.New(core.KindIOTransient, "failed to stat config document",
			map[string]any{"path": path, "error": err.Error()})
	}
	if info.Size() > maxConfigFileSize {
		return nil, core.New(core.KindConfigParse, "config document exceeds maximum allowed size",
			map[string]any{"path": path, "size": info.Size(), "max": int64(maxConfigFileSize)})
	}

	s.mu.Lock()
	cached, hit := s.cache[path]
	s.mu.Unlock()
	if hit && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		var doc T
		if err := schema.Parse(cached.data, &doc); err != nil {
			return nil, core.New(core.KindConfigParse, "failed to parse cached config document",
				map[string]any{"path": path, "error": err.Error()})
		}
		return &doc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.New(core.KindIOTransient, "failed to read config document",
			map[string]any{"path": path, "error": err.Error()})
	}

	var doc T
	if err := schema.Parse(data, &doc); err != nil {
		return nil, core.New(core.KindConfigParse, "failed to parse config document",
			map[string]any{"path": path, "error": err.Error()})
	}

	s.mu.Lock()
	s.cache[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), data: data}
	s.mu.Unlock()

	return &doc, nil
}

func saveDocument[T any](s *Store, path string, doc *T) *core.Error {
	data, err := schema.Emit(doc)
	if err != nil {
		return core.New(core.KindIOFatal, "failed to serialize config document",
			map[string]any{"path": path, "error": err.Error()})
	}

	lockErr := state.WithFileLock(path+".lock", func() error {
		if err := s.backupOnce(path); err != nil {
			return err
		}
		return fsatomic.Write(path, data, permissionsFor(path))
	})
	if lockErr != nil {
		return core.New(core.KindIOFatal, "failed to save config document",
			map[string]any{"path": path, "error": lockErr.Error()})
	}

	s.refreshCache(path, data)
	return nil
}

func (s *Store) refreshCache(path string, data []byte) {
	info, err := os.Stat(path)
	if err != nil {
		s.mu.Lock()
		delete(s.cache, path)
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.cache[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), data: data}
	s.mu.Unlock()
}

// backupOnce copies the existing file at path to path+".bak" the first
// time this Store overwrites an existing file at that path in its
// lifetime, so a session's first mutation is always recoverable but
// repeated saves within the same session don't keep overwriting the
// backup with increasingly-recent state.
func (s *Store) backupOnce(path string) error {
	s.mu.Lock()
	already := s.backedUp[path]
	s.backedUp[path] = true
	s.mu.Unlock()
	if already {
		return nil
	}

	existing, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		delete(s.backedUp, path)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path+".bak", existing, 0o600)
}

// permissionsFor returns the on-disk mode a config document should carry:
// secrets.yaml is owner-only, everything else is group-readable.
func permissionsFor(path string) os.FileMode {
	if filepath.Base(path) == "secrets.yaml" {
		return 0o600
	}
	return 0o644
}

// atomicWrite forwards to the shared fsatomic primitive; kept as a local
// name so its callers in this package (Txn's commit and rollback in
// txn.go) don't need to spell out the package.
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	return fsatomic.Write(path, data, mode)
}
