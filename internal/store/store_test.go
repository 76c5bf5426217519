package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	p, cerr := paths.Resolve(base)
	if cerr != nil {
		t.Fatalf("failed to resolve paths: %v", cerr)
	}
	return New(p)
}

func TestLoadUsers_MissingFileReturnsEmptyDocument(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.LoadUsers()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Users) != 0 {
		t.Fatalf("expected empty document, got %v", doc.Users)
	}
}

func TestSaveThenLoadUsers_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	enabled := true
	doc := &schema.UsersDocument{
		Users: []schema.User{
			{Username: "alice", Email: "alice@example.com", Domains: []string{"example.com"}, Enabled: &enabled},
		},
	}
	if err := s.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{{Name: "example.com"}}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := s.SaveUsers(doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := s.LoadUsers()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.Users) != 1 || loaded.Users[0].Username != "alice" {
		t.Fatalf("expected round-tripped alice user, got %v", loaded.Users)
	}
}

func TestSaveUsers_CreatesBackupOnlyOnFirstWrite(t *testing.T) {
	s := newTestStore(t)
	doc := &schema.UsersDocument{Users: []schema.User{{Username: "alice", Domains: []string{"example.com"}}}}

	if err := s.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{{Name: "example.com"}}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := s.SaveUsers(doc); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if _, statErr := os.Stat(s.paths.UsersYAML + ".bak"); !os.IsNotExist(statErr) {
		t.Fatalf("expected no backup after first save (nothing existed before it), got err=%v", statErr)
	}

	doc.Users = append(doc.Users, schema.User{Username: "bob", Domains: []string{"example.com"}})
	if err := s.SaveUsers(doc); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	backup, statErr := os.Stat(s.paths.UsersYAML + ".bak")
	if statErr != nil {
		t.Fatalf("expected a backup to exist after second save: %v", statErr)
	}
	if backup.Size() == 0 {
		t.Fatalf("expected backup to contain the pre-second-save content")
	}

	doc.Users = append(doc.Users, schema.User{Username: "carol", Domains: []string{"example.com"}})
	if err := s.SaveUsers(doc); err != nil {
		t.Fatalf("third save failed: %v", err)
	}
	backupAfterThird, statErr := os.Stat(s.paths.UsersYAML + ".bak")
	if statErr != nil {
		t.Fatalf("expected backup to still exist: %v", statErr)
	}
	if backupAfterThird.ModTime() != backup.ModTime() {
		t.Fatalf("expected backup to only be written once per store lifetime")
	}
}

func TestLoadUsers_CacheInvalidatesOnMtimeChange(t *testing.T) {
	s := newTestStore(t)
	doc := &schema.UsersDocument{Users: []schema.User{{Username: "alice", Domains: []string{"example.com"}}}}
	if err := s.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{{Name: "example.com"}}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := s.SaveUsers(doc); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := s.LoadUsers(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// Bypass the Store entirely to simulate an external editor changing the
	// file; the next Load must observe the new content rather than the
	// process-local cache.
	raw, readErr := os.ReadFile(s.paths.UsersYAML)
	if readErr != nil {
		t.Fatalf("failed to read users.yaml: %v", readErr)
	}
	raw = append(raw, []byte("  - username: dave\n    domains: [example.com]\n")...)
	if err := os.WriteFile(s.paths.UsersYAML, raw, 0o644); err != nil {
		t.Fatalf("failed to rewrite users.yaml: %v", err)
	}

	reloaded, err := s.LoadUsers()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	found := false
	for _, u := range reloaded.Users {
		if u.Username == "dave" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected externally-added user dave to be visible after mtime change, got %v", reloaded.Users)
	}
}

func TestTransaction_AllOrNothing(t *testing.T) {
	s := newTestStore(t)

	// Seed users.yaml with content a failed transaction must restore. The
	// seed is written directly: SaveUsers would reject its domain, and
	// domains.yaml has to stay absent for the last assertion.
	seed := &schema.UsersDocument{Users: []schema.User{{Username: "alice", Domains: []string{"example.com"}}}}
	seedBytes, emitErr := schema.Emit(seed)
	if emitErr != nil {
		t.Fatalf("failed to emit seed: %v", emitErr)
	}
	if err := os.MkdirAll(filepath.Dir(s.paths.UsersYAML), 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(s.paths.UsersYAML, seedBytes, 0o644); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	cerr := s.Transaction(func(tx *Txn) error {
		if err := tx.SaveUsers(&schema.UsersDocument{
			Users: []schema.User{{Username: "changed", Domains: []string{"example.com"}}},
		}); err != nil {
			return err
		}
		if err := tx.SaveDomains(&schema.DomainsDocument{
			Domains: []schema.Domain{{Name: "example.com"}},
		}); err != nil {
			return err
		}
		return errAbort
	})
	if cerr == nil {
		t.Fatalf("expected transaction to report an error")
	}

	afterBytes, readErr := os.ReadFile(s.paths.UsersYAML)
	if readErr != nil {
		t.Fatalf("failed to read users.yaml after aborted transaction: %v", readErr)
	}
	if string(afterBytes) != string(seedBytes) {
		t.Fatalf("expected users.yaml to be untouched by an aborted transaction")
	}
	if _, statErr := os.Stat(s.paths.DomainsYAML); !os.IsNotExist(statErr) {
		t.Fatalf("expected domains.yaml to not exist after an aborted transaction, stat err=%v", statErr)
	}
}

func TestTransaction_CommitsAllDocumentsTogether(t *testing.T) {
	s := newTestStore(t)

	cerr := s.Transaction(func(tx *Txn) error {
		if err := tx.SaveUsers(&schema.UsersDocument{
			Users: []schema.User{{Username: "alice", Domains: []string{"example.com"}}},
		}); err != nil {
			return err
		}
		return tx.SaveDomains(&schema.DomainsDocument{
			Domains: []schema.Domain{{Name: "example.com"}},
		})
	})
	if cerr != nil {
		t.Fatalf("expected transaction to commit, got %v", cerr)
	}

	users, err := s.LoadUsers()
	if err != nil || len(users.Users) != 1 {
		t.Fatalf("expected committed users document, got %v, %v", users, err)
	}
	domains, err := s.LoadDomains()
	if err != nil || len(domains.Domains) != 1 {
		t.Fatalf("expected committed domains document, got %v, %v", domains, err)
	}
}

type abortError struct{}

func (abortError) Error() string { return "aborted" }

var errAbort = abortError{}

func TestAtomicWrite_NeverLeavesTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.yaml")
	if err := atomicWrite(target, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatalf("atomicWrite failed: %v", err)
	}
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("failed to read dir: %v", readErr)
	}
	if len(entries) != 1 || entries[0].Name() != "out.yaml" {
		t.Fatalf("expected only out.yaml in directory, got %v", entries)
	}
}
