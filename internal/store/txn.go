package store

import (
	"errors"
	"os"
	"sort"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/state"
)

// Txn stages a set of document writes for one atomic commit. Within a
// single Transaction, either every staged document is written or none are:
// if any write in the batch fails, every document written earlier in the
// same batch is restored to its pre-transaction content.
type Txn struct {
	store  *Store
	writes []pendingWrite

	users        *schema.UsersDocument
	domains      *schema.DomainsDocument
	environments *schema.EnvironmentsDocument
}

type pendingWrite struct {
	path string
	data []byte
}

// Transaction runs fn against a fresh Txn and, if fn returns nil, commits
// every document fn staged. If fn returns an error the transaction is
// discarded without touching disk.
func (s *Store) Transaction(fn func(tx *Txn) error) *core.Error {
	tx := &Txn{store: s}
	if err := fn(tx); err != nil {
		return core.New(core.KindIOFatal, "transaction aborted before commit",
			map[string]any{"error": err.Error()})
	}
	return tx.commit()
}

func (tx *Txn) stage(path string, doc any) *core.Error {
	data, err := schema.Emit(doc)
	if err != nil {
		return core.New(core.KindIOFatal, "failed to serialize config document",
			map[string]any{"path": path, "error": err.Error()})
	}
	tx.writes = append(tx.writes, pendingWrite{path: path, data: data})
	return nil
}

func (tx *Txn) SaveUsers(doc *schema.UsersDocument) *core.Error {
	tx.users = doc
	return tx.stage(tx.store.paths.UsersYAML, doc)
}

func (tx *Txn) SaveDomains(doc *schema.DomainsDocument) *core.Error {
	tx.domains = doc
	return tx.stage(tx.store.paths.DomainsYAML, doc)
}

func (tx *Txn) SaveEnvironments(doc *schema.EnvironmentsDocument) *core.Error {
	tx.environments = doc
	return tx.stage(tx.store.paths.EnvironmentsYAML, doc)
}

func (tx *Txn) SaveSecrets(doc *schema.SecretsDocument) *core.Error {
	return tx.stage(tx.store.paths.SecretsYAML, doc)
}

func (tx *Txn) SaveServices(doc *schema.ServicesDocument) *core.Error {
	return tx.stage(tx.store.paths.ServicesYAML, doc)
}

func (tx *Txn) SaveGlobal(doc *schema.GlobalConfig) *core.Error {
	return tx.stage(tx.store.paths.GlobalYAML, doc)
}

type priorState struct {
	path    string
	existed bool
	data    []byte
}

func (tx *Txn) commit() *core.Error {
	if len(tx.writes) == 0 {
		return nil
	}
	if err := tx.validate(); err != nil {
		return err
	}

	// Lock every target path in a fixed order to avoid lock-ordering
	// deadlocks against a concurrent transaction touching the same files.
	sort.Slice(tx.writes, func(i, j int) bool { return tx.writes[i].path < tx.writes[j].path })

	locks := make([]*state.FileLock, 0, len(tx.writes))
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			_ = locks[i].Release()
		}
	}()
	for _, w := range tx.writes {
		lock, err := state.AcquireFileLock(w.path + ".lock")
		if err != nil {
			return core.New(core.KindIOTransient, "failed to acquire lock for transaction commit",
				map[string]any{"path": w.path, "error": err.Error()})
		}
		locks = append(locks, lock)
	}

	priors := make([]priorState, 0, len(tx.writes))
	for _, w := range tx.writes {
		data, err := os.ReadFile(w.path)
		if errors.Is(err, os.ErrNotExist) {
			priors = append(priors, priorState{path: w.path, existed: false})
			continue
		}
		if err != nil {
			return core.New(core.KindIOFatal, "failed to snapshot prior document state before transaction",
				map[string]any{"path": w.path, "error": err.Error()})
		}
		priors = append(priors, priorState{path: w.path, existed: true, data: data})
	}

	applied := 0
	for _, w := range tx.writes {
		if err := tx.store.backupOnce(w.path); err != nil {
			tx.rollback(priors, applied)
			return core.New(core.KindIOFatal, "transaction failed while backing up a document, rolled back",
				map[string]any{"path": w.path, "error": err.Error()})
		}
		if err := atomicWrite(w.path, w.data, permissionsFor(w.path)); err != nil {
			tx.rollback(priors, applied)
			return core.New(core.KindIOFatal, "transaction failed mid-commit, rolled back",
				map[string]any{"path": w.path, "error": err.Error()})
		}
		applied++
	}

	for _, w := range tx.writes {
		tx.store.refreshCache(w.path, w.data)
	}
	return nil
}

// validate checks every staged document against the matching schema
// validator, using the composite new state rather than what's on disk: a
// transaction that stages both Users and Domains validates users against
// the domains it's about to write, not the domains already saved.
func (tx *Txn) validate() *core.Error {
	domains := tx.domains
	if tx.users != nil {
		if domains == nil {
			loaded, err := tx.store.LoadDomains()
			if err != nil {
				return err
			}
			domains = loaded
		}
		if errs := schema.ValidateUsers(tx.users, domains); len(errs) > 0 {
			return errs[0]
		}
	}
	if tx.domains != nil {
		if errs := schema.ValidateDomains(tx.domains); len(errs) > 0 {
			return errs[0]
		}
	}
	if tx.environments != nil {
		if errs := schema.ValidateEnvironments(tx.environments); len(errs) > 0 {
			return errs[0]
		}
	}
	return nil
}

// rollback restores the first n documents written in this commit to their
// pre-transaction content (or removes them if they didn't previously
// exist), undoing a partially-applied batch.
func (tx *Txn) rollback(priors []priorState, n int) {
	for i := 0; i < n; i++ {
		p := priors[i]
		if p.existed {
			_ = atomicWrite(p.path, p.data, permissionsFor(p.path))
		} else {
			_ = os.Remove(p.path)
		}
	}
}
