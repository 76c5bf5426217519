package store

import (
	"errors"
	"os"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/schema"
)

// InitializeDefaults creates every config document this environment needs
// with empty-but-valid content, but only for documents that do not already
// exist. Safe to call repeatedly against an already-initialized
// environment: existing documents are left untouched.
func (s *Store) InitializeDefaults(domain, adminEmail string) *core.Error {
	if !exists(s.paths.GlobalYAML) {
		if err := s.SaveGlobal(&schema.GlobalConfig{
			System: schema.GlobalSystem{Domain: domain, AdminEmail: adminEmail, Timezone: "UTC"},
		}); err != nil {
			return err
		}
	}
	if !exists(s.paths.UsersYAML) {
		if err := s.SaveUsers(&schema.UsersDocument{}); err != nil {
			return err
		}
	}
	if !exists(s.paths.DomainsYAML) {
		if err := s.SaveDomains(&schema.DomainsDocument{}); err != nil {
			return err
		}
	}
	if !exists(s.paths.SecretsYAML) {
		if err := s.SaveSecrets(&schema.SecretsDocument{}); err != nil {
			return err
		}
	}
	if !exists(s.paths.ServicesYAML) {
		if err := s.SaveServices(&schema.ServicesDocument{}); err != nil {
			return err
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
