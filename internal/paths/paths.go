// Package paths is the Path Resolver: a pure function from an
// Environment to every config/state/log/code path it owns, with one
// absolute base path per environment rather than one fixed state root.
package paths

import (
	"os"
	"path/filepath"

	"github.com/lakowske/netcore/internal/core"
)

// Paths is the populated set of on-disk locations for one environment.
type Paths struct {
	ConfigDir string
	StateDir  string
	LogsDir   string
	CodeDir   string

	GlobalYAML       string
	UsersYAML        string
	DomainsYAML      string
	EnvironmentsYAML string
	SecretsYAML      string
	ServicesYAML     string

	CertificatesDir string
	MailDir         string
	ApacheAuthDir   string
	DNSZonesDir     string
}

// CertificateDir returns the <state>/certificates/<domain>/ directory for
// the given domain.
func (p Paths) CertificateDir(domain string) string {
	return filepath.Join(p.CertificatesDir, domain)
}

// Resolve computes the canonical Paths for a base path, resolving a
// relative base against the process working directory if it isn't already
// absolute. A relative base_path is frozen to an absolute one the first
// time an environment is loaded; callers that need that freezing behavior
// should persist the returned ConfigDir's root back onto the Environment
// record.
func Resolve(basePath string) (Paths, *core.Error) {
	abs := basePath
	if !filepath.IsAbs(abs) {
		cwd, err := os.Getwd()
		if err != nil {
			return Paths{}, core.New(core.KindPathNotAbsolute,
				"could not resolve working directory to make base_path absolute",
				map[string]any{"base_path": basePath, "error": err.Error()})
		}
		abs = filepath.Join(cwd, abs)
	}
	abs = filepath.Clean(abs)
	if !filepath.IsAbs(abs) {
		return Paths{}, core.New(core.KindPathNotAbsolute,
			"base_path did not resolve to an absolute path", map[string]any{"base_path": basePath})
	}

	configDir := filepath.Join(abs, "config")
	stateDir := filepath.Join(abs, "state")

	return Paths{
		ConfigDir: configDir,
		StateDir:  stateDir,
		LogsDir:   filepath.Join(abs, "logs"),
		CodeDir:   filepath.Join(abs, "code"),

		GlobalYAML:       filepath.Join(configDir, "global.yaml"),
		UsersYAML:        filepath.Join(configDir, "users.yaml"),
		DomainsYAML:      filepath.Join(configDir, "domains.yaml"),
		EnvironmentsYAML: filepath.Join(configDir, "environments.yaml"),
		SecretsYAML:      filepath.Join(configDir, "secrets.yaml"),
		ServicesYAML:     filepath.Join(configDir, "services", "services.yaml"),

		CertificatesDir: filepath.Join(stateDir, "certificates"),
		MailDir:         filepath.Join(stateDir, "mail"),
		ApacheAuthDir:   filepath.Join(stateDir, "apache", "auth"),
		DNSZonesDir:     filepath.Join(stateDir, "dns", "zones"),
	}, nil
}

// CheckDistinct returns a PATH_CONFLICT error if two distinct environment
// names resolve to the same absolute base path.
func CheckDistinct(bases map[string]string) *core.Error {
	seen := make(map[string]string, len(bases))
	for name, base := range bases {
		abs := filepath.Clean(base)
		if owner, ok := seen[abs]; ok {
			return core.New(core.KindPathConflict,
				"two enabled environments resolve to the same absolute base path",
				map[string]any{"base_path": abs, "environments": []string{owner, name}})
		}
		seen[abs] = name
	}
	return nil
}
