// Package schema holds the typed, validated records that make up the
// Configuration Management Core's persistent state: GlobalConfig, User,
// Domain, ServiceConfig, Environment, Certificate and SecretBundle. Each
// type is a plain value — none embed live handles — laid out one struct
// per concern, with yaml tags and doc comments only where the field name
// doesn't speak for itself.
package schema

import "time"

// GlobalConfig holds the system-wide settings for one environment. Created
// once per environment and mutated only by explicit user action.
type GlobalConfig struct {
	System GlobalSystem `yaml:"system"`

	// Defaults holds free-form per-service default sections. Unknown keys
	// here are preserved verbatim on round-trip rather than rejected.
	Defaults map[string]map[string]string `yaml:"defaults,omitempty"`

	// Unknown carries any top-level keys this version of the schema does
	// not recognize, so re-emitting a newer document never silently drops
	// data it doesn't understand.
	Unknown map[string]any `yaml:",inline"`
}

type GlobalSystem struct {
	Domain    string `yaml:"domain"`
	AdminEmail string `yaml:"admin_email"`
	Timezone  string `yaml:"timezone"`
}

// PasswordScheme names one of the supported secret hash schemes for a user.
type PasswordScheme string

const (
	SchemePlain      PasswordScheme = "plain"
	SchemeSHA512Crypt PasswordScheme = "sha512-crypt"
)

// DigestScheme returns the scheme name used for a per-realm HTTP digest hash.
func DigestScheme(realm string) PasswordScheme {
	return PasswordScheme("digest-" + realm)
}

// User is a mailbox/auth principal. Invariant: for every domain listed, the
// user implies exactly one mailbox path <mail_state>/<domain>/<username>/.
type User struct {
	Username       string            `yaml:"username"`
	Email          string            `yaml:"email"`
	Domains        []string          `yaml:"domains"`
	Roles          []string          `yaml:"roles,omitempty"`
	MailboxQuota   string            `yaml:"mailbox_quota,omitempty"`
	Enabled        *bool             `yaml:"enabled,omitempty"`
	PasswordHashes map[string]string `yaml:"password_hashes,omitempty"`
}

// IsEnabled returns the effective enabled state, defaulting to true when
// the field was omitted.
func (u User) IsEnabled() bool {
	return u.Enabled == nil || *u.Enabled
}

// HasRole reports whether the user carries the named role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// MailboxPath returns the projection path for this user's mailbox on the
// given domain, relative to the Mail Synchronizer's state directory.
func (u User) MailboxPath(domain string) string {
	return domain + "/" + u.Username + "/"
}

// CertificateMode names how a Domain's TLS material is provisioned.
type CertificateMode string

const (
	CertModeNone       CertificateMode = "none"
	CertModeSelfSigned CertificateMode = "self_signed"
	CertModeACME       CertificateMode = "acme"
)

// Domain is a DNS zone and mail/HTTP routing domain.
type Domain struct {
	Name            string            `yaml:"name"`
	MXRecords       []string          `yaml:"mx_records,omitempty"`
	ARecords        map[string]string `yaml:"a_records,omitempty"`
	Enabled         *bool             `yaml:"enabled,omitempty"`
	CertificateMode CertificateMode   `yaml:"certificate_mode,omitempty"`

	// Aliases maps a mailbox local-part on this domain to the username it
	// forwards to (e.g. "info": "alice"), consumed by the Mail
	// Synchronizer's virtual_aliases projection.
	Aliases map[string]string `yaml:"aliases,omitempty"`
}

func (d Domain) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Port describes one container port the service exposes.
type Port struct {
	ContainerPort int    `yaml:"container_port"`
	Protocol      string `yaml:"protocol"` // tcp | udp

	// DefaultHostPort is the service definition's bundled default host
	// port, the second tier of the Port Allocator's precedence chain
	// (explicit environment mapping > this default > auto-range).
	DefaultHostPort int `yaml:"default_host_port,omitempty"`
}

// ServiceConfig is the immutable definition of one managed container's
// image reference, SSL requirement and declared ports.
type ServiceConfig struct {
	ContainerRef string            `yaml:"container_ref"`
	Image        string            `yaml:"image"`
	SSL          bool              `yaml:"ssl"`
	Ports        []Port            `yaml:"ports,omitempty"`
	Settings     map[string]string `yaml:"settings,omitempty"`

	// GracefulReloadCmd is the in-container command the Reload Coordinator
	// runs via `exec <container> <graceful-cmd>` to apply a changed
	// projection without dropping established connections, e.g.
	// "apachectl graceful" or "postfix reload".
	GracefulReloadCmd string `yaml:"graceful_reload_cmd,omitempty"`
}

// PortMapping binds a container port to a host port for one container in
// one environment.
type PortMapping struct {
	ContainerPort int    `yaml:"container_port"`
	HostPort      int    `yaml:"host_port"`
	Protocol      string `yaml:"protocol"`
}

// Environment is a named, isolated tree of configuration and state under
// one base path. Exactly one Environment may be marked current (tracked by
// the envmgr package, not this struct) and the current environment must be
// enabled.
type Environment struct {
	Name            string                   `yaml:"name"`
	Description     string                   `yaml:"description,omitempty"`
	BasePath        string                   `yaml:"base_path"`
	Domain          string                   `yaml:"domain,omitempty"`
	AdminEmail      string                   `yaml:"admin_email,omitempty"`
	Enabled         bool                     `yaml:"enabled"`
	Tags            []string                 `yaml:"tags,omitempty"`
	CreatedAt       time.Time                `yaml:"created_at"`
	LastUsed        time.Time                `yaml:"last_used,omitempty"`
	CertificateMode CertificateMode          `yaml:"certificate_mode,omitempty"`
	PortMappings    map[string][]PortMapping `yaml:"port_mappings,omitempty"`
}

// Certificate describes the lifecycle state of one domain's TLS material.
// The on-disk triple lives under <state>/certificates/<domain>/.
type Certificate struct {
	Domain            string          `yaml:"domain"`
	Mode              CertificateMode `yaml:"mode"`
	NotBefore         time.Time       `yaml:"not_before"`
	NotAfter          time.Time       `yaml:"not_after"`
	FingerprintSHA256 string          `yaml:"fingerprint_sha256"`
}

// ExpiresWithin reports whether the certificate's remaining validity is
// less than or equal to d, used by the Certificate Manager's 30-day
// renewal-window check.
func (c Certificate) ExpiresWithin(d time.Duration, now time.Time) bool {
	return !c.NotAfter.IsZero() && c.NotAfter.Sub(now) <= d
}

// SecretBundle holds sensitive material distinct from ordinary config:
// plaintext passwords, the ACME account key, the RNDC key. Never emitted
// to logs; see internal/core.Redactor.
type SecretBundle struct {
	Passwords    map[string]string `yaml:"passwords,omitempty"`
	ACMEAccount  string            `yaml:"acme_account_key,omitempty"`
	RNDCKey      string            `yaml:"rndc_key,omitempty"`
}

// Values returns every plaintext secret value held in the bundle, for
// feeding a core.Redactor.
func (s SecretBundle) Values() []string {
	vals := make([]string, 0, len(s.Passwords)+2)
	for _, v := range s.Passwords {
		vals = append(vals, v)
	}
	if s.ACMEAccount != "" {
		vals = append(vals, s.ACMEAccount)
	}
	if s.RNDCKey != "" {
		vals = append(vals, s.RNDCKey)
	}
	return vals
}
