package schema

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/lakowske/netcore/internal/core"
)

// fieldError builds a field + message pair into a core.Error tagged
// CONFIG_VALIDATE so it carries a stable kind.
func fieldError(path, rule, message string) *core.Error {
	return core.New(core.KindConfigValidate, message, map[string]any{
		"path": path,
		"rule": rule,
	})
}

var (
	dnsLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	fqdnPattern     = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
)

// IsValidFQDN checks a fully-qualified domain name.
func IsValidFQDN(s string) bool {
	s = strings.TrimSuffix(s, ".")
	return fqdnPattern.MatchString(strings.ToLower(s))
}

// IsValidEmail checks an RFC-5322 address.
func IsValidEmail(s string) bool {
	_, err := mail.ParseAddress(s)
	return err == nil
}

// IsDNSLabelSafe checks that s is usable as a single DNS label (used for
// usernames, which double as local-parts and mailbox directory names).
func IsDNSLabelSafe(s string) bool {
	return dnsLabelPattern.MatchString(strings.ToLower(s))
}

// ValidateUsers runs the unique_usernames, email_format and
// user_domains_exist rules over a UsersDocument against a DomainsDocument.
func ValidateUsers(users *UsersDocument, domains *DomainsDocument) core.Errors {
	var errs core.Errors
	seen := make(map[string]bool, len(users.Users))

	domainNames := make(map[string]bool, len(domains.Domains))
	for _, d := range domains.Domains {
		domainNames[d.Name] = true
	}

	for i, u := range users.Users {
		path := fmt.Sprintf("users[%d]", i)

		if u.Username == "" {
			errs = append(errs, fieldError(path+".username", "required", "username is required"))
		} else if !IsDNSLabelSafe(u.Username) {
			errs = append(errs, fieldError(path+".username", "dns_label_safe",
				fmt.Sprintf("username %q must be lowercase and DNS-label-safe", u.Username)))
		} else if seen[u.Username] {
			errs = append(errs, fieldError(path+".username", "unique_usernames",
				fmt.Sprintf("duplicate username %q", u.Username)))
		}
		seen[u.Username] = true

		if u.Email != "" && !IsValidEmail(u.Email) {
			errs = append(errs, fieldError(path+".email", "email_format",
				fmt.Sprintf("invalid email address %q", u.Email)))
		}

		if len(u.Domains) == 0 {
			errs = append(errs, fieldError(path+".domains", "required", "at least one domain is required"))
		}
		for j, domain := range u.Domains {
			if !domainNames[domain] {
				errs = append(errs, fieldError(fmt.Sprintf("%s.domains[%d]", path, j), "user_domains_exist",
					fmt.Sprintf("domain %q is not defined in domains.yaml", domain)))
			}
		}
	}

	return errs
}

// ValidateDomains runs fqdn_format and mx_targets_resolve over a
// DomainsDocument.
func ValidateDomains(domains *DomainsDocument) core.Errors {
	var errs core.Errors
	seen := make(map[string]bool, len(domains.Domains))

	// Build the set of every a_record FQDN across all domains, since an MX
	// target may point at a short name under any domain in the document.
	resolvable := make(map[string]bool)
	for _, d := range domains.Domains {
		for short := range d.ARecords {
			resolvable[short+"."+d.Name] = true
		}
	}

	for i, d := range domains.Domains {
		path := fmt.Sprintf("domains[%d]", i)

		if d.Name == "" {
			errs = append(errs, fieldError(path+".name", "required", "domain name is required"))
		} else if !IsValidFQDN(d.Name) {
			errs = append(errs, fieldError(path+".name", "fqdn_format", fmt.Sprintf("invalid FQDN %q", d.Name)))
		} else if seen[d.Name] {
			errs = append(errs, fieldError(path+".name", "unique_domains", fmt.Sprintf("duplicate domain %q", d.Name)))
		}
		seen[d.Name] = true

		for j, mx := range d.MXRecords {
			if resolvable[mx] {
				continue
			}
			if IsValidFQDN(mx) {
				// A literal external FQDN is accepted even when it does not
				// resolve locally. Since this schema has no separate external
				// flag, any syntactically valid FQDN not found locally is
				// treated as external.
				continue
			}
			errs = append(errs, fieldError(fmt.Sprintf("%s.mx_records[%d]", path, j), "mx_targets_resolve",
				fmt.Sprintf("MX target %q does not resolve to any a_records entry", mx)))
		}

		switch d.CertificateMode {
		case "", CertModeNone, CertModeSelfSigned, CertModeACME:
		default:
			errs = append(errs, fieldError(path+".certificate_mode", "enum",
				fmt.Sprintf("unknown certificate_mode %q", d.CertificateMode)))
		}
	}

	return errs
}

// ValidateEnvironments runs the Environment invariants: exactly one
// current (tracked by the document's Current field), the current
// environment must be enabled, base_path must be absolute and distinct.
func ValidateEnvironments(doc *EnvironmentsDocument) core.Errors {
	var errs core.Errors
	bases := make(map[string]string)

	for i, e := range doc.Environments {
		path := fmt.Sprintf("environments[%d]", i)

		if e.Name == "" {
			errs = append(errs, fieldError(path+".name", "required", "environment name is required"))
		} else if !regexp.MustCompile(`^[a-z][a-z0-9-]*$`).MatchString(e.Name) {
			errs = append(errs, fieldError(path+".name", "name_format",
				fmt.Sprintf("environment name %q must match [a-z][a-z0-9-]*", e.Name)))
		}

		if e.BasePath == "" || e.BasePath[0] != '/' {
			errs = append(errs, core.New(core.KindPathNotAbsolute,
				fmt.Sprintf("base_path for environment %q must be absolute", e.Name),
				map[string]any{"path": path + ".base_path"}))
		} else if owner, conflict := bases[e.BasePath]; conflict {
			errs = append(errs, core.New(core.KindPathConflict,
				fmt.Sprintf("environments %q and %q both resolve to base_path %q", owner, e.Name, e.BasePath),
				map[string]any{"path": path + ".base_path"}))
		} else {
			bases[e.BasePath] = e.Name
		}
	}

	if doc.Current != "" {
		env, ok := doc.FindEnvironment(doc.Current)
		if !ok {
			errs = append(errs, core.New(core.KindEnvNotFound,
				fmt.Sprintf("current_environment %q is not defined", doc.Current), nil))
		} else if !env.Enabled {
			errs = append(errs, core.New(core.KindEnvNotEnabled,
				fmt.Sprintf("current_environment %q is not enabled", doc.Current), nil))
		}
	}

	return errs
}

// ValidatePorts checks that every PortMapping has a sane port range and
// protocol.
func ValidatePorts(mappings []PortMapping, pathPrefix string) core.Errors {
	var errs core.Errors
	for i, m := range mappings {
		path := fmt.Sprintf("%s[%d]", pathPrefix, i)
		if m.ContainerPort < 1 || m.ContainerPort > 65535 {
			errs = append(errs, fieldError(path+".container_port", "port_ranges",
				fmt.Sprintf("container_port %d out of range", m.ContainerPort)))
		}
		if m.HostPort < 1 || m.HostPort > 65535 {
			errs = append(errs, fieldError(path+".host_port", "port_ranges",
				fmt.Sprintf("host_port %d out of range", m.HostPort)))
		}
		switch strings.ToLower(m.Protocol) {
		case "tcp", "udp", "":
		default:
			errs = append(errs, fieldError(path+".protocol", "port_ranges",
				fmt.Sprintf("unknown protocol %q", m.Protocol)))
		}
	}
	return errs
}
