// Package mail is the Mail Synchronizer: it projects users.yaml and
// domains.yaml into the flat-file maps Postfix and Dovecot read
// (virtual_domains, virtual_mailboxes, virtual_aliases, dovecot-users)
// and creates each enabled user's mailbox directory. Grounded on the
// teacher's internal/quadlet/generator.go "build one stanza per field,
// sanitize each value" discipline, applied to mail's line-oriented
// formats instead of Quadlet INI, and on internal/deploy/container.go's
// style of projecting typed config into declarative text artifacts.
package mail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/store"
	"github.com/lakowske/netcore/internal/sync"
	"github.com/lakowske/netcore/internal/watch"
)

// ReloadMode tells the mail container how much of its running state to
// refresh. Only virtual_aliases changing is cheap enough for a lookup
// table rebuild; anything touching the user list needs a full reload.
type ReloadMode string

const (
	ReloadModeTableRebuild ReloadMode = "rebuild"
	ReloadModeFull         ReloadMode = "full"
)

const outputFileMode = 0o640

// Synchronizer projects mail-relevant config into Postfix/Dovecot map
// files. ReloadFunc, if set, is invoked after a dirty Apply to tell the
// running mail container to refresh, at the granularity decided by the
// last Plan; a nil ReloadFunc makes Reload a no-op, appropriate for tests
// and for deployments that refresh tables out of band.
type Synchronizer struct {
	paths      paths.Paths
	store      *store.Store
	ReloadFunc func(ctx context.Context, mode ReloadMode) error

	lastMode ReloadMode
}

// New returns a mail Synchronizer rooted at the given environment Paths,
// reading users/domains through st.
func New(envPaths paths.Paths, st *store.Store) *Synchronizer {
	return &Synchronizer{paths: envPaths, store: st}
}

func (s *Synchronizer) Name() string { return "mail" }

func (s *Synchronizer) Channels() []watch.Channel {
	return []watch.Channel{watch.ChannelUsers, watch.ChannelDomains}
}

func (s *Synchronizer) Plan(ctx context.Context) (sync.Plan, error) {
	users, err := s.store.LoadUsers()
	if err != nil {
		return sync.Plan{}, err
	}
	domains, err := s.store.LoadDomains()
	if err != nil {
		return sync.Plan{}, err
	}

	sortedDomains := append([]schema.Domain(nil), domains.Domains...)
	sort.Slice(sortedDomains, func(i, j int) bool { return sortedDomains[i].Name < sortedDomains[j].Name })
	enabledDomains := make(map[string]bool, len(sortedDomains))
	for _, d := range sortedDomains {
		if d.IsEnabled() {
			enabledDomains[d.Name] = true
		}
	}

	sortedUsers := append([]schema.User(nil), users.Users...)
	sort.Slice(sortedUsers, func(i, j int) bool { return sortedUsers[i].Username < sortedUsers[j].Username })

	desired := map[string]string{
		"virtual_domains":   renderVirtualDomains(sortedDomains),
		"virtual_mailboxes": renderVirtualMailboxes(sortedUsers, enabledDomains),
		"virtual_aliases":   renderVirtualAliases(sortedUsers, sortedDomains, enabledDomains),
		"dovecot-users":     renderDovecotUsers(sortedUsers, enabledDomains),
	}

	var changes []sync.FileChange
	changedNonAlias := false
	for _, name := range []string{"virtual_domains", "virtual_mailboxes", "virtual_aliases", "dovecot-users"} {
		path := filepath.Join(s.paths.MailDir, name)
		current, _ := os.ReadFile(path)
		if string(current) == desired[name] {
			continue
		}
		if name != "virtual_aliases" {
			changedNonAlias = true
		}
		changes = append(changes, sync.FileChange{
			Path: path, Action: sync.ActionWrite, Content: []byte(desired[name]), Mode: outputFileMode,
		})
	}

	for _, dir := range mailboxDirs(sortedUsers, enabledDomains, s.paths.MailDir) {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			continue
		}
		changes = append(changes, sync.FileChange{Path: dir, Action: sync.ActionMkdirAll, Mode: 0o750})
	}

	s.lastMode = ReloadModeTableRebuild
	if changedNonAlias {
		s.lastMode = ReloadModeFull
	}

	return sync.Plan{Synchronizer: s.Name(), Changes: changes}, nil
}

func (s *Synchronizer) Apply(ctx context.Context, plan sync.Plan) error {
	return sync.ApplyFiles(plan)
}

func (s *Synchronizer) Reload(ctx context.Context) error {
	if s.ReloadFunc == nil {
		return nil
	}
	return s.ReloadFunc(ctx, s.lastMode)
}

func renderVirtualDomains(domains []schema.Domain) string {
	var b strings.Builder
	for _, d := range domains {
		if !d.IsEnabled() {
			continue
		}
		fmt.Fprintf(&b, "%s OK\n", sanitizeField(d.Name))
	}
	return b.String()
}

// renderVirtualMailboxes emits one line per enabled user/domain pair: each
// domain a user belongs to gets its own mailbox, not an alias.
func renderVirtualMailboxes(users []schema.User, enabledDomains map[string]bool) string {
	var b strings.Builder
	for _, u := range users {
		if !u.IsEnabled() {
			continue
		}
		for _, domain := range u.Domains {
			if !enabledDomains[domain] {
				continue
			}
			fmt.Fprintf(&b, "%s@%s %s\n", sanitizeField(u.Username), sanitizeField(domain), u.MailboxPath(domain))
		}
	}
	return b.String()
}

func mailboxDirs(users []schema.User, enabledDomains map[string]bool, mailDir string) []string {
	var dirs []string
	for _, u := range users {
		if !u.IsEnabled() {
			continue
		}
		for _, domain := range u.Domains {
			if !enabledDomains[domain] {
				continue
			}
			dirs = append(dirs, filepath.Join(mailDir, domain, u.Username))
		}
	}
	return dirs
}

// renderVirtualAliases emits each domain's explicit Aliases entries, plus
// a postmaster@<domain> alias to the first admin user on that domain when
// no alias already claims the postmaster local-part.
func renderVirtualAliases(users []schema.User, domains []schema.Domain, enabledDomains map[string]bool) string {
	var b strings.Builder
	adminByDomain := make(map[string]string)
	for _, u := range users {
		if !u.IsEnabled() || !u.HasRole("admin") {
			continue
		}
		for _, domain := range u.Domains {
			if enabledDomains[domain] && adminByDomain[domain] == "" {
				adminByDomain[domain] = u.Username
			}
		}
	}

	for _, d := range domains {
		if !d.IsEnabled() {
			continue
		}
		aliasNames := make([]string, 0, len(d.Aliases))
		for alias := range d.Aliases {
			aliasNames = append(aliasNames, alias)
		}
		sort.Strings(aliasNames)
		hasPostmaster := false
		for _, alias := range aliasNames {
			target := d.Aliases[alias]
			if alias == "postmaster" {
				hasPostmaster = true
			}
			fmt.Fprintf(&b, "%s@%s %s@%s\n",
				sanitizeField(alias), sanitizeField(d.Name), sanitizeField(target), sanitizeField(d.Name))
		}
		if !hasPostmaster {
			if admin, ok := adminByDomain[d.Name]; ok {
				fmt.Fprintf(&b, "postmaster@%s %s@%s\n", sanitizeField(d.Name), sanitizeField(admin), sanitizeField(d.Name))
			}
		}
	}
	return b.String()
}

func renderDovecotUsers(users []schema.User, enabledDomains map[string]bool) string {
	var b strings.Builder
	for _, u := range users {
		if !u.IsEnabled() {
			continue
		}
		field := passwordField(u)
		if field == "" {
			continue
		}
		for _, domain := range u.Domains {
			if !enabledDomains[domain] {
				continue
			}
			fmt.Fprintf(&b, "%s@%s:%s:::::\n", sanitizeField(u.Username), sanitizeField(domain), field)
		}
	}
	return b.String()
}

// passwordField returns the dovecot-users password field for u: its
// stored sha512-crypt hash if present, else its plain-scheme password
// wrapped in dovecot's {PLAIN} literal scheme, else empty (omitted,
// matching spec's "users without a digest secret are omitted").
func passwordField(u schema.User) string {
	if u.PasswordHashes == nil {
		return ""
	}
	if h, ok := u.PasswordHashes[string(schema.SchemeSHA512Crypt)]; ok && h != "" {
		return "{SHA512-CRYPT}" + h
	}
	if plain, ok := u.PasswordHashes[string(schema.SchemePlain)]; ok && plain != "" {
		return "{PLAIN}" + plain
	}
	return ""
}

// sanitizeField strips characters that would corrupt a Postfix/Dovecot
// map line (whitespace, colons, control characters) out of a value before
// it is written.
func sanitizeField(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == ':' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
