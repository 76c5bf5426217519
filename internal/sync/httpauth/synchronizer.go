// Package httpauth is the HTTP Auth Synchronizer: it projects
// users into per-realm htdigest files the HTTP container's digest-auth
// module reads, building one line per user and sanitizing each field
// before writing htdigest's colon-separated format.
package httpauth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lakowske/netcore/internal/output"
	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/store"
	"github.com/lakowske/netcore/internal/sync"
	"github.com/lakowske/netcore/internal/watch"
)

// DefaultRealm is the realm used for any password_hashes key of exactly
// "digest" with no explicit realm suffix.
const DefaultRealm = "WebDAV Secure Area"

const digestSchemePrefix = "digest-"

const outputFileMode = 0o644

// Synchronizer projects users into htdigest files, one per realm.
// ReloadFunc, if set, is invoked after a dirty Apply unless SkipReload is
// true, in which case the files are still written atomically but the
// container is never asked to reload (used by the test harness).
type Synchronizer struct {
	paths      paths.Paths
	store      *store.Store
	SkipReload bool
	ReloadFunc func(ctx context.Context) error
	Logger     *output.Logger
}

// New returns an HTTP Auth Synchronizer rooted at the given environment
// Paths, reading users through st.
func New(envPaths paths.Paths, st *store.Store) *Synchronizer {
	return &Synchronizer{paths: envPaths, store: st, Logger: output.DefaultLogger}
}

func (s *Synchronizer) Name() string { return "httpauth" }

func (s *Synchronizer) Channels() []watch.Channel {
	return []watch.Channel{watch.ChannelUsers}
}

func (s *Synchronizer) Plan(ctx context.Context) (sync.Plan, error) {
	users, err := s.store.LoadUsers()
	if err != nil {
		return sync.Plan{}, err
	}

	sortedUsers := append([]schema.User(nil), users.Users...)
	sort.Slice(sortedUsers, func(i, j int) bool { return sortedUsers[i].Username < sortedUsers[j].Username })

	byRealm := make(map[string]map[string]string) // realm -> username -> password
	for _, u := range sortedUsers {
		if !u.IsEnabled() {
			continue
		}
		for scheme, password := range u.PasswordHashes {
			realm, ok := realmFor(scheme)
			if !ok || password == "" {
				continue
			}
			if byRealm[realm] == nil {
				byRealm[realm] = make(map[string]string)
			}
			byRealm[realm][u.Username] = password
		}
	}
	for _, u := range sortedUsers {
		if !u.IsEnabled() {
			continue
		}
		if hasAnyDigestSecret(u) {
			continue
		}
		s.log().Warn("user %q has no digest password, omitted from httpauth realms", u.Username)
	}

	realms := make([]string, 0, len(byRealm))
	for realm := range byRealm {
		realms = append(realms, realm)
	}
	sort.Strings(realms)

	var changes []sync.FileChange
	for _, realm := range realms {
		path := filepath.Join(s.paths.ApacheAuthDir, realmFileName(realm))
		content := renderHtdigest(realm, byRealm[realm])
		current, _ := os.ReadFile(path)
		if string(current) == content {
			continue
		}
		changes = append(changes, sync.FileChange{
			Path: path, Action: sync.ActionWrite, Content: []byte(content), Mode: outputFileMode,
		})
	}

	return sync.Plan{Synchronizer: s.Name(), Changes: changes}, nil
}

func (s *Synchronizer) Apply(ctx context.Context, plan sync.Plan) error {
	return sync.ApplyFiles(plan)
}

func (s *Synchronizer) Reload(ctx context.Context) error {
	if s.SkipReload || s.ReloadFunc == nil {
		return nil
	}
	return s.ReloadFunc(ctx)
}

func (s *Synchronizer) log() *output.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return output.DefaultLogger
}

// realmFor maps a User.PasswordHashes scheme key to the realm it projects
// into: "digest-<realm>" names that realm explicitly, and the bare
// "digest" scheme falls back to DefaultRealm.
func realmFor(scheme string) (string, bool) {
	if scheme == "digest" {
		return DefaultRealm, true
	}
	if strings.HasPrefix(scheme, digestSchemePrefix) {
		realm := strings.TrimPrefix(scheme, digestSchemePrefix)
		if realm == "" {
			return DefaultRealm, true
		}
		return realm, true
	}
	return "", false
}

func hasAnyDigestSecret(u schema.User) bool {
	for scheme, password := range u.PasswordHashes {
		if _, ok := realmFor(scheme); ok && password != "" {
			return true
		}
	}
	return false
}

// realmFileName turns a realm name into the <realm>.htdigest file name,
// replacing path-unsafe characters so an operator-chosen realm can never
// escape the apache auth directory.
func realmFileName(realm string) string {
	var b strings.Builder
	for _, r := range realm {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r == '/' || r == '\\' || r == '.' || r < 0x20:
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String() + ".htdigest"
}

func renderHtdigest(realm string, passwords map[string]string) string {
	usernames := make([]string, 0, len(passwords))
	for username := range passwords {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)

	var b strings.Builder
	for _, username := range usernames {
		ha1 := digestHA1(username, realm, passwords[username])
		fmt.Fprintf(&b, "%s:%s:%s\n", sanitizeField(username), sanitizeField(realm), ha1)
	}
	return b.String()
}

// digestHA1 computes RFC 2617's HA1 = MD5(username:realm:password), the
// value Apache's mod_auth_digest stores per htdigest line.
func digestHA1(username, realm, password string) string {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password))
	return hex.EncodeToString(sum[:])
}

func sanitizeField(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == ':' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
