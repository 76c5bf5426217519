package mail

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/store"
	"github.com/lakowske/netcore/internal/sync"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, paths.Paths) {
	t.Helper()
	base := t.TempDir()
	p, cerr := paths.Resolve(base)
	if cerr != nil {
		t.Fatalf("failed to resolve paths: %v", cerr)
	}
	if err := os.MkdirAll(p.MailDir, 0o755); err != nil {
		t.Fatalf("failed to create mail dir: %v", err)
	}
	return New(p, store.New(p)), p
}

func enabled(b bool) *bool { return &b }

func readPlanFile(t *testing.T, plan sync.Plan, name string) (string, bool) {
	t.Helper()
	for _, c := range plan.Changes {
		if filepath.Base(c.Path) == name && c.Action == sync.ActionWrite {
			return string(c.Content), true
		}
	}
	return "", false
}

func mustReadPlanFile(t *testing.T, plan sync.Plan, name string) string {
	t.Helper()
	content, ok := readPlanFile(t, plan, name)
	if !ok {
		t.Fatalf("plan has no write for %q", name)
	}
	return content
}

func TestPlan_ProjectsEnabledDomainsOnly(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "active.example", Enabled: enabled(true)},
		{Name: "disabled.example", Enabled: enabled(false)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := mustReadPlanFile(t, plan, "virtual_domains")
	if !strings.Contains(content, "active.example OK") {
		t.Fatalf("expected active.example in virtual_domains, got %q", content)
	}
	if strings.Contains(content, "disabled.example") {
		t.Fatalf("did not expect disabled.example in virtual_domains, got %q", content)
	}
}

func TestPlan_UserGetsOneMailboxPerEnabledDomain(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "first.example", Enabled: enabled(true)},
		{Name: "second.example", Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "alice", Domains: []string{"first.example", "second.example"}, Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mailboxes := mustReadPlanFile(t, plan, "virtual_mailboxes")
	if !strings.Contains(mailboxes, "alice@first.example first.example/alice/") {
		t.Fatalf("expected mailbox on first.example, got %q", mailboxes)
	}
	if !strings.Contains(mailboxes, "alice@second.example second.example/alice/") {
		t.Fatalf("expected mailbox on second.example too, got %q", mailboxes)
	}

	foundFirst, foundSecond := false, false
	for _, c := range plan.Changes {
		if c.Action != sync.ActionMkdirAll {
			continue
		}
		if strings.Contains(c.Path, filepath.Join("first.example", "alice")) {
			foundFirst = true
		}
		if strings.Contains(c.Path, filepath.Join("second.example", "alice")) {
			foundSecond = true
		}
	}
	if !foundFirst || !foundSecond {
		t.Fatalf("expected mailbox directories created for both domains")
	}
}

func TestPlan_DisabledUserProjectsNothing(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "bob", Domains: []string{"example.com"}, Enabled: enabled(false)},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content, ok := readPlanFile(t, plan, "virtual_mailboxes"); ok && strings.Contains(content, "bob") {
		t.Fatalf("expected disabled user to be absent from virtual_mailboxes, got %q", content)
	}
	for _, c := range plan.Changes {
		if c.Action == sync.ActionMkdirAll && strings.Contains(c.Path, "bob") {
			t.Fatalf("expected no mailbox directory for disabled user, got %q", c.Path)
		}
	}
}

func TestPlan_PlainPasswordUsesPlainScheme(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "local.dev", Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "admin", Domains: []string{"local.dev"}, Enabled: enabled(true),
			PasswordHashes: map[string]string{string(schema.SchemePlain): "s3cret"}},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := mustReadPlanFile(t, plan, "dovecot-users")
	if content != "admin@local.dev:{PLAIN}s3cret:::::\n" {
		t.Fatalf("unexpected dovecot-users content: %q", content)
	}
	for _, c := range plan.Changes {
		if filepath.Base(c.Path) == "dovecot-users" && c.Mode != 0o640 {
			t.Fatalf("expected dovecot-users mode 0640, got %v", c.Mode)
		}
	}
}

func TestPlan_UserWithoutPasswordOmittedFromDovecotUsers(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "nopass", Domains: []string{"example.com"}, Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content, ok := readPlanFile(t, plan, "dovecot-users"); ok && content != "" {
		t.Fatalf("expected no dovecot-users content for passwordless user, got %q", content)
	}
}

func TestPlan_AdminGetsPostmasterAliasWhenNoneExplicit(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "root", Domains: []string{"example.com"}, Enabled: enabled(true), Roles: []string{"admin"}},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	aliases := mustReadPlanFile(t, plan, "virtual_aliases")
	if !strings.Contains(aliases, "postmaster@example.com root@example.com") {
		t.Fatalf("expected auto postmaster alias, got %q", aliases)
	}
}

func TestPlan_ExplicitPostmasterAliasSuppressesAutoAlias(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true), Aliases: map[string]string{"postmaster": "ops"}},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "root", Domains: []string{"example.com"}, Enabled: enabled(true), Roles: []string{"admin"}},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	aliases := mustReadPlanFile(t, plan, "virtual_aliases")
	if !strings.Contains(aliases, "postmaster@example.com ops@example.com") {
		t.Fatalf("expected explicit postmaster alias to win, got %q", aliases)
	}
	if strings.Contains(aliases, "root@example.com") {
		t.Fatalf("did not expect an auto alias once postmaster is explicit, got %q", aliases)
	}
}

func TestPlan_IsIdempotentOnceApplied(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "dave", Domains: []string{"example.com"}, Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.Dirty() {
		t.Fatalf("expected first plan to be dirty")
	}
	if err := s.Apply(context.Background(), plan); err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}

	second, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Dirty() {
		t.Fatalf("expected reconciled plan to be clean, got changes: %+v", second.Changes)
	}
}

func TestReload_OnlyAliasChangeRequestsTableRebuild(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "erin", Domains: []string{"example.com"}, Enabled: enabled(true), Roles: []string{"admin"}},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Apply(context.Background(), plan); err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}

	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true), Aliases: map[string]string{"info": "erin"}},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}

	plan2, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan2.Dirty() {
		t.Fatalf("expected alias-only change to be dirty")
	}
	if err := s.Apply(context.Background(), plan2); err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}

	var gotMode ReloadMode
	s.ReloadFunc = func(ctx context.Context, mode ReloadMode) error {
		gotMode = mode
		return nil
	}
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}
	if gotMode != ReloadModeTableRebuild {
		t.Fatalf("expected table rebuild reload mode, got %q", gotMode)
	}
}

func TestReload_NoReloadFuncIsNoOp(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("expected nil ReloadFunc to be a no-op, got %v", err)
	}
}
