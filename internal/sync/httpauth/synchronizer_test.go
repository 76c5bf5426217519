package httpauth

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lakowske/netcore/internal/output"
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
	if err := os.MkdirAll(p.ApacheAuthDir, 0o755); err != nil {
		t.Fatalf("failed to create apache auth dir: %v", err)
	}
	if err := store.New(p).SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{{Name: "example.com"}}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	s := New(p, store.New(p))
	s.Logger = output.NewLogger(&bytes.Buffer{}, &bytes.Buffer{}, false)
	return s, p
}

func enabled(b bool) *bool { return &b }

func mustReadPlanFile(t *testing.T, plan sync.Plan, path string) string {
	t.Helper()
	for _, c := range plan.Changes {
		if c.Path == path && c.Action == sync.ActionWrite {
			return string(c.Content)
		}
	}
	t.Fatalf("plan has no write for %q (changes: %+v)", path, plan.Changes)
	return ""
}

func ha1(username, realm, password string) string {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password))
	return hex.EncodeToString(sum[:])
}

func TestPlan_ProjectsUserIntoNamedRealm(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "admin", Domains: []string{"example.com"}, Enabled: enabled(true),
			PasswordHashes: map[string]string{"digest-WebDAV Secure Area": "s3cret"}},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(p.ApacheAuthDir, "WebDAV_Secure_Area.htdigest")
	content := mustReadPlanFile(t, plan, path)
	want := "admin:WebDAV Secure Area:" + ha1("admin", "WebDAV Secure Area", "s3cret") + "\n"
	if content != want {
		t.Fatalf("unexpected htdigest content:\n got:  %q\n want: %q", content, want)
	}
}

func TestPlan_BareDigestSchemeUsesDefaultRealm(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "carol", Domains: []string{"example.com"}, Enabled: enabled(true),
			PasswordHashes: map[string]string{"digest": "hunter2"}},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(p.ApacheAuthDir, "WebDAV_Secure_Area.htdigest")
	content := mustReadPlanFile(t, plan, path)
	if !strings.Contains(content, "carol:"+DefaultRealm+":") {
		t.Fatalf("expected default realm projection, got %q", content)
	}
}

func TestPlan_UserWithoutDigestSecretOmitted(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "admin", Domains: []string{"example.com"}, Enabled: enabled(true),
			PasswordHashes: map[string]string{"digest-realm-a": "s3cret"}},
		{Username: "nodigest", Domains: []string{"example.com"}, Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(p.ApacheAuthDir, "realm-a.htdigest")
	content := mustReadPlanFile(t, plan, path)
	if strings.Contains(content, "nodigest") {
		t.Fatalf("expected user without digest secret to be omitted, got %q", content)
	}
}

func TestPlan_DisabledUserOmittedFromAllRealms(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "gone", Domains: []string{"example.com"}, Enabled: enabled(false),
			PasswordHashes: map[string]string{"digest-realm-a": "s3cret"}},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Dirty() {
		t.Fatalf("expected no realm files when only a disabled user has a digest secret, got %+v", plan.Changes)
	}
}

func TestPlan_MultipleUsersSameRealmSortedByUsername(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "zoe", Domains: []string{"example.com"}, Enabled: enabled(true), PasswordHashes: map[string]string{"digest-realm-a": "pw1"}},
		{Username: "amy", Domains: []string{"example.com"}, Enabled: enabled(true), PasswordHashes: map[string]string{"digest-realm-a": "pw2"}},
	}}); err != nil {
		t.Fatalf("failed to save users: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(p.ApacheAuthDir, "realm-a.htdigest")
	content := mustReadPlanFile(t, plan, path)
	if strings.Index(content, "amy:") > strings.Index(content, "zoe:") {
		t.Fatalf("expected amy before zoe, got %q", content)
	}
}

func TestReload_SkipReloadNeverCallsReloadFunc(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.SkipReload = true
	called := false
	s.ReloadFunc = func(ctx context.Context) error { called = true; return nil }
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatalf("expected SkipReload to suppress ReloadFunc")
	}
}

func TestReload_InvokesReloadFuncWhenNotSkipped(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	called := false
	s.ReloadFunc = func(ctx context.Context) error { called = true; return nil }
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected ReloadFunc to be invoked")
	}
}

func TestApply_WritesFileAtomically(t *testing.T) {
	s, p := newTestSynchronizer(t)
	st := store.New(p)
	if err := st.SaveUsers(&schema.UsersDocument{Users: []schema.User{
		{Username: "admin", Domains: []string{"example.com"}, Enabled: enabled(true), PasswordHashes: map[string]string{"digest-realm-a": "s3cret"}},
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

	entries, err := os.ReadDir(p.ApacheAuthDir)
	if err != nil {
		t.Fatalf("failed to read apache auth dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("expected no leftover temp file, found %q", e.Name())
		}
	}
}
