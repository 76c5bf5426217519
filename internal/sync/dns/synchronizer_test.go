package dns

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/store"
	"github.com/lakowske/netcore/internal/sync"
)

func newTestSynchronizer(t *testing.T, clock time.Time) (*Synchronizer, paths.Paths) {
	t.Helper()
	base := t.TempDir()
	p, cerr := paths.Resolve(base)
	if cerr != nil {
		t.Fatalf("failed to resolve paths: %v", cerr)
	}
	if err := os.MkdirAll(p.DNSZonesDir, 0o755); err != nil {
		t.Fatalf("failed to create dns zones dir: %v", err)
	}
	s := New(p, store.New(p))
	s.ZoneCheckCmd = "" // force the miekg/dns parser fallback in tests
	s.now = func() time.Time { return clock }
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

func TestPlan_FreshDomainGetsDateSerial(t *testing.T) {
	clock := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s, p := newTestSynchronizer(t, clock)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true), MXRecords: []string{"mail.example.com"}},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := mustReadPlanFile(t, plan, filepath.Join(p.DNSZonesDir, "db.example.com.zone"))
	if !strings.Contains(content, "2026073001 ; serial") {
		t.Fatalf("expected date-prefixed serial, got %q", content)
	}
	if !strings.Contains(content, "mail.example.com") {
		t.Fatalf("expected MX record, got %q", content)
	}
}

func TestPlan_SerialMonotonicAcrossSameDayEdits(t *testing.T) {
	clock := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s, p := newTestSynchronizer(t, clock)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true), MXRecords: []string{"mail.example.com"}},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Apply(context.Background(), plan); err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}

	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true), MXRecords: []string{"mail2.example.com"}},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}
	plan2, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := mustReadPlanFile(t, plan2, filepath.Join(p.DNSZonesDir, "db.example.com.zone"))
	if !strings.Contains(content, "2026073002 ; serial") {
		t.Fatalf("expected serial to increment within the same day, got %q", content)
	}
}

func TestPlan_DisabledDomainProducesNoZoneFile(t *testing.T) {
	clock := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s, p := newTestSynchronizer(t, clock)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "off.example", Enabled: enabled(false)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Dirty() {
		t.Fatalf("expected disabled domain to produce no changes, got %+v", plan.Changes)
	}
}

func TestPlan_ARecordsProduceReverseZone(t *testing.T) {
	clock := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s, p := newTestSynchronizer(t, clock)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true), ARecords: map[string]string{
			"www": "192.0.2.10",
			"mail": "192.0.2.20",
		}},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := mustReadPlanFile(t, plan, filepath.Join(p.DNSZonesDir, "db.example.com.rev"))
	if !strings.Contains(content, "10 IN PTR www.example.com.") {
		t.Fatalf("expected PTR record for www, got %q", content)
	}
	if !strings.Contains(content, "20 IN PTR mail.example.com.") {
		t.Fatalf("expected PTR record for mail, got %q", content)
	}
}

func TestPlan_NoARecordsProducesNoReverseZone(t *testing.T) {
	clock := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s, p := newTestSynchronizer(t, clock)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "example.com", Enabled: enabled(true)},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}

	plan, err := s.Plan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range plan.Changes {
		if strings.HasSuffix(c.Path, ".rev") {
			t.Fatalf("expected no reverse zone without A records, got %q", c.Path)
		}
	}
}

func TestPlan_InvalidARecordValueRejectedByValidator(t *testing.T) {
	clock := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s, p := newTestSynchronizer(t, clock)
	st := store.New(p)
	if err := st.SaveDomains(&schema.DomainsDocument{Domains: []schema.Domain{
		{Name: "broken.example", Enabled: enabled(true), ARecords: map[string]string{"www": "not an ip"}},
	}}); err != nil {
		t.Fatalf("failed to save domains: %v", err)
	}

	if _, err := s.Plan(context.Background()); err == nil {
		t.Fatalf("expected invalid A record value to fail zone validation")
	}
}

func TestParseSerial_ToleratesGarbageContent(t *testing.T) {
	if serial, ok := parseSerial([]byte("this is not a zone file\n")); ok {
		t.Fatalf("expected no SOA parsed from garbage content, got %d", serial)
	}
}

func TestNextSerial_FallsBackToDateFloorWhenNoPriorFile(t *testing.T) {
	clock := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	s, p := newTestSynchronizer(t, clock)
	serial, err := s.nextSerial(filepath.Join(p.DNSZonesDir, "db.missing.example.zone"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := strconv.ParseUint("2026010501", 10, 32)
	if serial != uint32(want) {
		t.Fatalf("expected date-floor serial %d, got %d", want, serial)
	}
}
