package certs

import (
	"testing"
	"time"
)

func TestGenerateSelfSigned_ValidityIsOneYear(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, _, notBefore, notAfter, cerr := generateSelfSigned("example.com", nil, KeyAlgorithmRSA2048, now)
	if cerr != nil {
		t.Fatalf("generateSelfSigned failed: %v", cerr)
	}
	if !notBefore.Equal(now) {
		t.Fatalf("expected notBefore == now, got %v", notBefore)
	}
	if got := notAfter.Sub(notBefore); got != selfSignedValidity {
		t.Fatalf("expected validity of %v, got %v", selfSignedValidity, got)
	}
}

func TestDedupeNames_RemovesDuplicatesAndEmpty(t *testing.T) {
	got := dedupeNames([]string{"a.example.com", "", "a.example.com", "b.example.com"})
	want := []string{"a.example.com", "b.example.com"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestAltNamesFromDomain_SkipsRootRecord(t *testing.T) {
	aRecords := map[string]string{"@": "10.0.0.1", "www": "10.0.0.1", "mail": "10.0.0.2"}
	got := altNamesFromDomain("example.com", aRecords)
	if len(got) != 2 {
		t.Fatalf("expected 2 alt names, got %v", got)
	}
	seen := map[string]bool{}
	for _, n := range got {
		seen[n] = true
	}
	if !seen["www.example.com"] || !seen["mail.example.com"] {
		t.Fatalf("expected www/mail alt names, got %v", got)
	}
}
