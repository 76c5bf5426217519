package cli

import (
	"context"
	"testing"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/testutil"
)

func testEnvWithServices(services map[string]schema.ServiceConfig) *env {
	return &env{
		name:     "testing",
		rec:      testutil.MinimalEnvironment("/tmp/unused"),
		services: services,
	}
}

func TestResolveService_ReturnsDeclaredService(t *testing.T) {
	svc := testutil.MinimalServiceConfig("apache")
	e := testEnvWithServices(map[string]schema.ServiceConfig{"apache": svc})

	got, cerr := e.resolveService("apache")
	if cerr != nil {
		t.Fatalf("resolveService failed: %v", cerr)
	}
	if got.ContainerRef != "apache" {
		t.Fatalf("expected apache, got %q", got.ContainerRef)
	}
}

func TestResolveService_UnknownServiceYieldsConfigValidate(t *testing.T) {
	e := testEnvWithServices(map[string]schema.ServiceConfig{})

	_, cerr := e.resolveService("ghost")
	if cerr == nil {
		t.Fatalf("expected an error for an unknown service")
	}
	if cerr.Kind != core.KindConfigValidate {
		t.Fatalf("expected KindConfigValidate, got %v", cerr.Kind)
	}
}

func TestServiceList_ReturnsEveryRegisteredService(t *testing.T) {
	e := testEnvWithServices(map[string]schema.ServiceConfig{
		"apache": testutil.MinimalServiceConfig("apache"),
		"mail":   testutil.MinimalServiceConfig("mail"),
		"dns":    testutil.MinimalServiceConfig("dns"),
	})

	got := e.serviceList()
	if len(got) != 3 {
		t.Fatalf("expected 3 services, got %d", len(got))
	}
}

func TestCertificateFor_NonSSLServiceSkipsCertLookup(t *testing.T) {
	e := testEnvWithServices(nil)
	svc := testutil.MinimalServiceConfig("mail")

	cert, cerr := e.certificateFor(context.Background(), svc)
	if cerr != nil {
		t.Fatalf("certificateFor failed: %v", cerr)
	}
	if cert != nil {
		t.Fatalf("expected a nil certificate for a non-SSL service, got %+v", cert)
	}
}
