package cli

import (
	"context"
	"os"
	"time"

	"github.com/lakowske/netcore/internal/certs"
	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/events"
	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/ports"
	"github.com/lakowske/netcore/internal/reload"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/store"
	"github.com/lakowske/netcore/internal/supervisor"
	"github.com/lakowske/netcore/internal/sync"
	"github.com/lakowske/netcore/internal/sync/dns"
	"github.com/lakowske/netcore/internal/sync/httpauth"
	"github.com/lakowske/netcore/internal/sync/mail"
	"github.com/lakowske/netcore/internal/transport"
)

// autoRange is the shared automatic host-port assignment range used when
// neither an explicit environment mapping nor a service default applies.
// Every environment draws from the same 8100-8999 range and relies on the
// explicit/default tiers above it plus live port probing to stay
// conflict-free.
var autoRange = ports.Range{Start: 8100, End: 8999}

// env bundles every handle one environment-scoped command needs, built
// fresh per invocation so no command holds state across cobra runs.
type env struct {
	name  string
	rec   schema.Environment
	paths paths.Paths
	bus   *events.Bus
	store *store.Store

	services   map[string]schema.ServiceConfig
	supervisor *supervisor.Supervisor
	reload     *reload.Coordinator
	certs      *certs.Manager
	ports      *ports.Allocator
	registry   *sync.Registry
	reconciler *sync.Reconciler
}

// bootstrapEnv resolves --env (or the current environment), loads its
// Environment record and builds every domain object a command needs
// against it. Dialing out to the container runtime only happens the first
// time a command actually calls Execute.
func bootstrapEnv() (*env, *core.Error) {
	mgr, bus, cerr := rootEnvManager()
	if cerr != nil {
		return nil, cerr
	}

	name, cerr := resolveEnvName(mgr)
	if cerr != nil {
		return nil, cerr
	}

	rec, cerr := mgr.Info(name)
	if cerr != nil {
		return nil, cerr
	}

	envPaths, cerr := paths.Resolve(rec.BasePath)
	if cerr != nil {
		return nil, cerr
	}

	st := store.New(envPaths)

	global, cerr := st.LoadGlobal()
	if cerr != nil {
		return nil, cerr
	}

	svcDoc, cerr := st.LoadServices()
	if cerr != nil {
		return nil, cerr
	}

	tc := transport.NewClient(&transport.Config{
		User:           "root",
		Port:           22,
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 30 * time.Second,
	})

	runtimeBin := os.Getenv("CONTAINER_CMD")
	if runtimeBin == "" {
		runtimeBin = "podman"
	}

	alloc := ports.New(autoRange)
	sup := supervisor.New(envPaths, *rec, alloc, tc, "localhost", runtimeBin)
	coord := reload.New(tc, "localhost", runtimeBin)

	acmeCfg := certs.ACMEConfig{AccountEmail: global.System.AdminEmail}
	certMgr := certs.New(envPaths, st, bus, acmeCfg)

	registry := sync.NewRegistry()

	mailSync := mail.New(envPaths, st)
	mailSync.ReloadFunc = reloadContainerFunc(sup, coord, svcDoc.Services, "mail")
	registry.Register(mailSync)

	httpauthSync := httpauth.New(envPaths, st)
	httpauthSync.ReloadFunc = reloadContainerFuncSimple(sup, coord, svcDoc.Services, "apache")
	registry.Register(httpauthSync)

	dnsSync := dns.New(envPaths, st)
	dnsSync.ReloadFunc = reloadContainerFuncSimple(sup, coord, svcDoc.Services, "dns")
	registry.Register(dnsSync)

	reconciler := sync.NewReconciler(registry, false)

	// A certificate issuance or renewal during this invocation (e.g. from
	// "container run" provisioning a cert on first use) should reach the
	// mail and http projections without the operator running "config sync"
	// by hand.
	bus.Subscribe(func(e events.Event) {
		switch e.Kind {
		case events.KindCertificateIssued, events.KindCertificateRenewed:
			reconciler.Reconcile(context.Background())
		}
	})

	return &env{
		name:       name,
		rec:        *rec,
		paths:      envPaths,
		bus:        bus,
		store:      st,
		services:   svcDoc.Services,
		supervisor: sup,
		reload:     coord,
		certs:      certMgr,
		ports:      alloc,
		registry:   registry,
		reconciler: reconciler,
	}, nil
}

// reloadContainerFuncSimple adapts the Reload Coordinator to the
// httpauth/dns Synchronizer's context-only ReloadFunc shape, resolving
// containerRef's graceful-reload command from its ServiceConfig.
func reloadContainerFuncSimple(sup *supervisor.Supervisor, coord *reload.Coordinator, services map[string]schema.ServiceConfig, containerRef string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		svc, ok := services[containerRef]
		if !ok || svc.GracefulReloadCmd == "" {
			return nil
		}
		if cerr := coord.RequestReload(ctx, sup.ContainerName(svc), svc.GracefulReloadCmd, false); cerr != nil {
			return cerr
		}
		return nil
	}
}

// reloadContainerFunc adapts the Reload Coordinator to the mail
// Synchronizer's mode-aware ReloadFunc shape. Every mail reload mode maps
// to the same graceful reload command; the mode distinction only changes
// which files the Synchronizer's own Apply step wrote beforehand.
func reloadContainerFunc(sup *supervisor.Supervisor, coord *reload.Coordinator, services map[string]schema.ServiceConfig, containerRef string) func(ctx context.Context, mode mail.ReloadMode) error {
	return func(ctx context.Context, mode mail.ReloadMode) error {
		svc, ok := services[containerRef]
		if !ok || svc.GracefulReloadCmd == "" {
			return nil
		}
		if cerr := coord.RequestReload(ctx, sup.ContainerName(svc), svc.GracefulReloadCmd, false); cerr != nil {
			return cerr
		}
		return nil
	}
}
