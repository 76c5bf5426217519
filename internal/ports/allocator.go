// Package ports is the Port Allocator: resolves the host port for a
// given (environment, container, container_port, protocol), and probes
// for conflicts before a container starts, following an
// explicit-mapping/default/auto-range precedence chain per
// (environment, container, container_port).
package ports

import (
	"fmt"
	"net"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/schema"
)

// Range is the per-environment automatic allocation range, e.g.
// 8100-8999 for the default installation.
type Range struct {
	Start int
	End   int
}

// Allocator resolves host ports per the explicit > default > auto-range
// precedence chain and probes for conflicts.
type Allocator struct {
	autoRange Range
	// probe reports whether hostPort is currently bound on this host.
	// Overridable in tests to avoid binding real sockets.
	probe func(hostPort int, protocol string) (bound bool, err error)
}

// New returns an Allocator whose auto-range fallback is autoRange.
func New(autoRange Range) *Allocator {
	return &Allocator{autoRange: autoRange, probe: probeSystemPort}
}

// Resolve returns the host port for containerRef's port in env, following
// the precedence chain: explicit env.PortMappings entry, then
// port.DefaultHostPort, then the first free port in the auto-range.
func (a *Allocator) Resolve(env schema.Environment, containerRef string, port schema.Port) (int, *core.Error) {
	if mappings, ok := env.PortMappings[containerRef]; ok {
		for _, m := range mappings {
			if m.ContainerPort == port.ContainerPort && m.Protocol == port.Protocol {
				return m.HostPort, nil
			}
		}
	}

	if port.DefaultHostPort != 0 {
		return port.DefaultHostPort, nil
	}

	return a.autoAssign(port)
}

// autoAssign scans the auto-range deterministically starting from an
// offset derived from the container port, returning the first port not
// currently bound on this host.
func (a *Allocator) autoAssign(port schema.Port) (int, *core.Error) {
	if a.autoRange.Start <= 0 || a.autoRange.End < a.autoRange.Start {
		return 0, core.New(core.KindConfigValidate, "no auto-allocation range configured for this environment",
			map[string]any{"container_port": port.ContainerPort})
	}

	span := a.autoRange.End - a.autoRange.Start + 1
	offset := port.ContainerPort % span

	for i := 0; i < span; i++ {
		candidate := a.autoRange.Start + (offset+i)%span
		bound, err := a.probe(candidate, port.Protocol)
		if err != nil {
			return 0, core.New(core.KindRuntimeError, "failed to probe candidate port",
				map[string]any{"port": candidate, "error": err.Error()})
		}
		if !bound {
			return candidate, nil
		}
	}

	return 0, core.New(core.KindPortConflict, "no free host port available in auto-allocation range",
		map[string]any{"range_start": a.autoRange.Start, "range_end": a.autoRange.End})
}

// ConflictKind names what owns a host port already bound at start time.
type ConflictKind int

const (
	// ConflictNone means the port is free.
	ConflictNone ConflictKind = iota
	// ConflictOwnedByEnvironment means another environment-tagged
	// container already owns the port — a recoverable PORT_CONFLICT.
	ConflictOwnedByEnvironment
	// ConflictOwnedExternally means an unrelated process holds the port —
	// fatal unless --force-port is passed.
	ConflictOwnedExternally
)

// CheckConflict probes hostPort and classifies what, if anything, holds
// it. ownedByThisEnv is the caller's (the Supervisor's, via the container
// runtime's `ps`) verdict that an environment-tagged container holds the
// port; a bound port with ownedByThisEnv set is classified as
// ConflictOwnedByEnvironment rather than an external process.
func (a *Allocator) CheckConflict(hostPort int, protocol string, ownedByThisEnv bool) (ConflictKind, *core.Error) {
	bound, err := a.probe(hostPort, protocol)
	if err != nil {
		return ConflictNone, core.New(core.KindRuntimeError, "failed to probe host port",
			map[string]any{"port": hostPort, "error": err.Error()})
	}
	if !bound {
		return ConflictNone, nil
	}
	if ownedByThisEnv {
		return ConflictOwnedByEnvironment, nil
	}
	return ConflictOwnedExternally, nil
}

// probeSystemPort reports whether hostPort is currently bound by
// attempting to listen on it; failing to listen means something else
// already holds it.
func probeSystemPort(hostPort int, protocol string) (bool, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", hostPort)
	switch protocol {
	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return true, nil
		}
		_ = conn.Close()
		return false, nil
	default:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return true, nil
		}
		_ = ln.Close()
		return false, nil
	}
}
