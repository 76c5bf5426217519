package supervisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/ports"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/shell"
	"github.com/lakowske/netcore/internal/transport"
)

const (
	defaultBuildTimeout = 120 * time.Second
	defaultOpTimeout    = 30 * time.Second
)

// Container summarizes one `ps` row.
type Container struct {
	ID     string
	Name   string
	Image  string
	Status string
	State  string
	Ports  []string
}

// RunOptions tunes one Run invocation.
type RunOptions struct {
	// CodeReadOnly mounts the code volume read-only (production) instead
	// of read-write (development).
	CodeReadOnly bool
	Certificate  *schema.Certificate
}

// BuildOptions tunes one Build invocation.
type BuildOptions struct {
	Rebuild bool // passes a no-cache hint
}

// execClient is the subset of transport.Client the Supervisor depends on,
// letting tests substitute a fake instead of dialing real SSH sessions.
type execClient interface {
	Execute(host, cmd string) (*transport.Result, error)
}

// Supervisor drives the external container runtime for one environment's
// fixed apache/mail/dns container set.
type Supervisor struct {
	paths paths.Paths
	env   schema.Environment
	alloc *ports.Allocator
	bin   string // CONTAINER_CMD

	host         string
	transport    execClient
	buildTimeout time.Duration
	opTimeout    time.Duration
}

// New returns a Supervisor that drives bin (e.g. "podman" or "docker") via
// tc against host (typically "localhost") for environment env.
func New(envPaths paths.Paths, env schema.Environment, alloc *ports.Allocator, tc execClient, host, bin string) *Supervisor {
	if host == "" {
		host = "localhost"
	}
	if bin == "" {
		bin = "podman"
	}
	return &Supervisor{
		paths:        envPaths,
		env:          env,
		alloc:        alloc,
		bin:          bin,
		host:         host,
		transport:    tc,
		buildTimeout: defaultBuildTimeout,
		opTimeout:    defaultOpTimeout,
	}
}

// ImageTag returns the `<name>:<environment>` image tag for svc.
func (s *Supervisor) ImageTag(svc schema.ServiceConfig) string {
	return fmt.Sprintf("%s:%s", svc.ContainerRef, s.env.Name)
}

// ContainerName returns the `net-servers-<name>-<environment>` name for svc.
func (s *Supervisor) ContainerName(svc schema.ServiceConfig) string {
	return fmt.Sprintf("net-servers-%s-%s", svc.ContainerRef, s.env.Name)
}

func (s *Supervisor) exec(ctx context.Context, timeout time.Duration, args []string) (*transport.Result, *core.Error) {
	cmd := renderCommand(s.bin, args)
	done := make(chan struct{})
	var result *transport.Result
	var execErr error

	go func() {
		result, execErr = s.transport.Execute(s.host, cmd)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return nil, core.New(core.KindRuntimeTimeout, "container runtime invocation timed out",
			map[string]any{"command": cmd, "timeout": timeout.String()})
	case <-ctx.Done():
		return nil, core.New(core.KindRuntimeError, "container runtime invocation cancelled",
			map[string]any{"command": cmd, "error": ctx.Err().Error()})
	}

	if execErr != nil {
		return nil, core.New(core.KindRuntimeUnavailable, "failed to reach container runtime",
			map[string]any{"command": cmd, "error": execErr.Error()})
	}
	if !result.Success() {
		return result, core.New(core.KindRuntimeError, "container runtime command exited non-zero",
			map[string]any{"command": cmd, "exit_code": result.ExitCode, "stderr": strings.TrimSpace(result.Stderr)})
	}
	return result, nil
}

// Build builds svc's image. Builds are idempotent; opts.Rebuild passes a
// no-cache hint to force a fresh build.
func (s *Supervisor) Build(ctx context.Context, svc schema.ServiceConfig, opts BuildOptions) *core.Error {
	cfg := buildConfig{Context: s.paths.CodeDir, Tag: s.ImageTag(svc), NoCache: opts.Rebuild}
	_, cerr := s.exec(ctx, s.buildTimeout, cfg.buildArgs())
	return cerr
}

// Run starts svc's container, composing port bindings from the Port
// Allocator, volume mounts from the Path Resolver, and environment
// variables from global, svc and opts.Certificate.
func (s *Supervisor) Run(ctx context.Context, global schema.GlobalConfig, svc schema.ServiceConfig, opts RunOptions) *core.Error {
	runCfg, cerr := s.buildRunConfig(global, svc, opts)
	if cerr != nil {
		return cerr
	}
	_, cerr = s.exec(ctx, s.opTimeout, runCfg.buildRunArgs())
	return cerr
}

func (s *Supervisor) buildRunConfig(global schema.GlobalConfig, svc schema.ServiceConfig, opts RunOptions) (runConfig, *core.Error) {
	portBindings := make([]string, 0, len(svc.Ports))
	for _, p := range svc.Ports {
		hostPort, cerr := s.alloc.Resolve(s.env, svc.ContainerRef, p)
		if cerr != nil {
			return runConfig{}, cerr
		}
		spec := fmt.Sprintf("%d:%d", hostPort, p.ContainerPort)
		if p.Protocol == "udp" {
			spec += "/udp"
		}
		portBindings = append(portBindings, spec)
	}

	volumes := []string{
		s.paths.ConfigDir + ":/config:ro",
		s.paths.StateDir + ":/state:rw",
		s.paths.LogsDir + ":/logs:rw",
	}
	codeMode := "rw"
	if opts.CodeReadOnly {
		codeMode = "ro"
	}
	volumes = append(volumes, fmt.Sprintf("%s:/code:%s", s.paths.CodeDir, codeMode))

	env := map[string]string{
		"DOMAIN":      global.System.Domain,
		"ADMIN_EMAIL": global.System.AdminEmail,
		"TZ":          global.System.Timezone,
	}
	for k, v := range svc.Settings {
		env[k] = v
	}

	env["SSL_ENABLED"] = strconv.FormatBool(svc.SSL)
	if svc.SSL && opts.Certificate != nil {
		certDir := s.paths.CertificateDir(opts.Certificate.Domain)
		env["SSL_CERT_FILE"] = certDir + "/fullchain.pem"
		env["SSL_KEY_FILE"] = certDir + "/privkey.pem"
	}

	return runConfig{
		Name:    s.ContainerName(svc),
		Image:   s.ImageTag(svc),
		Env:     env,
		Ports:   portBindings,
		Volumes: volumes,
		Labels: map[string]string{
			"net-servers.environment": s.env.Name,
			"net-servers.container":   svc.ContainerRef,
		},
		Restart: "unless-stopped",
		Detach:  true,
	}, nil
}

// Stop stops svc's container.
func (s *Supervisor) Stop(ctx context.Context, svc schema.ServiceConfig) *core.Error {
	_, cerr := s.exec(ctx, s.opTimeout, []string{"stop", shell.Quote(s.ContainerName(svc))})
	return cerr
}

// Remove removes svc's container. force passes `-f`.
func (s *Supervisor) Remove(ctx context.Context, svc schema.ServiceConfig, force bool) *core.Error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, shell.Quote(s.ContainerName(svc)))
	_, cerr := s.exec(ctx, s.opTimeout, args)
	return cerr
}

// Logs returns svc's container logs.
func (s *Supervisor) Logs(ctx context.Context, svc schema.ServiceConfig, tail string) (string, *core.Error) {
	args := []string{"logs"}
	if tail != "" {
		args = append(args, "--tail", tail)
	}
	args = append(args, shell.Quote(s.ContainerName(svc)))
	result, cerr := s.exec(ctx, s.opTimeout, args)
	if cerr != nil {
		return "", cerr
	}
	return result.Stdout, nil
}

// List returns every container this environment's label identifies.
func (s *Supervisor) List(ctx context.Context) ([]Container, *core.Error) {
	args := []string{"ps", "-a", "--filter", shell.Quote("label=net-servers.environment=" + s.env.Name),
		"--format", shell.Quote("{{.ID}}|{{.Names}}|{{.Image}}|{{.Status}}|{{.State}}")}
	result, cerr := s.exec(ctx, s.opTimeout, args)
	if cerr != nil {
		return nil, cerr
	}
	return parseContainerList(result.Stdout), nil
}

func parseContainerList(stdout string) []Container {
	var containers []Container
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		line = strings.Trim(line, "'")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 5 {
			continue
		}
		containers = append(containers, Container{
			ID: parts[0], Name: parts[1], Image: parts[2], Status: parts[3], State: parts[4],
		})
	}
	return containers
}

// Test verifies svc's container exists and is running.
func (s *Supervisor) Test(ctx context.Context, svc schema.ServiceConfig) (bool, *core.Error) {
	args := []string{"inspect", shell.Quote(s.ContainerName(svc)), "--format", shell.Quote("{{.State.Running}}")}
	result, cerr := s.exec(ctx, s.opTimeout, args)
	if cerr != nil {
		return false, cerr
	}
	return strings.Contains(result.Stdout, "true"), nil
}

// BuildAll builds every registered service's image, isolating one
// container's failure from the rest of the batch.
func (s *Supervisor) BuildAll(ctx context.Context, services []schema.ServiceConfig, opts BuildOptions) core.Errors {
	var errs core.Errors
	for _, svc := range services {
		if cerr := s.Build(ctx, svc, opts); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	return errs
}

// StartAll runs every registered service, isolating one container's
// failure from the rest of the batch.
func (s *Supervisor) StartAll(ctx context.Context, global schema.GlobalConfig, services []schema.ServiceConfig, opts RunOptions) core.Errors {
	var errs core.Errors
	for _, svc := range services {
		if cerr := s.Run(ctx, global, svc, opts); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	return errs
}

// StopAll stops every registered service, isolating one container's
// failure from the rest of the batch.
func (s *Supervisor) StopAll(ctx context.Context, services []schema.ServiceConfig) core.Errors {
	var errs core.Errors
	for _, svc := range services {
		if cerr := s.Stop(ctx, svc); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	return errs
}

// RemoveAll removes every registered service, isolating one container's
// failure from the rest of the batch.
func (s *Supervisor) RemoveAll(ctx context.Context, services []schema.ServiceConfig, force bool) core.Errors {
	var errs core.Errors
	for _, svc := range services {
		if cerr := s.Remove(ctx, svc, force); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	return errs
}

// CleanAll stops then removes every registered service, isolating one
// container's failure from the rest of the batch.
func (s *Supervisor) CleanAll(ctx context.Context, services []schema.ServiceConfig) core.Errors {
	errs := s.StopAll(ctx, services)
	errs = append(errs, s.RemoveAll(ctx, services, true)...)
	return errs
}

