// Package cli is the netcorectl command surface. It wires cobra verb
// groups onto the Configuration Management Core (internal/envmgr,
// internal/store, internal/sync/*, internal/certs, internal/supervisor,
// internal/ports, internal/reload), translating core.Error into a CLI exit
// code and, with --json, machine readable output. Commands resolve the
// active environment from a root environments.yaml plus an --env flag.
package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/events"
	"github.com/lakowske/netcore/internal/envmgr"
	"github.com/lakowske/netcore/internal/output"
	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/state"
)

var (
	baseOverride string
	envOverride  string
	jsonOutput   bool
	verbose      bool

	rootCmd = &cobra.Command{
		Use:   "netcorectl",
		Short: "Control plane for the net-servers container fleet",
		Long: `netcorectl manages users, domains, certificates and deployment
environments for the apache/mail/dns container fleet, and drives the
container runtime and its graceful reloads from the same declarative
configuration.

Get started:
  netcorectl environments add      Register the first environment
  netcorectl environments init     Create its directory tree and default config
  netcorectl config sync           Reconcile config into container state
  netcorectl container start-all   Start the managed containers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&baseOverride, "base", "", "Root base directory (default: $NET_SERVERS_BASE or the OS default)")
	rootCmd.PersistentFlags().StringVar(&envOverride, "env", "", "Environment name to operate on (default: the current environment)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON instead of formatted text")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cobra.OnInitialize(func() { output.SetVerbose(verbose) })
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		switch e := err.(type) {
		case *core.Error:
			return reportError(e, e.Kind.ExitCode())
		case core.Errors:
			return reportErrors(e)
		default:
			output.DefaultLogger.Error("%v", err)
			return 1
		}
	}
	return 0
}

func reportError(cerr *core.Error, exitCode int) int {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
			"error":   string(cerr.Kind),
			"message": cerr.Message,
			"context": cerr.Context,
		})
	} else {
		output.DefaultLogger.Error("%s: %s", cerr.Kind, cerr.Message)
	}
	return exitCode
}

func reportErrors(errs core.Errors) int {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(errs)
	} else {
		for _, e := range errs {
			output.DefaultLogger.Error("%s: %s", e.Kind, e.Message)
		}
	}
	return errs.ExitCode()
}

// printJSON emits v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// rootBasePath resolves the installation root: --base, then
// NET_SERVERS_BASE, then state.DefaultBase.
func rootBasePath() (string, error) {
	if baseOverride != "" {
		return baseOverride, nil
	}
	if v := os.Getenv("NET_SERVERS_BASE"); v != "" {
		return v, nil
	}
	return state.DefaultBase()
}

// rootEnvManager returns an envmgr.Manager rooted at the installation's
// root base path, shared by every environments-handling command.
func rootEnvManager() (*envmgr.Manager, *events.Bus, *core.Error) {
	base, err := rootBasePath()
	if err != nil {
		return nil, nil, core.New(core.KindIOFatal, "failed to resolve root base directory", map[string]any{"error": err.Error()})
	}
	rootPaths, perr := paths.Resolve(base)
	if perr != nil {
		return nil, nil, perr
	}
	bus := events.NewBus()
	return envmgr.New(rootPaths, bus), bus, nil
}

// resolveEnvName returns --env if set, otherwise the registered current
// environment's name.
func resolveEnvName(mgr *envmgr.Manager) (string, *core.Error) {
	if envOverride != "" {
		return envOverride, nil
	}
	cur, cerr := mgr.Current()
	if cerr != nil {
		return "", cerr
	}
	return cur.Name, nil
}

// runE adapts a handler returning error (typically a *core.Error or
// core.Errors, both of which satisfy it) to cobra's RunE signature.
func runE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return fn
}
