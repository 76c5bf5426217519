package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lakowske/netcore/internal/certs"
	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/output"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/supervisor"
)

var (
	rebuildFlag      bool
	forceRemoveFlag  bool
	codeReadOnlyFlag bool
	logsTailFlag     string
)

var containerCmd = &cobra.Command{
	Use:     "container",
	Aliases: []string{"containers"},
	Short:   "Build, run and inspect the managed apache/mail/dns containers",
}

// resolveService loads the environment's service set and picks out
// containerRef, or a CONFIG_VALIDATE error if it isn't declared.
func (e *env) resolveService(containerRef string) (schema.ServiceConfig, *core.Error) {
	svc, ok := e.services[containerRef]
	if !ok {
		return schema.ServiceConfig{}, core.New(core.KindConfigValidate, "no such service",
			map[string]any{"service": containerRef})
	}
	return svc, nil
}

// certificateFor resolves the environment's primary domain certificate,
// provisioning a self-signed one on first use, for services that declare SSL.
func (e *env) certificateFor(ctx context.Context, svc schema.ServiceConfig) (*schema.Certificate, *core.Error) {
	if !svc.SSL {
		return nil, nil
	}
	mode := e.rec.CertificateMode
	if mode == "" {
		mode = schema.CertModeSelfSigned
	}
	return e.certs.Ensure(ctx, schema.Domain{Name: e.rec.Domain, CertificateMode: mode}, certs.EnsureOptions{})
}

func loadGlobal(e *env) (*schema.GlobalConfig, *core.Error) {
	return e.store.LoadGlobal()
}

var containerBuildCmd = &cobra.Command{
	Use:   "build <service>",
	Short: "Build one container image",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		svc, cerr := e.resolveService(args[0])
		if cerr != nil {
			return cerr
		}
		if cerr := e.supervisor.Build(cmd.Context(), svc, supervisor.BuildOptions{Rebuild: rebuildFlag}); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("built %s", e.supervisor.ImageTag(svc))
		return nil
	}),
}

var containerRunCmd = &cobra.Command{
	Use:   "run <service>",
	Short: "Run one container",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		svc, cerr := e.resolveService(args[0])
		if cerr != nil {
			return cerr
		}
		global, cerr := loadGlobal(e)
		if cerr != nil {
			return cerr
		}
		cert, cerr := e.certificateFor(cmd.Context(), svc)
		if cerr != nil {
			return cerr
		}
		opts := supervisor.RunOptions{CodeReadOnly: codeReadOnlyFlag, Certificate: cert}
		if cerr := e.supervisor.Run(cmd.Context(), *global, svc, opts); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("running %s", e.supervisor.ContainerName(svc))
		return nil
	}),
}

var containerStopCmd = &cobra.Command{
	Use:   "stop <service>",
	Short: "Stop one container",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		svc, cerr := e.resolveService(args[0])
		if cerr != nil {
			return cerr
		}
		if cerr := e.supervisor.Stop(cmd.Context(), svc); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("stopped %s", e.supervisor.ContainerName(svc))
		return nil
	}),
}

var containerRemoveCmd = &cobra.Command{
	Use:   "remove <service>",
	Short: "Remove one container",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		svc, cerr := e.resolveService(args[0])
		if cerr != nil {
			return cerr
		}
		if cerr := e.supervisor.Remove(cmd.Context(), svc, forceRemoveFlag); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("removed %s", e.supervisor.ContainerName(svc))
		return nil
	}),
}

var containerLogsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Show one container's logs",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		svc, cerr := e.resolveService(args[0])
		if cerr != nil {
			return cerr
		}
		logs, cerr := e.supervisor.Logs(cmd.Context(), svc, logsTailFlag)
		if cerr != nil {
			return cerr
		}
		output.DefaultLogger.Output(logs)
		return nil
	}),
}

var containerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every managed container and its state",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		containers, cerr := e.supervisor.List(cmd.Context())
		if cerr != nil {
			return cerr
		}
		if jsonOutput {
			return printJSON(containers)
		}
		rows := make([][]string, 0, len(containers))
		for _, c := range containers {
			rows = append(rows, []string{c.Name, c.Image, c.Status, c.State})
		}
		output.DefaultLogger.Table([]string{"NAME", "IMAGE", "STATUS", "STATE"}, rows)
		return nil
	}),
}

var containerTestCmd = &cobra.Command{
	Use:   "test <service>",
	Short: "Report whether one container is running",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		svc, cerr := e.resolveService(args[0])
		if cerr != nil {
			return cerr
		}
		running, cerr := e.supervisor.Test(cmd.Context(), svc)
		if cerr != nil {
			return cerr
		}
		if jsonOutput {
			return printJSON(map[string]bool{"running": running})
		}
		if running {
			output.DefaultLogger.Success("%s is running", e.supervisor.ContainerName(svc))
		} else {
			output.DefaultLogger.Warn("%s is not running", e.supervisor.ContainerName(svc))
		}
		return nil
	}),
}

func (e *env) serviceList() []schema.ServiceConfig {
	out := make([]schema.ServiceConfig, 0, len(e.services))
	for _, svc := range e.services {
		out = append(out, svc)
	}
	return out
}

var containerBuildAllCmd = &cobra.Command{
	Use:   "build-all",
	Short: "Build every managed container image",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		errs := e.supervisor.BuildAll(cmd.Context(), e.serviceList(), supervisor.BuildOptions{Rebuild: rebuildFlag})
		if len(errs) > 0 {
			return errs
		}
		output.DefaultLogger.Success("built all services")
		return nil
	}),
}

var containerStartAllCmd = &cobra.Command{
	Use:   "start-all",
	Short: "Run every managed container",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		global, cerr := loadGlobal(e)
		if cerr != nil {
			return cerr
		}
		opts := supervisor.RunOptions{CodeReadOnly: codeReadOnlyFlag}
		errs := e.supervisor.StartAll(cmd.Context(), *global, e.serviceList(), opts)
		if len(errs) > 0 {
			return errs
		}
		output.DefaultLogger.Success("started all services")
		return nil
	}),
}

var containerStopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every managed container",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		errs := e.supervisor.StopAll(cmd.Context(), e.serviceList())
		if len(errs) > 0 {
			return errs
		}
		output.DefaultLogger.Success("stopped all services")
		return nil
	}),
}

var containerRemoveAllCmd = &cobra.Command{
	Use:   "remove-all",
	Short: "Remove every managed container",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		errs := e.supervisor.RemoveAll(cmd.Context(), e.serviceList(), forceRemoveFlag)
		if len(errs) > 0 {
			return errs
		}
		output.DefaultLogger.Success("removed all services")
		return nil
	}),
}

var containerCleanAllCmd = &cobra.Command{
	Use:   "clean-all",
	Short: "Stop and remove every managed container",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		errs := e.supervisor.CleanAll(cmd.Context(), e.serviceList())
		if len(errs) > 0 {
			return errs
		}
		output.DefaultLogger.Success("cleaned all services")
		return nil
	}),
}

func init() {
	containerBuildCmd.Flags().BoolVar(&rebuildFlag, "rebuild", false, "Build without using the image cache")
	containerBuildAllCmd.Flags().BoolVar(&rebuildFlag, "rebuild", false, "Build without using the image cache")

	containerRunCmd.Flags().BoolVar(&codeReadOnlyFlag, "code-read-only", false, "Mount the code volume read-only")
	containerStartAllCmd.Flags().BoolVar(&codeReadOnlyFlag, "code-read-only", false, "Mount the code volume read-only")

	containerRemoveCmd.Flags().BoolVar(&forceRemoveFlag, "force", false, "Remove even if running")
	containerRemoveAllCmd.Flags().BoolVar(&forceRemoveFlag, "force", false, "Remove even if running")

	containerLogsCmd.Flags().StringVar(&logsTailFlag, "tail", "200", "Number of trailing log lines")

	containerCmd.AddCommand(
		containerBuildCmd,
		containerRunCmd,
		containerStopCmd,
		containerRemoveCmd,
		containerLogsCmd,
		containerListCmd,
		containerTestCmd,
		containerBuildAllCmd,
		containerStartAllCmd,
		containerStopAllCmd,
		containerRemoveAllCmd,
		containerCleanAllCmd,
	)
	rootCmd.AddCommand(containerCmd)
}
