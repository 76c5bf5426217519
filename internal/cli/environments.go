package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lakowske/netcore/internal/output"
	"github.com/lakowske/netcore/internal/schema"
)

var (
	envDescription string
	envBasePath    string
	envDomain      string
	envAdminEmail  string
	envTags        []string

	initDomain     string
	initAdminEmail string
)

var environmentsCmd = &cobra.Command{
	Use:     "environments",
	Aliases: []string{"env", "envs"},
	Short:   "List, register and switch between deployment environments",
}

var environmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered environment",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		envs, cerr := mgr.List()
		if cerr != nil {
			return cerr
		}
		if jsonOutput {
			return printJSON(envs)
		}
		rows := make([][]string, 0, len(envs))
		for _, e := range envs {
			rows = append(rows, []string{e.Name, e.BasePath, fmt.Sprintf("%t", e.Enabled), e.Domain})
		}
		output.DefaultLogger.Table([]string{"NAME", "BASE PATH", "ENABLED", "DOMAIN"}, rows)
		return nil
	}),
}

var environmentsCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current environment",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		cur, cerr := mgr.Current()
		if cerr != nil {
			return cerr
		}
		if jsonOutput {
			return printJSON(cur)
		}
		output.DefaultLogger.Info("current environment: %s (%s)", cur.Name, cur.BasePath)
		return nil
	}),
}

var environmentsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new environment",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		rec := schema.Environment{
			Name:        args[0],
			Description: envDescription,
			BasePath:    envBasePath,
			Domain:      envDomain,
			AdminEmail:  envAdminEmail,
			Enabled:     true,
			Tags:        envTags,
		}
		if cerr := mgr.Add(rec); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("registered environment %q", args[0])
		return nil
	}),
}

var environmentsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a registered environment",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		if cerr := mgr.Remove(args[0]); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("removed environment %q", args[0])
		return nil
	}),
}

var environmentsEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a registered environment",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		if cerr := mgr.Enable(args[0]); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("enabled environment %q", args[0])
		return nil
	}),
}

var environmentsDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a registered environment",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		if cerr := mgr.Disable(args[0]); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("disabled environment %q", args[0])
		return nil
	}),
}

var environmentsSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Switch the current environment",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		rec, cerr := mgr.Switch(args[0])
		if cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("switched to environment %q", rec.Name)
		return nil
	}),
}

var environmentsInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show one environment's full record",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		rec, cerr := mgr.Info(args[0])
		if cerr != nil {
			return cerr
		}
		if jsonOutput {
			return printJSON(rec)
		}
		output.DefaultLogger.Header("environment %s", rec.Name)
		output.DefaultLogger.Println("base path:    %s", rec.BasePath)
		output.DefaultLogger.Println("domain:       %s", rec.Domain)
		output.DefaultLogger.Println("enabled:      %t", rec.Enabled)
		output.DefaultLogger.Println("tags:         %v", rec.Tags)
		return nil
	}),
}

var environmentsInitCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Create an environment's directory tree and default config",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		if cerr := mgr.Init(args[0], initDomain, initAdminEmail); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("initialized environment %q", args[0])
		return nil
	}),
}

var environmentsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every registered environment's configuration",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		mgr, _, cerr := rootEnvManager()
		if cerr != nil {
			return cerr
		}
		errs := mgr.Validate()
		if len(errs) == 0 {
			output.DefaultLogger.Success("all environments valid")
			return nil
		}
		if jsonOutput {
			return printJSON(errs)
		}
		for _, e := range errs {
			output.DefaultLogger.Error("%s: %s", e.Kind, e.Message)
		}
		return errs
	}),
}

func init() {
	environmentsAddCmd.Flags().StringVar(&envDescription, "description", "", "Human-readable description")
	environmentsAddCmd.Flags().StringVar(&envBasePath, "base-path", "", "Absolute base path for this environment's config/state/logs/code")
	environmentsAddCmd.Flags().StringVar(&envDomain, "domain", "", "Primary domain")
	environmentsAddCmd.Flags().StringVar(&envAdminEmail, "admin-email", "", "Administrator contact email")
	environmentsAddCmd.Flags().StringSliceVar(&envTags, "tag", nil, "Tag (repeatable)")
	_ = environmentsAddCmd.MarkFlagRequired("base-path")

	environmentsInitCmd.Flags().StringVar(&initDomain, "domain", "", "Primary domain for the new environment")
	environmentsInitCmd.Flags().StringVar(&initAdminEmail, "admin-email", "", "Administrator contact email")

	environmentsCmd.AddCommand(
		environmentsListCmd,
		environmentsCurrentCmd,
		environmentsAddCmd,
		environmentsRemoveCmd,
		environmentsEnableCmd,
		environmentsDisableCmd,
		environmentsSwitchCmd,
		environmentsInfoCmd,
		environmentsInitCmd,
		environmentsValidateCmd,
	)
	rootCmd.AddCommand(environmentsCmd)
}
