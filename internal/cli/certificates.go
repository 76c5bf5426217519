package cli

import (
	"github.com/spf13/cobra"

	"github.com/lakowske/netcore/internal/certs"
	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/output"
	"github.com/lakowske/netcore/internal/schema"
)

var (
	provisionForce bool
)

var certificatesCmd = &cobra.Command{
	Use:     "certificates",
	Aliases: []string{"certs", "cert"},
	Short:   "Provision and inspect domain TLS certificates",
}

var certificatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every domain and its certificate mode",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		doc, cerr := e.store.LoadDomains()
		if cerr != nil {
			return cerr
		}
		if jsonOutput {
			return printJSON(doc.Domains)
		}
		rows := make([][]string, 0, len(doc.Domains))
		for _, d := range doc.Domains {
			rows = append(rows, []string{d.Name, string(d.CertificateMode)})
		}
		output.DefaultLogger.Table([]string{"DOMAIN", "CERTIFICATE MODE"}, rows)
		return nil
	}),
}

var certificatesInfoCmd = &cobra.Command{
	Use:   "info <domain>",
	Short: "Show one domain's certificate lifecycle state",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		doc, cerr := e.store.LoadDomains()
		if cerr != nil {
			return cerr
		}
		d, ok := doc.FindDomain(args[0])
		if !ok {
			return core.New(core.KindConfigValidate, "no such domain", map[string]any{"domain": args[0]})
		}
		cert, cerr := e.certs.Ensure(cmd.Context(), *d, certs.EnsureOptions{})
		if cerr != nil {
			return cerr
		}
		if jsonOutput {
			return printJSON(cert)
		}
		output.DefaultLogger.Header("certificate for %s", d.Name)
		output.DefaultLogger.Println("mode:        %s", cert.Mode)
		output.DefaultLogger.Println("not before:  %s", cert.NotBefore)
		output.DefaultLogger.Println("not after:   %s", cert.NotAfter)
		output.DefaultLogger.Println("fingerprint: %s", cert.FingerprintSHA256)
		return nil
	}),
}

var certificatesProvisionSelfSignedCmd = &cobra.Command{
	Use:   "provision-self-signed <domain>",
	Short: "Provision (or force-renew) a self-signed certificate for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		doc, cerr := e.store.LoadDomains()
		if cerr != nil {
			return cerr
		}
		d, ok := doc.FindDomain(args[0])
		if !ok {
			return core.New(core.KindConfigValidate, "no such domain", map[string]any{"domain": args[0]})
		}
		target := *d
		target.CertificateMode = schema.CertModeSelfSigned
		cert, cerr := e.certs.Ensure(cmd.Context(), target, certs.EnsureOptions{Force: provisionForce})
		if cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("self-signed certificate ready for %s (expires %s)", d.Name, cert.NotAfter)
		return nil
	}),
}

var certificatesProvisionACMECmd = &cobra.Command{
	Use:   "provision-acme <domain>",
	Short: "Provision (or force-renew) an ACME certificate for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		doc, cerr := e.store.LoadDomains()
		if cerr != nil {
			return cerr
		}
		d, ok := doc.FindDomain(args[0])
		if !ok {
			return core.New(core.KindConfigValidate, "no such domain", map[string]any{"domain": args[0]})
		}
		target := *d
		target.CertificateMode = schema.CertModeACME
		cert, cerr := e.certs.Ensure(cmd.Context(), target, certs.EnsureOptions{Force: provisionForce, ChallengeKind: certs.ChallengeHTTP01})
		if cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("ACME certificate ready for %s (expires %s)", d.Name, cert.NotAfter)
		return nil
	}),
}

func init() {
	certificatesProvisionSelfSignedCmd.Flags().BoolVar(&provisionForce, "force", false, "Reissue even if the current certificate is still valid")
	certificatesProvisionACMECmd.Flags().BoolVar(&provisionForce, "force", false, "Reissue even if the current certificate is still valid")

	certificatesCmd.AddCommand(
		certificatesListCmd,
		certificatesInfoCmd,
		certificatesProvisionSelfSignedCmd,
		certificatesProvisionACMECmd,
	)
	rootCmd.AddCommand(certificatesCmd)
}
