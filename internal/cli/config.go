package cli

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/output"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/sync/httpauth"
	"github.com/lakowske/netcore/internal/sync/mail"
	"github.com/lakowske/netcore/internal/watch"
)

var (
	userEmail   string
	userDomains []string
	userRoles   []string
	userQuota   string
	userPass    string
	userRealm   string

	domainMX      []string
	domainAliases map[string]string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration documents and their reconciliation into state",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the current environment's config documents with empty-but-valid defaults",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		if cerr := e.store.InitializeDefaults(e.rec.Domain, e.rec.AdminEmail); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("initialized config for environment %q", e.name)
		return nil
	}),
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate users and domains against every registered rule",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		users, cerr := e.store.LoadUsers()
		if cerr != nil {
			return cerr
		}
		domains, cerr := e.store.LoadDomains()
		if cerr != nil {
			return cerr
		}
		var errs core.Errors
		errs = append(errs, schema.ValidateUsers(users, domains)...)
		errs = append(errs, schema.ValidateDomains(domains)...)
		if len(errs) > 0 {
			return errs
		}
		output.DefaultLogger.Success("configuration valid")
		return nil
	}),
}

var configSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile every synchronizer's projection against current config",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		run := e.reconciler.Reconcile(cmd.Context())
		if jsonOutput {
			return printJSON(run)
		}
		for _, r := range run.Results {
			switch {
			case r.Err != nil:
				output.DefaultLogger.Error("%s: %s", r.Synchronizer, r.Err.Message)
			case r.Applied:
				output.DefaultLogger.Success("%s: applied%s", r.Synchronizer, reloadSuffix(r.Reloaded))
			default:
				output.DefaultLogger.Info("%s: up to date", r.Synchronizer)
			}
		}
		if len(run.Errors) > 0 {
			return run.Errors
		}
		return nil
	}),
}

func reloadSuffix(reloaded bool) string {
	if reloaded {
		return ", reloaded"
	}
	return ""
}

var configWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the config directory and reconcile on every debounced change, until interrupted",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		w, err := watch.New(e.paths.ConfigDir, 0)
		if err != nil {
			return core.New(core.KindIOFatal, "failed to start config watcher", map[string]any{"error": err.Error()})
		}
		defer w.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		output.DefaultLogger.Info("watching %s for changes", e.paths.ConfigDir)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-w.Events():
				if !ok {
					return nil
				}
				output.DefaultLogger.Debug("channel %q changed: %v", ev.Channel, ev.Paths)
				e.store.Invalidate(channelPath(e, ev.Channel))
				run := e.reconciler.Reconcile(ctx, ev.Channel)
				for _, r := range run.Results {
					switch {
					case r.Err != nil:
						output.DefaultLogger.Error("%s: %s", r.Synchronizer, r.Err.Message)
					case r.Applied:
						output.DefaultLogger.Success("%s: applied%s", r.Synchronizer, reloadSuffix(r.Reloaded))
					}
				}
			}
		}
	}),
}

// channelPath maps a watch.Channel back to the config document path it
// covers, so a debounced filesystem event invalidates the Config Store's
// cached read before the reconcile triggered by that event re-reads it.
func channelPath(e *env, channel watch.Channel) string {
	switch channel {
	case watch.ChannelUsers:
		return e.paths.UsersYAML
	case watch.ChannelDomains:
		return e.paths.DomainsYAML
	case watch.ChannelEnvironments:
		return e.paths.EnvironmentsYAML
	case watch.ChannelSecrets:
		return e.paths.SecretsYAML
	case watch.ChannelServices:
		return e.paths.ServicesYAML
	case watch.ChannelGlobal:
		return e.paths.GlobalYAML
	default:
		return ""
	}
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage mailbox/auth users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		username := args[0]

		password := userPass
		if password == "" {
			generated, err := randomPassword()
			if err != nil {
				return core.New(core.KindIOFatal, "failed to generate a password", map[string]any{"error": err.Error()})
			}
			password = generated
		}

		hashes := make(map[string]string, 3)
		salt, err := randomPassword()
		if err != nil {
			return core.New(core.KindIOFatal, "failed to generate a salt", map[string]any{"error": err.Error()})
		}
		hashes[string(schema.SchemeSHA512Crypt)] = mail.SHA512Crypt(password, salt[:16])
		// dovecot-users and htdigest both need the plaintext password: the
		// mail synchronizer wraps it as {PLAIN}, the http synchronizer
		// hashes it into HA1 itself.
		hashes[string(schema.SchemePlain)] = password
		realm := userRealm
		if realm == "" {
			realm = httpauth.DefaultRealm
		}
		hashes[string(schema.DigestScheme(realm))] = password

		enabled := true
		user := schema.User{
			Username:       username,
			Email:          userEmail,
			Domains:        userDomains,
			Roles:          userRoles,
			MailboxQuota:   userQuota,
			Enabled:        &enabled,
			PasswordHashes: hashes,
		}

		doc, cerr := e.store.LoadUsers()
		if cerr != nil {
			return cerr
		}
		doc.Users = append(doc.Users, user)
		if cerr := e.store.SaveUsers(doc); cerr != nil {
			return cerr
		}

		output.DefaultLogger.Success("added user %q", username)
		if userPass == "" {
			output.DefaultLogger.Info("generated password: %s", password)
		}
		return nil
	}),
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every user",
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		doc, cerr := e.store.LoadUsers()
		if cerr != nil {
			return cerr
		}
		if jsonOutput {
			return printJSON(doc.Users)
		}
		rows := make([][]string, 0, len(doc.Users))
		for _, u := range doc.Users {
			rows = append(rows, []string{u.Username, u.Email, joinStrings(u.Domains)})
		}
		output.DefaultLogger.Table([]string{"USERNAME", "EMAIL", "DOMAINS"}, rows)
		return nil
	}),
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE: runE(func(cmd *cobra.Command, args []string) error {
		e, cerr := bootstrapEnv()
		if cerr != nil {
			return cerr
		}
		doc, cerr := e.store.LoadUsers()
		if cerr != nil {
			return cerr
		}
		kept := doc.Users[:0]
		found := false
		for _, u := range doc.Users {
			if u.Username == args[0] {
				found = true
				continue
			}
			kept = append(kept, u)
		}
		if !found {
			return core.New(core.KindConfigValidate, "no such user", map[string]any{"username": args[0]})
		}
		doc.Users = kept
		if cerr := e.store.SaveUsers(doc); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("deleted user %q", args[0])
		return nil
	}),
}

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage DNS/mail/HTTP routing domains",
}

var domainAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a domain",
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
		enabled := true
		doc.Domains = append(doc.Domains, schema.Domain{
			Name:      args[0],
			MXRecords: domainMX,
			Aliases:   domainAliases,
			Enabled:   &enabled,
		})
		if cerr := e.store.SaveDomains(doc); cerr != nil {
			return cerr
		}
		output.DefaultLogger.Success("added domain %q", args[0])
		return nil
	}),
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every domain",
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
			rows = append(rows, []string{d.Name, joinStrings(d.MXRecords)})
		}
		output.DefaultLogger.Table([]string{"NAME", "MX RECORDS"}, rows)
		return nil
	}),
}

func randomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func joinStrings(in []string) string {
	out := ""
	for i, s := range in {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Contact email")
	userAddCmd.Flags().StringSliceVar(&userDomains, "domain", nil, "Domain this user has a mailbox on (repeatable)")
	userAddCmd.Flags().StringSliceVar(&userRoles, "role", nil, "Role (repeatable)")
	userAddCmd.Flags().StringVar(&userQuota, "quota", "", "Mailbox quota")
	userAddCmd.Flags().StringVar(&userPass, "password", "", "Password (generated if omitted)")
	userAddCmd.Flags().StringVar(&userRealm, "realm", httpauth.DefaultRealm, "HTTP auth realm for this user's digest credential")

	domainAddCmd.Flags().StringSliceVar(&domainMX, "mx", nil, "MX record (repeatable)")
	domainAddCmd.Flags().StringToStringVar(&domainAliases, "alias", nil, "local-part=username mailbox alias (repeatable)")

	userCmd.AddCommand(userAddCmd, userListCmd, userDeleteCmd)
	domainCmd.AddCommand(domainAddCmd, domainListCmd)
	configCmd.AddCommand(configInitCmd, configValidateCmd, configSyncCmd, configWatchCmd, userCmd, domainCmd)
	rootCmd.AddCommand(configCmd)
}
