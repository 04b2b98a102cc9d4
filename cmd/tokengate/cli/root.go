// Package cli implements the tokengate command line.
package cli

import (
	"github.com/mikepea/tokengate/pkg/tokengate/config"
	"github.com/spf13/cobra"
)

// Execute creates the root command tree and runs it.
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}

// NewRootCmd builds the command tree around a fresh viper instance.
func NewRootCmd(version string) *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "tokengate",
		Short: "Personal access tokens and API keys for HTTP services",
		Long: `tokengate issues, authenticates and revokes personal access tokens.

Tokens are stored as HMAC-SHA256 digests keyed by a shared secret
(TOKENGATE_SECRET). The plaintext is shown once, when the token is created.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.ReadFile(v, cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tokengate.yaml)")
	cmd.PersistentFlags().String("database-driver", "", "database driver: sqlite, postgres or mysql")
	cmd.PersistentFlags().String("database-dsn", "", "database connection string")
	cmd.PersistentFlags().CountP("verbose", "v", "log verbosity, repeat for more")
	cobra.CheckErr(v.BindPFlag(config.KeyDatabaseDriver, cmd.PersistentFlags().Lookup("database-driver")))
	cobra.CheckErr(v.BindPFlag(config.KeyDatabaseDSN, cmd.PersistentFlags().Lookup("database-dsn")))
	cobra.CheckErr(v.BindPFlag(config.KeyVerbosity, cmd.PersistentFlags().Lookup("verbose")))

	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newMigrateCmd(v))
	cmd.AddCommand(newTokenCmd(v))
	cmd.AddCommand(newUserCmd(v))
	cmd.AddCommand(newPermissionCmd(v))

	return cmd
}
