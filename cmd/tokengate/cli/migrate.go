package cli

import (
	"fmt"

	"github.com/mikepea/tokengate/pkg/tokengate/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  "Create or update the database schema and seed the built-in permission catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.store.EnsurePermission(cmd.Context(), server.ProtectedPermission); err != nil {
				return fmt.Errorf("seed permissions: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Database migrations completed")
			return nil
		},
	}
}
