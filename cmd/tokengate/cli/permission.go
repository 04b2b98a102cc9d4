package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPermissionCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permission",
		Aliases: []string{"permissions", "perm"},
		Short:   "Manage the permission catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>...",
		Short: "Add permissions to the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, name := range args {
				if _, err := a.store.EnsurePermission(cmd.Context(), name); err != nil {
					return fmt.Errorf("create permission %q: %w", name, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List catalog permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			names, err := a.store.PermissionNames(cmd.Context())
			if err != nil {
				return fmt.Errorf("list permissions: %w", err)
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	return cmd
}
