package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mikepea/tokengate/pkg/tokengate/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTokenCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "token",
		Aliases: []string{"tokens"},
		Short:   "Manage personal access tokens",
		Long:    "Create, list, grant and revoke personal access tokens.",
	}

	cmd.AddCommand(newTokenCreateCmd(v))
	cmd.AddCommand(newTokenListCmd(v))
	cmd.AddCommand(newTokenRevokeCmd(v))
	cmd.AddCommand(newTokenGrantCmd(v))

	return cmd
}

// ---------- token create ----------

func newTokenCreateCmd(v *viper.Viper) *cobra.Command {
	var (
		email       string
		name        string
		description string
		grants      []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token for a user",
		Long:  "Generate a new token for a user. The plaintext is shown once and cannot be retrieved again.",
		Example: `  tokengate token create --user alice@example.com --name ci
  tokengate token create --user alice@example.com --name deploy --grant tokengate.access_protected`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			owner, err := a.userByEmail(ctx, email)
			if err != nil {
				return err
			}

			if err := checkCatalog(ctx, a, grants); err != nil {
				return err
			}

			token, plaintext, err := a.store.CreateToken(ctx, owner, name, description)
			if errors.Is(err, store.ErrDuplicateName) {
				return fmt.Errorf("%s already has a token named %q", email, name)
			}
			if err != nil {
				return fmt.Errorf("create token: %w", err)
			}

			if len(grants) > 0 {
				if err := a.store.Grant(ctx, token, grants...); err != nil {
					return fmt.Errorf("grant permissions: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Token created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  ID:    %d\n", token.ID)
			fmt.Fprintf(out, "  Name:  %s\n", token.Name)
			fmt.Fprintf(out, "  Token: %s\n", plaintext)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this token now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "Email of the token owner (required)")
	cmd.Flags().StringVar(&name, "name", "", "Token name, unique per user (required)")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	cmd.Flags().StringSliceVar(&grants, "grant", nil, "Permission to grant to the token (repeatable)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

// checkCatalog fails before anything is written when a name is not a catalog
// permission.
func checkCatalog(ctx context.Context, a *app, names []string) error {
	if len(names) == 0 {
		return nil
	}

	catalog, err := a.store.PermissionNames(ctx)
	if err != nil {
		return fmt.Errorf("list permissions: %w", err)
	}
	known := make(map[string]struct{}, len(catalog))
	for _, name := range catalog {
		known[name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: %q", store.ErrUnknownPermission, name)
		}
	}
	return nil
}

// ---------- token list ----------

func newTokenListCmd(v *viper.Viper) *cobra.Command {
	var (
		email      string
		validOnly  bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			opts := store.ListOptions{ValidOnly: validOnly}
			if email != "" {
				owner, err := a.userByEmail(ctx, email)
				if err != nil {
					return err
				}
				opts.UserID = owner.ID
			}

			list, err := a.store.List(ctx, opts)
			if err != nil {
				return fmt.Errorf("list tokens: %w", err)
			}

			type tokenRow struct {
				ID       uint   `json:"id"`
				User     string `json:"user"`
				Name     string `json:"name"`
				Valid    bool   `json:"valid"`
				LastUsed string `json:"last_used"`
			}

			rows := make([]tokenRow, len(list))
			for i, t := range list {
				lastUsed := "never"
				if t.LastUsedAt != nil {
					lastUsed = t.LastUsedAt.Format("2006-01-02 15:04")
				}
				rows[i] = tokenRow{
					ID:       t.ID,
					User:     t.User.Email,
					Name:     t.Name,
					Valid:    t.IsValid(),
					LastUsed: lastUsed,
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			if len(rows) == 0 {
				fmt.Fprintln(out, "No tokens found. Use 'tokengate token create' to create one.")
				return nil
			}

			fmt.Fprintf(out, "%-6s %-28s %-20s %-8s %-16s\n", "ID", "USER", "NAME", "VALID", "LAST USED")
			fmt.Fprintf(out, "%-6s %-28s %-20s %-8s %-16s\n", "--", "----", "----", "-----", "---------")
			for _, r := range rows {
				valid := "yes"
				if !r.Valid {
					valid = "no"
				}
				fmt.Fprintf(out, "%-6d %-28s %-20s %-8s %-16s\n", r.ID, r.User, r.Name, valid, r.LastUsed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "Only list tokens of this user")
	cmd.Flags().BoolVar(&validOnly, "valid", false, "Hide revoked tokens")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- token revoke ----------

func newTokenRevokeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a token by id",
		Long:  "Revoke a token. The token stops authenticating immediately; its record is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTokenID(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			token, err := a.store.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("token %d: %w", id, err)
			}
			if err := a.store.Revoke(ctx, token); err != nil {
				return fmt.Errorf("revoke token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Revoked token %d (%s)\n", token.ID, token.Name)
			return nil
		},
	}
}

// ---------- token grant ----------

func newTokenGrantCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <id> <permission>...",
		Short: "Grant catalog permissions to a token",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTokenID(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			token, err := a.store.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("token %d: %w", id, err)
			}
			if err := a.store.Grant(ctx, token, args[1:]...); err != nil {
				return fmt.Errorf("grant permissions: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Granted %d permission(s) to token %d\n", len(args)-1, token.ID)
			return nil
		},
	}
}

func parseTokenID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", s)
	}
	return uint(id), nil
}
