package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mikepea/tokengate/pkg/tokengate/auth"
	"github.com/mikepea/tokengate/pkg/tokengate/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func newUserCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user",
		Aliases: []string{"users"},
		Short:   "Manage users",
	}

	cmd.AddCommand(newUserCreateCmd(v))
	cmd.AddCommand(newUserListCmd(v))
	cmd.AddCommand(newUserGrantCmd(v))

	return cmd
}

func newUserCreateCmd(v *viper.Viper) *cobra.Command {
	var (
		email    string
		name     string
		password string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Long:  "Create a user. Without --password the password is read from the terminal or from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				password = p
			}
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters")
			}

			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			role := models.SystemRoleUser
			if admin {
				role = models.SystemRoleAdmin
			}
			if name == "" {
				name = email
			}

			user := models.User{
				Email:        email,
				Name:         name,
				PasswordHash: hash,
				Active:       true,
				SystemRole:   role,
			}
			err = a.db.WithContext(cmd.Context()).Create(&user).Error
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("user %q already exists", email)
			}
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s user %s (id %d)\n", role, user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the email)")
	cmd.Flags().StringVar(&password, "password", "", "Password, prompted for when omitted")
	cmd.Flags().BoolVar(&admin, "admin", false, "Give the user the admin role")
	cmd.MarkFlagRequired("email")

	return cmd
}

// readPassword prompts without echo on a terminal and reads one line
// otherwise.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newUserListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			var users []models.User
			if err := a.db.WithContext(cmd.Context()).Order("id").Find(&users).Error; err != nil {
				return fmt.Errorf("list users: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %-32s %-8s %-6s\n", "ID", "EMAIL", "ROLE", "ACTIVE")
			for _, u := range users {
				active := "yes"
				if !u.Active {
					active = "no"
				}
				fmt.Fprintf(out, "%-6d %-32s %-8s %-6s\n", u.ID, u.Email, u.SystemRole, active)
			}
			return nil
		},
	}
}

func newUserGrantCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <email> <permission>...",
		Short: "Assign catalog permissions to a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			user, err := a.userByEmail(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.store.GrantUser(ctx, user, args[1:]...); err != nil {
				return fmt.Errorf("grant permissions: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Granted %d permission(s) to %s\n", len(args)-1, user.Email)
			return nil
		},
	}
}
