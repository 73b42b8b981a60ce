package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"warden.dev/internal/auth"
	"warden.dev/internal/migrate"
	"warden.dev/internal/store/pg"
	"warden.dev/migrations"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	dsn     string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the warden PostgreSQL schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN (defaults to DATABASE_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(
		managerCmd(opts, "up", "Apply pending migrations", func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
			return m.Up(ctx)
		}),
		managerCmd(opts, "down", "Roll back the latest migration", func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
			return m.Down(ctx)
		}),
		managerCmd(opts, "seed", "Apply seed data (built-in roles)", func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
			return m.Seed(ctx)
		}),
		managerCmd(opts, "status", "List applied migrations", func(ctx context.Context, m *migrate.Manager, cmd *cobra.Command) error {
			history, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, rec := range history {
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s %s %s\n", rec.Kind, rec.Name, rec.AppliedAt.Format(time.RFC3339))
			}
			return nil
		}),
		createAdminCmd(opts),
	)
	return root
}

func (o *options) open() (*sql.DB, error) {
	if strings.TrimSpace(o.dsn) == "" {
		return nil, errors.New("missing DSN: provide via --dsn or DATABASE_URL")
	}
	store, err := pg.Open(o.dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return store.DB(), nil
}

func managerCmd(opts *options, use, short string, run func(context.Context, *migrate.Manager, *cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := opts.open()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			mgr := migrate.NewManager(db, migrations.Schema(), migrations.Seeds())
			if err := run(ctx, mgr, cmd); err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			return nil
		},
	}
}

// createAdminCmd creates an administrator straight in the database, for
// deployments that lock down or front the public register route.
func createAdminCmd(opts *options) *cobra.Command {
	var email, password, firstName, lastName string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a user holding the Admin role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			db, err := opts.open()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			store := pg.New(db)
			role, err := store.FindRoleByName(ctx, auth.RoleAdmin)
			if errors.Is(err, auth.ErrNotFound) {
				return errors.New("admin role missing; run `migrate seed` first")
			}
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			user, err := store.CreateUser(ctx, auth.NewUser{
				FirstName:    firstName,
				LastName:     lastName,
				Email:        email,
				PasswordHash: hash,
				RoleIDs:      []string{role.ID},
			})
			if errors.Is(err, auth.ErrConflict) {
				return fmt.Errorf("user %s already exists", email)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email (required)")
	cmd.Flags().StringVar(&password, "password", os.Getenv("WARDEN_ADMIN_PASSWORD"), "admin password (defaults to WARDEN_ADMIN_PASSWORD)")
	cmd.Flags().StringVar(&firstName, "first-name", "Admin", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "User", "last name")
	return cmd
}
