// Command accounts-admin performs operator tasks against the account store:
//
//	accounts-admin migrate [--status]
//	accounts-admin createsuperuser --email admin@example.com
//	accounts-admin purge-tokens
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-accounts/internal/app"
	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/repository"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	root := newRootCommand(os.Stdin, os.Stdout, logger)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// admin carries what every subcommand needs once configuration is loaded.
type admin struct {
	cfg    *config.Config
	in     *bufio.Reader
	out    io.Writer
	logger *slog.Logger
}

func newRootCommand(in io.Reader, out io.Writer, logger *slog.Logger) *cobra.Command {
	a := &admin{in: bufio.NewReader(in), out: out, logger: logger}

	root := &cobra.Command{
		Use:           "accounts-admin",
		Short:         "Operator tasks for the account service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)

	root.AddCommand(a.migrateCommand(), a.createSuperuserCommand(), a.purgeTokensCommand())
	return root
}

func (a *admin) migrateCommand() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.TokenStore == config.TokenStoreMemory {
				return errors.New("migrate requires a database; TOKEN_STORE is memory")
			}

			db, err := repository.NewDB(ctx, repository.Config{URL: a.cfg.DSN()})
			if err != nil {
				return err
			}
			defer db.Close()

			if status {
				return repository.MigrationStatus(ctx, db)
			}
			if err := repository.Migrate(ctx, db); err != nil {
				return err
			}
			a.logger.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of applying")
	return cmd
}

func (a *admin) createSuperuserCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "createsuperuser",
		Short: "Create an active staff superuser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if email == "" {
				fmt.Fprint(a.out, "Email: ")
				line, err := a.in.ReadString('\n')
				if err != nil && !(errors.Is(err, io.EOF) && line != "") {
					return fmt.Errorf("failed to read email: %w", err)
				}
				email = strings.TrimSpace(line)
			}

			password, err := a.promptPassword("Password: ")
			if err != nil {
				return err
			}
			again, err := a.promptPassword("Password (again): ")
			if err != nil {
				return err
			}
			if password != again {
				return errors.New("passwords do not match")
			}

			svc, err := app.Open(ctx, a.cfg, a.logger, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			account, err := svc.Accounts.AccountService().CreateSuperuser(ctx, email, password)
			if err != nil {
				var verr *domain.ValidationError
				if errors.As(err, &verr) {
					return fmt.Errorf("invalid input: %s", strings.TrimPrefix(verr.Error(), domain.ErrValidation.Error()+": "))
				}
				return err
			}

			fmt.Fprintf(a.out, "Superuser %s created (%s)\n", account.Email, account.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "superuser email address (prompted when empty)")
	return cmd
}

func (a *admin) purgeTokensCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-tokens",
		Short: "Delete tokens older than their configured TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := app.Open(ctx, a.cfg, a.logger, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			purged, err := svc.Accounts.AccountService().PurgeExpiredTokens(ctx)
			if err != nil {
				return err
			}

			purposes := make([]string, 0, len(purged))
			for purpose := range purged {
				purposes = append(purposes, string(purpose))
			}
			sort.Strings(purposes)
			for _, purpose := range purposes {
				fmt.Fprintf(a.out, "%s: %d expired tokens removed\n", purpose, purged[domain.TokenPurpose(purpose)])
			}
			if len(purposes) == 0 {
				fmt.Fprintln(a.out, "no token purpose has a TTL; nothing to purge")
			}
			return nil
		},
	}
}

func (a *admin) promptPassword(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}
