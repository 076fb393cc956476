// assignctl inspects and maintains assignment locks against the configured
// lock backend and mints access tokens for directory users.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/auth"
	"github.com/helpdesk-labs/ticket-assignment/internal/bootstrap"
	"github.com/helpdesk-labs/ticket-assignment/internal/config"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
)

const usage = `Usage: assignctl [--config FILE] <command> [flags]

Commands:
  status <ticket-id>...      show the reservation on each ticket
  reap                       delete expired locks from the store
  token --user <id>          mint an access token for a directory user
`

var errUsage = errors.New("usage")

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			if err != errUsage {
				fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
			}
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var configFile string
	var verbose bool

	flagSet := pflag.NewFlagSet("assignctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log backend activity to stderr")
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		return errUsage
	}

	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	command, cmdArgs := rest[0], rest[1:]
	switch command {
	case "status", "reap", "token":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	backends, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	switch command {
	case "status":
		return status(ctx, cfg, backends, logger, cmdArgs, out)
	case "reap":
		return reap(ctx, cfg, backends, logger, cmdArgs, out)
	default:
		return token(ctx, cfg, backends, cmdArgs, out)
	}
}

func status(ctx context.Context, cfg *config.Config, b *bootstrap.Backends, logger *zap.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: status needs at least one ticket id", errUsage)
	}
	locks := b.LockManager(cfg, logger, nil)
	for _, ticketID := range args {
		st, err := locks.CheckStatus(ctx, ticketID)
		if err != nil {
			return fmt.Errorf("status %s: %w", ticketID, err)
		}
		if !st.IsLocked {
			fmt.Fprintf(out, "%s\tunlocked\n", ticketID)
			continue
		}
		fmt.Fprintf(out, "%s\tlocked by %s (%s, %s) until %s\n",
			ticketID, st.LockedBy, st.LockedByName, st.LockedByRole, st.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func reap(ctx context.Context, cfg *config.Config, b *bootstrap.Backends, logger *zap.Logger, args []string, out io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: reap takes no arguments", errUsage)
	}
	removed, err := b.LockManager(cfg, logger, nil).Reap(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "reaped %d expired lock(s) from %s\n", removed, b.LockBackend)
	return nil
}

func token(ctx context.Context, cfg *config.Config, b *bootstrap.Backends, args []string, out io.Writer) error {
	var userID string
	var ttlMinutes int

	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&userID, "user", "", "directory user id")
	flagSet.IntVar(&ttlMinutes, "ttl", cfg.Auth.AccessTokenTTLMinutes, "token lifetime in minutes")
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if userID == "" {
		return fmt.Errorf("%w: token needs --user", errUsage)
	}

	user, err := b.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("user %s not found", userID)
		}
		return err
	}
	if !user.Active {
		return fmt.Errorf("user %s is inactive", userID)
	}

	signed, expires, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttlMinutes).GenerateToken(user)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, signed)
	fmt.Fprintf(out, "# %s (%s) expires %s\n", user.ID, user.Role, expires.UTC().Format(time.RFC3339))
	return nil
}
