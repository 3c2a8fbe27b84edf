package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/app"
	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/identitycore/internal/security/auth"
	"github.com/aryan0dhankhar/identitycore/pkg/config"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "hash-password":
		return hashPassword(rest, out)
	case "help":
		printUsage(out)
		return nil
	case "unlock", "lock", "disable", "enable", "permissions", "revoke", "invalidate", "bootstrap":
	default:
		fmt.Fprintf(out, "unknown command: %s\n", command)
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel, os.Stderr)

	rt, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("failed to close connections", slog.String("error", err.Error()))
		}
	}()

	op := &operator{rt: rt, cfg: cfg, out: out}
	switch command {
	case "unlock":
		return op.userAction(ctx, rest, "unlock", rt.Core.Users.UnlockUser)
	case "disable":
		return op.userAction(ctx, rest, "disable", rt.Core.Users.DisableUser)
	case "enable":
		return op.userAction(ctx, rest, "enable", rt.Core.Users.EnableUser)
	case "lock":
		return op.lock(ctx, rest)
	case "permissions":
		return op.permissions(ctx, rest)
	case "revoke":
		return op.revoke(ctx, rest)
	case "invalidate":
		return op.invalidate(ctx, rest)
	default:
		return op.bootstrap(ctx)
	}
}

func hashPassword(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	password := fs.String("password", "", "password to hash")
	cost := fs.Int("cost", 12, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *password == "" {
		return fmt.Errorf("-password is required")
	}

	hasher, err := auth.NewPasswordHasher(*cost)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(*password)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

// operator runs administrative operations with the configured admin role.
type operator struct {
	rt  *app.Runtime
	cfg *config.Config
	out io.Writer
}

func (o *operator) actor() *domain.Identity {
	return &domain.Identity{
		UserID:   "cli-operator",
		Username: "cli-operator",
		Roles:    []string{o.cfg.AdminRole},
	}
}

func userFlag(name string, args []string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs, fs.String("user", "", "user ID")
}

func (o *operator) userAction(ctx context.Context, args []string, name string, fn func(context.Context, *domain.Identity, string) error) error {
	fs, userID := userFlag(name, args)
	if err := fs.Parse(args); err != nil || *userID == "" {
		return errUsage
	}
	if err := fn(ctx, o.actor(), *userID); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "%s: %s\n", name, *userID)
	return nil
}

func (o *operator) lock(ctx context.Context, args []string) error {
	fs, userID := userFlag("lock", args)
	minutes := fs.Int("minutes", 15, "lock duration in minutes")
	if err := fs.Parse(args); err != nil || *userID == "" {
		return errUsage
	}
	if err := o.rt.Core.Users.LockUser(ctx, o.actor(), *userID, time.Duration(*minutes)*time.Minute); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "lock: %s for %dm\n", *userID, *minutes)
	return nil
}

func (o *operator) permissions(ctx context.Context, args []string) error {
	fs, userID := userFlag("permissions", args)
	if err := fs.Parse(args); err != nil || *userID == "" {
		return errUsage
	}
	authz, err := o.rt.Core.Resolver.ResolveAuthorization(ctx, *userID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(o.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCODE")
	for _, r := range authz.Roles {
		fmt.Fprintf(w, "role\t%s\n", r)
	}
	for _, p := range authz.Permissions {
		fmt.Fprintf(w, "permission\t%s\n", p)
	}
	return w.Flush()
}

func (o *operator) revoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	token := fs.String("token", "", "bearer token to revoke")
	if err := fs.Parse(args); err != nil || *token == "" {
		return errUsage
	}
	if err := o.rt.Core.Tokens.Revoke(ctx, *token); err != nil {
		return err
	}
	fmt.Fprintln(o.out, "revoked")
	return nil
}

func (o *operator) invalidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return errUsage
	}
	o.rt.Core.Snapshots.Invalidate(ctx, fs.Args()...)
	fmt.Fprintf(o.out, "invalidated %d snapshot(s)\n", fs.NArg())
	return nil
}

func (o *operator) bootstrap(ctx context.Context) error {
	changed, err := o.rt.Core.Bootstrap.EnsureAdmin(ctx, app.Seed(o.cfg))
	if err != nil {
		return err
	}
	if changed {
		fmt.Fprintf(o.out, "administrator %s bootstrapped\n", o.cfg.BootstrapAdmin.Username)
	} else {
		fmt.Fprintln(o.out, "administrator already present")
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `identitycore operator CLI

Usage:
  identitycore-cli <command> [options]

Commands:
  hash-password -password P [-cost N]   Print a bcrypt hash for P
  unlock      -user ID                  Clear a lock and the failure counter
  lock        -user ID [-minutes N]     Lock an account
  disable     -user ID                  Disable an account
  enable      -user ID                  Re-enable an account
  permissions -user ID                  Show resolved roles and permissions
  revoke      -token T                  Revoke a bearer token until expiry
  invalidate  ID [ID...]                Drop cached permission snapshots
  bootstrap                             Seed the BOOTSTRAP_ADMIN_* administrator
  help                                  Show this help message

Configuration is read from the same environment as the server
(DATABASE_URL, REDIS_URL, JWT_SECRET, ...).
`)
}
