// Command walletctl runs operator maintenance against the ledger database and
// the balance cache.
//
//	walletctl migrate
//	walletctl optimize [-force]
//	walletctl flush-cache [-force]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/betwallet/balance_engine/internal/balancecache"
	"github.com/betwallet/balance_engine/internal/config"
	"github.com/betwallet/balance_engine/internal/infra"
	"github.com/betwallet/balance_engine/internal/ledger"
	"github.com/betwallet/balance_engine/internal/logging"
)

var errCancelled = errors.New("operation cancelled")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errCancelled) {
			fmt.Fprintln(os.Stdout, "Operation cancelled.")
			return
		}
		fmt.Fprintf(os.Stderr, "walletctl: %v\n", err)
		os.Exit(1)
	}
}

type tool struct {
	cfg    config.Config
	logger *slog.Logger
	in     *bufio.Reader
	out    io.Writer
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("missing command")
	}
	name := args[0]

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.LoadTooling()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	t := &tool{cfg: cfg, logger: logging.NewText(out, cfg.LogLevel), in: bufio.NewReader(in), out: out}

	switch name {
	case "migrate":
		return t.migrate(ctx)
	case "optimize":
		if err := t.confirm(*force, "This will create database indexes and clear caches. Continue?"); err != nil {
			return err
		}
		return t.optimize(ctx)
	case "flush-cache":
		if err := t.confirm(*force, "This will evict every cached wallet balance. Continue?"); err != nil {
			return err
		}
		return t.flushCache(ctx)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", name)
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "usage: walletctl <migrate|optimize|flush-cache> [-force]")
}

func (t *tool) confirm(force bool, question string) error {
	if force {
		return nil
	}
	fmt.Fprintf(t.out, "%s [y/N]: ", question)
	answer, err := t.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errCancelled
	}
}

func (t *tool) migrate(ctx context.Context) error {
	db, err := infra.NewPostgresPool(ctx, t.cfg.DatabaseURL, t.cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := ledger.Migrate(ctx, db); err != nil {
		return err
	}
	t.logger.Info("schema applied")
	return nil
}

// optimize runs every step even when an earlier one fails and reports all
// failures together.
func (t *tool) optimize(ctx context.Context) error {
	t.logger.Info("starting wallet performance optimization")

	db, err := infra.NewPostgresPool(ctx, t.cfg.DatabaseURL, t.cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	var errs []error
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"create indexes", func(ctx context.Context) error { return ledger.CreateIndexes(ctx, db) }},
		{"clear caches", t.flushCache},
		{"analyze tables", func(ctx context.Context) error { return ledger.Analyze(ctx, db) }},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			t.logger.Error("optimization step failed", slog.String("step", step.name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		t.logger.Info("optimization step done", slog.String("step", step.name))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	t.logger.Info("wallet performance optimization completed")
	return nil
}

func (t *tool) flushCache(ctx context.Context) error {
	client, err := infra.NewRedisClient(ctx, t.cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()
	return t.flush(ctx, client)
}

func (t *tool) flush(ctx context.Context, client *redis.Client) error {
	cache := balancecache.New(client, t.cfg.BalanceCacheTTL, t.logger)
	removed, err := cache.Flush(ctx, balancecache.WalletPrefix, balancecache.GamePrefix)
	if err != nil {
		return err
	}
	t.logger.Info("balance caches cleared", slog.Int("keys", removed))
	return nil
}
