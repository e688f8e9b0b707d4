package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/mailrules/internal/fetch"
	"github.com/joshsymonds/mailrules/internal/rate"
	"github.com/joshsymonds/mailrules/internal/runtime"
	"github.com/joshsymonds/mailrules/internal/store"
)

type fetchConfig struct {
	cfgDir   string
	dbPath   string
	query    string
	max      int
	pageSize int
	rps      int
}

func main() {
	cfg := parseFetchFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailrules-fetch failed", "error", err)
		os.Exit(1)
	}
}

func parseFetchFlags() fetchConfig {
	cfgDir := flag.String("config", os.ExpandEnv("$HOME/.gmailctl"), "gmailctl auth directory")
	dbPath := flag.String("db", "emails.db", "path to the email database")
	query := flag.String("query", "", "optional Gmail query to restrict the fetch")
	maxEmails := flag.Int("max", 100, "number of latest emails to store")
	pageSize := flag.Int("page-size", 500, "Gmail list page size (<=500)")
	rps := flag.Int("rps", 4, "max requests per second")
	flag.Parse()

	return fetchConfig{
		cfgDir:   *cfgDir,
		dbPath:   *dbPath,
		query:    *query,
		max:      *maxEmails,
		pageSize: *pageSize,
		rps:      *rps,
	}
}

func run(cfg fetchConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := runtime.NewGmailClient(ctx, cfg.cfgDir)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	st, err := store.Open(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	var (
		limiter rate.Limiter
		bucket  *rate.TokenBucket
	)
	if cfg.rps > 0 {
		bucket = rate.NewTokenBucket(cfg.rps)
		limiter = bucket
		defer bucket.Stop()
	}

	svc := fetch.NewService(client, st, limiter, runtime.DefaultLogger())
	spec := fetch.Spec{Query: cfg.query, MaxEmails: cfg.max, PageSize: cfg.pageSize}
	if runErr := svc.Run(ctx, spec); runErr != nil {
		return fmt.Errorf("run fetch: %w", runErr)
	}
	return nil
}
