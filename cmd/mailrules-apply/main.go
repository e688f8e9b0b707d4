package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshsymonds/mailrules/internal/process"
	"github.com/joshsymonds/mailrules/internal/rate"
	"github.com/joshsymonds/mailrules/internal/rules"
	"github.com/joshsymonds/mailrules/internal/runtime"
	"github.com/joshsymonds/mailrules/internal/store"
)

type applyConfig struct {
	cfgDir    string
	dbPath    string
	rulesPath string
	rps       int
	dryRun    bool
}

func main() {
	cfg := parseApplyFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailrules-apply failed", "error", err)
		os.Exit(1)
	}
}

func parseApplyFlags() applyConfig {
	cfgDir := flag.String("config", os.ExpandEnv("$HOME/.gmailctl"), "gmailctl auth directory")
	dbPath := flag.String("db", "emails.db", "path to the email database")
	rulesPath := flag.String("rules", "rules.json", "path to the rule-set document")
	rps := flag.Int("rps", 4, "max requests per second")
	dryRun := flag.Bool("dry-run", false, "log matches; skip modifications")
	flag.Parse()

	return applyConfig{
		cfgDir:    *cfgDir,
		dbPath:    *dbPath,
		rulesPath: *rulesPath,
		rps:       *rps,
		dryRun:    *dryRun,
	}
}

func run(cfg applyConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ruleSet, err := rules.Load(cfg.rulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

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

	svc := process.NewService(client, st, limiter, runtime.DefaultLogger())
	svc.Clock = time.Now

	spec := process.Spec{RuleSet: ruleSet, DryRun: cfg.dryRun}
	if runErr := svc.Run(ctx, spec); runErr != nil {
		return fmt.Errorf("run apply: %w", runErr)
	}
	return nil
}
