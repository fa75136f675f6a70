// Command charge-ledger reconciles Stripe charges into a local invoice ledger.
//
//	charge-ledger serve                  # receive Stripe webhooks on :8080
//	charge-ledger ingest charges.json    # replay exported charges
//	charge-ledger show ch_123            # print one invoice
//	charge-ledger show 42                # same, by local id
//
// Configuration is read from config.yaml (or --config) and LEDGER_*
// environment variables, e.g. LEDGER_STRIPE_SECRET_KEY.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkantrust/charge-ledger/config"
	"github.com/arkantrust/charge-ledger/directory"
	"github.com/arkantrust/charge-ledger/ingest"
	"github.com/arkantrust/charge-ledger/logging"
	"github.com/arkantrust/charge-ledger/owners"
	"github.com/arkantrust/charge-ledger/processor"
	"github.com/arkantrust/charge-ledger/store"
)

// Version is the build version, set with -ldflags "-X main.Version=...".
var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "charge-ledger",
		Short:         "Reconcile processor charges into an invoice ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(showCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the wired services shared by all commands.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *store.Store
	directory *gorm.DB
	resolver  *owners.Resolver
	ingestor  *ingest.Ingestor
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	numbering, err := ingest.ParseNumbering(cfg.Ingest.Numbering)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.New(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	db, err := directory.Open(directory.Config{Path: cfg.Directory.Path, LogMode: cfg.Directory.LogMode})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open directory: %w", err)
	}

	stripeClient := processor.New(cfg.Stripe.SecretKey)
	resolver := owners.NewResolver(log,
		directory.NewSubscriptions(db),
		stripeClient,
		directory.NewAccounts(db),
		owners.Config{CallTimeout: cfg.Stripe.CallTimeout})
	ingestor := ingest.New(log, s, resolver, stripeClient, ingest.Config{
		Numbering:   numbering,
		CallTimeout: cfg.Stripe.CallTimeout,
	})

	return &app{
		cfg:       cfg,
		log:       log,
		store:     s,
		directory: db,
		resolver:  resolver,
		ingestor:  ingestor,
	}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.directory.DB(); err == nil {
		sqlDB.Close()
	}
	a.store.Close()
	a.log.Sync() //nolint:errcheck
}
