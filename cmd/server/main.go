package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jclement/droidmdm/internal/apkstore"
	"github.com/jclement/droidmdm/internal/config"
	"github.com/jclement/droidmdm/internal/db"
	"github.com/jclement/droidmdm/internal/mdm"
	"github.com/jclement/droidmdm/internal/metrics"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "droidmdm",
		Short: "Android device enrollment and command server",
		Long: `
droidmdm enrolls Android devices through QR provisioning, tracks them with
heartbeats and delivers commands to the device policy controller.

Configuration is read from the environment (PORT, BASE_URL, DATABASE_PATH,
SESSION_SECRET, AZURE_*, APK_*, LOG_LEVEL, LOG_FORMAT, ...).
`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, newCleanupCmd(), newImportPoliciesCmd())
	return root
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}

	if strings.EqualFold(cfg.LogFormat, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "droidmdm").Logger()
}

// app holds what every subcommand needs.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	db      *db.DB
	store   apkstore.Store
	metrics *metrics.Metrics
	mdm     *mdm.Service
}

func newApp(withMetrics bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, os.Stderr)

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store, err := apkstore.New(cfg.APKStore, cfg.BaseURL)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize APK store: %w", err)
	}

	var m *metrics.Metrics
	if withMetrics && cfg.MetricsEnabled {
		m = metrics.New()
	}

	svc := mdm.New(database, store, cfg, mdm.WithLogger(logger), mdm.WithMetrics(m))
	return &app{cfg: cfg, log: logger, db: database, store: store, metrics: m, mdm: svc}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Error().Err(err).Msg("close database")
	}
}
