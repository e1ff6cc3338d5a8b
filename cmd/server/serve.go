package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jclement/droidmdm/internal/apkstore"
	"github.com/jclement/droidmdm/internal/auth"
	"github.com/jclement/droidmdm/internal/handlers"
	"github.com/jclement/droidmdm/internal/middleware"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	var oidcProvider *auth.OIDCProvider
	if auth.Enabled(a.cfg.OIDC) {
		oidcProvider, err = auth.NewOIDCProvider(ctx, a.cfg.OIDC, a.cfg.BaseURL)
		if err != nil {
			return err
		}
	} else {
		log.Warn().Msg("AZURE_* not set, operator sign-in disabled")
	}

	sessionStore := middleware.NewSessionStore(a.cfg.SessionSecret, a.cfg.SecureCookies())
	files, _ := a.store.(*apkstore.Local)

	h := handlers.New(a.mdm, a.db, oidcProvider, sessionStore, files, a.metrics, Version)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           middleware.RequestContext(log)(h.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.cfg.CleanupInterval > 0 {
		go a.mdm.RunCleanup(ctx, a.cfg.CleanupInterval, a.cfg.CommandRetentionDays)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", a.cfg.Port).
			Str("base_url", a.cfg.BaseURL).
			Str("apk_store", a.cfg.APKStore.Backend).
			Str("version", Version).
			Msg("droidmdm starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
