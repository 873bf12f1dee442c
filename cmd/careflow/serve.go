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
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/careflow/internal/httpapi"
	"github.com/antoniostano/careflow/internal/record"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	api := httpapi.New(httpapi.Options{
		Engine:         a.engine,
		Intake:         a.intake,
		Followup:       a.followup,
		Triage:         a.triage,
		Notes:          a.notes,
		Codes:          a.codes,
		Transcriber:    a.transcriber,
		Escalations:    escalationLister(a),
		Notifier:       a.notifier,
		Metrics:        a.metrics,
		Logger:         a.log,
		MaxAudioBytes:  a.cfg.MaxAudioBytes(),
		AllowAnyOrigin: a.cfg.AllowAnyOrigin,
		Ready:          a.ready,
	})
	srv := &http.Server{
		Addr:              a.cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", a.cfg.BindAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("graceful shutdown failed")
			return srv.Close()
		}
		return nil
	})
	err := g.Wait()
	a.log.Info().Msg("shutdown complete")
	return err
}

func escalationLister(a *app) record.EscalationLister {
	if l, ok := a.recorder.(record.EscalationLister); ok {
		return l
	}
	return nil
}
