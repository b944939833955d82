package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, st.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.newHandler(ctx)
			if err != nil {
				return err
			}
			return serve(ctx, st.cfg.Server.Addr, h, st.cfg.Server.ShutdownTimeout)
		},
	}
	addAssistantFlags(cmd)
	cmd.Flags().String("addr", ":8080", "Listen address")
	return cmd
}

// serve runs srv until ctx is done, then drains in-flight requests for at
// most grace.
func serve(ctx context.Context, addr string, h http.Handler, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	log.Info().Dur("grace", grace).Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// addAssistantFlags registers the flags shared by commands that run the
// pipeline.
func addAssistantFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("provider", "openai", "Default LLM provider")
	f.String("retrieval", "sqlite", "Retrieval backend (sqlite, weaviate, none)")
	f.String("sqlite-path", "ncbot.db", "SQLite knowledge base path")
	f.String("weaviate-host", "localhost:8080", "Weaviate host")
	f.String("embedding-model", "", "Embedding model")
	f.Int("retrieval-limit", 10, "Passages per knowledge base")
	f.String("prompts-dir", "", "Load prompt templates from this directory")
}
