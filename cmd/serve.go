package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/makwenta/pkg/config"
	qstashx "github.com/tanpawarit/makwenta/pkg/qstash"
	"github.com/tanpawarit/makwenta/transport/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the chat endpoint and the QStash-signed recurring expense callback.
The callback stays disabled unless QSTASH_* signing keys are configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides APP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := setupContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}

	opts := httpapi.Options{CallbackURL: a.cfg.CallbackURL}
	if qCfg, err := configx.New[qstashx.Config]("QSTASH"); err != nil {
		a.log.Warn().Err(err).Msg("qstash not configured, recurring callback disabled")
	} else {
		client, err := qstashx.NewClient(*qCfg)
		if err != nil {
			return err
		}
		opts.Verifier = client
	}

	handler, err := httpapi.New(orch, a.processor, opts)
	if err != nil {
		return err
	}

	addr := a.cfg.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
