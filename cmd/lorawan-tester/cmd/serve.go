package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-tester/internal/analyzer"
	"github.com/lorawan-server/lorawan-tester/internal/api"
	"github.com/lorawan-server/lorawan-tester/internal/capture"
	"github.com/lorawan-server/lorawan-tester/internal/config"
	"github.com/lorawan-server/lorawan-tester/internal/forger"
	"github.com/lorawan-server/lorawan-tester/internal/metrics"
)

var serveFlags struct {
	noCapture bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator API together with the live capture loop",
	Long: `serve starts the REST API and, for the udp and nats capture sources,
a capture loop that analyses frames as they arrive. Forged frames requested
through the API are transmitted through the configured sink.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveFlags.noCapture, "no-capture", false, "only run the API")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg.PrintConfigSummary(cmd.ErrOrStderr())

	sessions, store, err := openSessions(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	r := &radio{}
	defer r.Close()

	forwarder, err := r.publishers()
	if err != nil {
		return err
	}
	defer forwarder.Close()

	a := analyzer.New(sessions, analyzer.WithMetrics(m), analyzer.WithHistory(cfg.Capture.History))
	if err := a.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("No usable current session yet")
	}

	sink, err := r.sink(ctx, m)
	if err != nil {
		return err
	}

	var loop *capture.Loop
	loopDone := make(chan error, 1)
	live := cfg.Capture.Source == config.SourceUDP || cfg.Capture.Source == config.SourceNATS
	if live && !serveFlags.noCapture {
		src, err := r.source(ctx, cfg.Capture.Source, "")
		if err != nil {
			return err
		}
		loop = capture.NewLoop(src, analyzer.NewPipeline(a, forwarder, cfg.Capture.DedupWindow))
		go func() {
			loopDone <- loop.Run(ctx)
		}()
		log.Info().Str("source", cfg.Capture.Source).Msg("Capture loop started")
	}

	deps := api.Deps{
		Sessions: sessions,
		Analyzer: a,
		Forger:   forger.New(sessions, m),
		Sink:     sink,
	}
	if forwarder.Len() > 0 {
		deps.Publisher = forwarder
	}
	if r.udp != nil {
		deps.Gateways = r.udp
	}
	if cfg.Metrics.Enabled {
		deps.Registry = reg
	}
	srv := api.NewRESTServer(cfg, deps)

	srvErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case runErr = <-srvErr:
	case runErr = <-loopDone:
		if runErr == nil {
			log.Info().Msg("Capture source ended")
		}
	}

	if loop != nil {
		loop.Stop()
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API shutdown failed")
	}

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return runErr
}
