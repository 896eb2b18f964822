package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-tester/internal/analyzer"
	"github.com/lorawan-server/lorawan-tester/internal/capture"
	"github.com/lorawan-server/lorawan-tester/internal/integration"
	"github.com/lorawan-server/lorawan-tester/internal/models"
	"github.com/lorawan-server/lorawan-tester/internal/session"
	"github.com/lorawan-server/lorawan-tester/internal/transmit"
)

var analyzeFlags struct {
	source string
	file   string
	json   bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [FILE]",
	Short: "Analyse captured frames against the current session",
	Long: `analyze feeds frames from a capture source through the session analyzer.
Join requests and join accepts update the current session; once both are
seen the session keys are derived and later data frames are decrypted.

The source defaults to capture.source from the configuration. A FILE
argument selects the hex file source.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source := cfg.Capture.Source
		if analyzeFlags.source != "" {
			source = analyzeFlags.source
		}
		file := analyzeFlags.file
		if len(args) == 1 {
			source, file = "file", args[0]
		}

		sessions, store, err := openSessions(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		r := &radio{}
		defer r.Close()

		forwarder, err := r.publishers()
		if err != nil {
			return err
		}
		defer forwarder.Close()
		if analyzeFlags.json {
			forwarder.Add(newJSONLines(cmd.OutOrStdout()))
		}

		a := analyzer.New(sessions, analyzer.WithHistory(cfg.Capture.History))
		if err := a.Sync(ctx); err != nil {
			if errors.Is(err, session.ErrNoCurrentSession) {
				return fmt.Errorf("%w, create one with 'session new NAME'", err)
			}
			return err
		}

		src, err := r.source(ctx, source, file)
		if err != nil {
			return err
		}
		defer src.Close()

		loop := capture.NewLoop(src, analyzer.NewPipeline(a, forwarder, cfg.Capture.DedupWindow))
		err = loop.Run(ctx)

		st := loop.Stats()
		log.Info().
			Uint64("frames", st.Frames).
			Uint64("failed", st.Failed).
			Uint64("skipped", st.Skipped).
			Str("state", a.State().String()).
			Msg("Analysis finished")

		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Transmit every frame of a hex capture file through the configured sink",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		r := &radio{}
		defer r.Close()

		src, err := capture.OpenHexFile(args[0], cfg.Capture.HexFile)
		if err != nil {
			return err
		}
		defer src.Close()

		sink, err := r.sink(ctx, nil)
		if err != nil {
			return err
		}
		if r.udp != nil {
			if err := waitForGateway(ctx, r.udp, gatewayWait); err != nil {
				return err
			}
		}

		n, err := transmit.Replay(ctx, src, sink, cfg.Transmitter.Delay)
		log.Info().Int("sent", n).Str("sink", sink.Name()).Msg("Replay finished")
		return err
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFlags.source, "source", "", "capture source: file, udp or nats")
	analyzeCmd.Flags().StringVar(&analyzeFlags.file, "file", "", "hex capture file for the file source")
	analyzeCmd.Flags().BoolVar(&analyzeFlags.json, "json", false, "print every frame record as a JSON line")

	replayCmd.Flags().DurationVar(&gatewayWait, "gateway-wait", gatewayWait, "with the udp sink, how long to wait for a gateway")

	rootCmd.AddCommand(analyzeCmd, replayCmd)
}

// jsonLines writes frame records as JSON lines
type jsonLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ integration.Publisher = (*jsonLines)(nil)

func newJSONLines(w io.Writer) *jsonLines {
	return &jsonLines{enc: json.NewEncoder(w)}
}

func (j *jsonLines) Publish(ctx context.Context, rec *models.FrameRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(rec)
}
