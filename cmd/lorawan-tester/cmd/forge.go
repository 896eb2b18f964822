package cmd

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-tester/internal/forger"
)

var gatewayWait = 30 * time.Second

var forgeFlags struct {
	send      bool
	fCnt      int64
	rxDelay   int
	confirmed bool
	cfList    string
	payload   string
	randomDN  bool
}

var forgeCmd = &cobra.Command{
	Use:   "forge",
	Short: "Build frames from the current session",
	Long: `forge builds a frame from the current session record. Fields the session
does not hold are filled with fixed placeholder values and reported.
With --send the frame goes to the configured transmitter sink.`,
}

func forgeKindCmd(kind forger.Kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForge(cmd, kind)
		},
	}
}

func runForge(cmd *cobra.Command, kind forger.Kind) error {
	ctx := cmd.Context()

	opts := forger.Options{Confirmed: forgeFlags.confirmed, RandomDevNonce: forgeFlags.randomDN}
	if forgeFlags.fCnt >= 0 {
		v := uint32(forgeFlags.fCnt)
		opts.FCnt = &v
	}
	if forgeFlags.rxDelay >= 0 {
		if forgeFlags.rxDelay > 15 {
			return fmt.Errorf("--rx-delay must be 0..15")
		}
		v := uint8(forgeFlags.rxDelay)
		opts.RxDelay = &v
	}
	if forgeFlags.cfList != "" {
		b, err := hex.DecodeString(forgeFlags.cfList)
		if err != nil || len(b) != 16 {
			return fmt.Errorf("--cflist must be 16 bytes of hex")
		}
		opts.CFList = b
	}
	if forgeFlags.payload != "" {
		b, err := hex.DecodeString(forgeFlags.payload)
		if err != nil {
			return fmt.Errorf("--payload: %w", err)
		}
		opts.JamPayload = b
	}

	sessions, store, err := openSessions(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := forger.New(sessions, nil).Forge(ctx, kind, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Frame)
	for _, p := range res.Placeholders {
		fmt.Fprintf(out, "  placeholder %s = %s\n", p.Field, p.Value)
	}
	for _, g := range res.Generated {
		fmt.Fprintf(out, "  generated %s = %s\n", g.Field, g.Value)
	}

	if !forgeFlags.send {
		return nil
	}

	r := &radio{}
	defer r.Close()
	sink, err := r.sink(ctx, nil)
	if err != nil {
		return err
	}
	if r.udp != nil {
		if err := waitForGateway(ctx, r.udp, gatewayWait); err != nil {
			return err
		}
	}
	if err := sink.Send(ctx, res.Frame); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}

	log.Info().
		Str("kind", string(kind)).
		Str("sink", sink.Name()).
		Msg("Forged frame sent")
	return nil
}

func init() {
	forgeCmd.PersistentFlags().BoolVar(&forgeFlags.send, "send", false, "transmit the frame through the configured sink")
	forgeCmd.PersistentFlags().DurationVar(&gatewayWait, "gateway-wait", gatewayWait, "with the udp sink, how long to wait for a gateway")

	ja := forgeKindCmd(forger.KindJoinAccept, "Forge a Join Accept encrypted and signed with the root key")
	ja.Flags().IntVar(&forgeFlags.rxDelay, "rx-delay", -1, "RxDelay (default: placeholder)")
	ja.Flags().StringVar(&forgeFlags.cfList, "cflist", "", "16 byte CFList")

	ack := forgeKindCmd(forger.KindACK, "Forge an unconfirmed downlink with the ACK bit set")
	ack.Flags().Int64Var(&forgeFlags.fCnt, "fcnt", -1, "downlink frame counter (default: placeholder)")
	ack.Flags().BoolVar(&forgeFlags.confirmed, "confirmed", false, "send as confirmed data down")

	jam := forgeKindCmd(forger.KindJam, "Forge a jamming frame")
	jam.Flags().StringVar(&forgeFlags.payload, "payload", "", "jam payload hex (default: placeholder)")

	jr := forgeKindCmd(forger.KindJoinRequest, "Forge a Join Request signed with the root key")
	jr.Flags().BoolVar(&forgeFlags.randomDN, "random-devnonce", false, "use a fresh random DevNonce instead of the session one")

	forgeCmd.AddCommand(jr, ja, ack, jam)
	rootCmd.AddCommand(forgeCmd)
}
