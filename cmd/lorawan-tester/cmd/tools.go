package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-tester/internal/analyzer"
	"github.com/lorawan-server/lorawan-tester/internal/session"
	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

var toolFlags struct {
	key, appKey, nwkKey, nwkSKey, appSKey string
	joinEUI, appNonce, netID, devNonce    string
	devAddr                               string
	fCnt                                  uint32
	fCntHigh                              uint16
	downlink                              bool
	fromSession, save                     bool
}

var decodeCmd = &cobra.Command{
	Use:   "decode FRAME",
	Short: "Decode a hex frame, verifying and decrypting with the given keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseHexArg(args[0])
		if err != nil {
			return err
		}

		var keys analyzer.Keys
		if keys.Root, err = optionalKeyFlag("key", toolFlags.key); err != nil {
			return err
		}
		if keys.NwkSKey, err = optionalKeyFlag("nwk-s-key", toolFlags.nwkSKey); err != nil {
			return err
		}
		if keys.AppSKey, err = optionalKeyFlag("app-s-key", toolFlags.appSKey); err != nil {
			return err
		}

		if toolFlags.fromSession {
			err := withHandle(cmd.Context(), func(h *session.Handle) error {
				rec, err := h.Record(cmd.Context())
				if err != nil {
					return err
				}
				if k, _, ok := rec.RootKey(); ok && keys.Root == nil {
					keys.Root = &k
				}
				if keys.NwkSKey == nil {
					keys.NwkSKey = rec.NwkSKey
				}
				if keys.AppSKey == nil {
					keys.AppSKey = rec.AppSKey
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		rec, err := analyzer.Describe(data, keys)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive the five session keys from a root key and the handshake nonces",
	Long: `derive computes NwkSKey, AppSKey, FNwkSIntKey, SNwkSIntKey and NwkSEncKey.
With --from-session the inputs come from the current session record, and
--save writes the result back to it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var ks lorawan.DerivedKeySet
		if toolFlags.fromSession {
			err := withHandle(cmd.Context(), func(h *session.Handle) error {
				return h.Update(cmd.Context(), func(r *session.Record) error {
					var err error
					ks, err = deriveFromRecord(r)
					if err != nil {
						return err
					}
					if toolFlags.save {
						r.SetDerivedKeys(ks)
						return nil
					}
					return errNoSave
				})
			})
			if err != nil && err != errNoSave {
				return err
			}
		} else {
			var err error
			ks, err = deriveFromFlags()
			if err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "NwkSKey\t%s\n", ks.NwkSKey)
		fmt.Fprintf(w, "AppSKey\t%s\n", ks.AppSKey)
		fmt.Fprintf(w, "FNwkSIntKey\t%s\n", ks.FNwkSIntKey)
		fmt.Fprintf(w, "SNwkSIntKey\t%s\n", ks.SNwkSIntKey)
		fmt.Fprintf(w, "NwkSEncKey\t%s\n", ks.NwkSEncKey)
		return w.Flush()
	},
}

// errNoSave aborts a record update without writing
var errNoSave = fmt.Errorf("not saved")

func deriveFromRecord(r *session.Record) (lorawan.DerivedKeySet, error) {
	appKey, _, ok := r.RootKey()
	if !ok {
		return lorawan.DerivedKeySet{}, &lorawan.Error{Err: lorawan.ErrMissingKey, Field: session.AppKey.String()}
	}
	nwkKey, _ := r.NwkRootKey()

	for _, p := range []session.Param{session.JoinRequestDevNonce, session.JoinAcceptAppNonce, session.JoinAcceptNetID} {
		if _, set := r.Get(p); !set {
			return lorawan.DerivedKeySet{}, &lorawan.Error{Err: lorawan.ErrMissingKey, Field: p.String()}
		}
	}

	var joinEUI lorawan.EUI64
	if r.JoinEUI != nil {
		joinEUI = *r.JoinEUI
	}
	return lorawan.DeriveSessionKeys(appKey, nwkKey, joinEUI, *r.AppNonce, *r.NetID, *r.DevNonce)
}

func deriveFromFlags() (lorawan.DerivedKeySet, error) {
	var ks lorawan.DerivedKeySet

	appKey, err := lorawan.ParseAES128Key(toolFlags.appKey)
	if err != nil {
		return ks, fmt.Errorf("--app-key: %w", err)
	}
	nwkKey := appKey
	if toolFlags.nwkKey != "" {
		if nwkKey, err = lorawan.ParseAES128Key(toolFlags.nwkKey); err != nil {
			return ks, fmt.Errorf("--nwk-key: %w", err)
		}
	}
	joinEUI, err := lorawan.ParseEUI64(toolFlags.joinEUI)
	if err != nil {
		return ks, fmt.Errorf("--join-eui: %w", err)
	}
	appNonce, err := lorawan.ParseJoinNonce(toolFlags.appNonce)
	if err != nil {
		return ks, fmt.Errorf("--app-nonce: %w", err)
	}
	netID, err := lorawan.ParseNetID(toolFlags.netID)
	if err != nil {
		return ks, fmt.Errorf("--net-id: %w", err)
	}
	devNonce, err := lorawan.ParseDevNonce(toolFlags.devNonce)
	if err != nil {
		return ks, fmt.Errorf("--dev-nonce: %w", err)
	}
	return lorawan.DeriveSessionKeys(appKey, nwkKey, joinEUI, appNonce, netID, devNonce)
}

var cipherCmd = &cobra.Command{
	Use:   "cipher PAYLOAD",
	Short: "Encrypt or decrypt an FRMPayload (the operation is symmetric)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseHexArg(args[0])
		if err != nil {
			return err
		}
		key, err := lorawan.ParseAES128Key(toolFlags.key)
		if err != nil {
			return fmt.Errorf("--key: %w", err)
		}
		devAddr, err := lorawan.ParseDevAddr(toolFlags.devAddr)
		if err != nil {
			return fmt.Errorf("--dev-addr: %w", err)
		}
		dir := lorawan.Uplink
		if toolFlags.downlink {
			dir = lorawan.Downlink
		}

		out, err := lorawan.CipherFRMPayload(key, dir, devAddr, toolFlags.fCnt, data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(out))
		return nil
	},
}

var micCmd = &cobra.Command{
	Use:   "mic FRAME",
	Short: "Compute the MIC of a frame and compare it with the one it carries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseHexArg(args[0])
		if err != nil {
			return err
		}
		key, err := lorawan.ParseAES128Key(toolFlags.key)
		if err != nil {
			return fmt.Errorf("--key: %w", err)
		}

		p, err := lorawan.Decode(data, &key)
		if err != nil {
			return err
		}
		carried := p.MIC

		switch mt := p.MHDR.MType; {
		case mt == lorawan.JoinRequest || mt == lorawan.JoinAccept:
			err = p.SetJoinMIC(key)
		case mt.IsData():
			err = p.SetDataMIC(key, toolFlags.fCntHigh)
		default:
			return fmt.Errorf("no MIC scheme for %s", mt)
		}
		if err != nil {
			return err
		}

		status := "valid"
		if p.MIC != carried {
			status = "MISMATCH"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "computed %s carried %s %s\n", p.MIC, carried, status)
		return nil
	},
}

func init() {
	decodeCmd.Flags().StringVar(&toolFlags.key, "key", "", "root key (AppKey or NwkKey) for join frames")
	decodeCmd.Flags().StringVar(&toolFlags.nwkSKey, "nwk-s-key", "", "NwkSKey for data MIC and port 0")
	decodeCmd.Flags().StringVar(&toolFlags.appSKey, "app-s-key", "", "AppSKey for application payloads")
	decodeCmd.Flags().BoolVar(&toolFlags.fromSession, "from-session", false, "take missing keys from the current session")

	deriveCmd.Flags().StringVar(&toolFlags.appKey, "app-key", "", "AppKey")
	deriveCmd.Flags().StringVar(&toolFlags.nwkKey, "nwk-key", "", "NwkKey (default: AppKey)")
	deriveCmd.Flags().StringVar(&toolFlags.joinEUI, "join-eui", "0000000000000000", "JoinEUI / AppEUI")
	deriveCmd.Flags().StringVar(&toolFlags.appNonce, "app-nonce", "", "AppNonce / JoinNonce")
	deriveCmd.Flags().StringVar(&toolFlags.netID, "net-id", "", "NetID")
	deriveCmd.Flags().StringVar(&toolFlags.devNonce, "dev-nonce", "", "DevNonce")
	deriveCmd.Flags().BoolVar(&toolFlags.fromSession, "from-session", false, "read the inputs from the current session")
	deriveCmd.Flags().BoolVar(&toolFlags.save, "save", false, "with --from-session, store the derived keys")

	cipherCmd.Flags().StringVar(&toolFlags.key, "key", "", "AppSKey, or NwkSKey for port 0")
	cipherCmd.Flags().StringVar(&toolFlags.devAddr, "dev-addr", "", "DevAddr")
	cipherCmd.Flags().Uint32Var(&toolFlags.fCnt, "fcnt", 0, "full 32 bit frame counter")
	cipherCmd.Flags().BoolVar(&toolFlags.downlink, "down", false, "downlink direction")
	cipherCmd.MarkFlagRequired("key")
	cipherCmd.MarkFlagRequired("dev-addr")

	micCmd.Flags().StringVar(&toolFlags.key, "key", "", "root key for join frames, NwkSKey for data frames")
	micCmd.Flags().Uint16Var(&toolFlags.fCntHigh, "fcnt-high", 0, "upper 16 bits of the frame counter")
	micCmd.MarkFlagRequired("key")

	rootCmd.AddCommand(decodeCmd, deriveCmd, cipherCmd, micCmd)
}

func parseHexArg(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("frame is not hex: %w", err)
	}
	return b, nil
}

func optionalKeyFlag(name, s string) (*lorawan.AES128Key, error) {
	if s == "" {
		return nil, nil
	}
	k, err := lorawan.ParseAES128Key(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &k, nil
}
