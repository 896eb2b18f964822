package cmd

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-tester/internal/session"
)

var sessionName string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage named session records",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new NAME",
	Short: "Create an empty session and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), func(m *session.Manager) error {
			if err := m.CreateSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s created and activated\n", args[0])
			return nil
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, the current one marked with *",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), func(m *session.Manager) error {
			names, err := m.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			sort.Strings(names)
			current, _ := m.Current(cmd.Context())
			for _, n := range names {
				mark := " "
				if n == current {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, n)
			}
			return nil
		})
	},
}

var sessionUseCmd = &cobra.Command{
	Use:   "use NAME",
	Short: "Make a session current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), func(m *session.Manager) error {
			return m.Activate(cmd.Context(), args[0])
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every parameter of a session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHandle(cmd.Context(), func(h *session.Handle) error {
			rec, err := h.Record(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Session\t%s\n", h.Name())
			for _, p := range session.Params() {
				v, ok := rec.Get(p)
				if !ok {
					v = "-"
				}
				fmt.Fprintf(w, "%s\t%s\n", p, v)
			}
			return w.Flush()
		})
	},
}

var sessionSetCmd = &cobra.Command{
	Use:   "set PARAM VALUE",
	Short: "Set a parameter, e.g. set AppKey 2b7e151628aed2a6abf7158809cf4f3c",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := session.ParseParam(args[0])
		if err != nil {
			return err
		}
		return withHandle(cmd.Context(), func(h *session.Handle) error {
			return h.Set(cmd.Context(), p, args[1])
		})
	},
}

var sessionUnsetCmd = &cobra.Command{
	Use:   "unset PARAM|all",
	Short: "Clear a parameter, or every parameter with all",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "all" {
			return withHandle(cmd.Context(), func(h *session.Handle) error {
				return h.Reset(cmd.Context())
			})
		}
		p, err := session.ParseParam(args[0])
		if err != nil {
			return err
		}
		return withHandle(cmd.Context(), func(h *session.Handle) error {
			return h.Unset(cmd.Context(), p)
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), func(m *session.Manager) error {
			return m.Delete(cmd.Context(), args[0])
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{sessionShowCmd, sessionSetCmd, sessionUnsetCmd} {
		c.Flags().StringVarP(&sessionName, "session", "s", "", "session name (default: current session)")
	}
	sessionCmd.AddCommand(sessionNewCmd, sessionListCmd, sessionUseCmd, sessionShowCmd,
		sessionSetCmd, sessionUnsetCmd, sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

func withSessions(ctx context.Context, fn func(*session.Manager) error) error {
	m, store, err := openSessions(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(m)
}

// withHandle runs fn on --session or the current session
func withHandle(ctx context.Context, fn func(*session.Handle) error) error {
	return withSessions(ctx, func(m *session.Manager) error {
		if sessionName != "" {
			return fn(m.With(sessionName))
		}
		h, err := m.WithCurrent(ctx)
		if err != nil {
			return err
		}
		return fn(h)
	})
}
