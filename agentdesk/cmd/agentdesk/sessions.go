package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentdesk/agentdesk/store"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openConfiguredStore()
		if err != nil {
			return err
		}
		defer st.Close()
		list, err := st.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if sessionsJSON {
			return writeIndented(cmd.OutOrStdout(), list)
		}
		return printSessions(cmd.OutOrStdout(), list, time.Now())
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openConfiguredStore()
		if err != nil {
			return err
		}
		defer st.Close()
		sess, err := st.GetSession(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if err != nil {
			return err
		}
		history, err := st.History(cmd.Context(), sess.ID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if sessionsJSON {
			return writeIndented(out, history)
		}
		fmt.Fprintf(out, "%s  %s  [%s]\n%s\n\n", sess.ID, sess.Title, sess.Status, sess.CWD)
		t := newTranscript(out)
		for _, msg := range history {
			t.render(msg)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete sessions and their history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openConfiguredStore()
		if err != nil {
			return err
		}
		defer st.Close()
		for _, id := range args {
			if err := st.DeleteSession(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	sessionsCmd.PersistentFlags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openConfiguredStore() (store.Gateway, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

func printSessions(w io.Writer, list []*store.Session, now time.Time) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no sessions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tUPDATED\tTITLE")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Status, formatAge(now.Sub(s.UpdatedAt)), s.Title)
	}
	return tw.Flush()
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
