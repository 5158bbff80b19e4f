package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/tone-stabilizer/internal/logging"
	"github.com/danielpatrickdp/tone-stabilizer/internal/state"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

var (
	inspectDB      string
	inspectSession string
	inspectLast    int
	inspectJSON    bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show a session's snapshot versions and turn journal from a SQLite store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspectDB == "" || inspectSession == "" {
			return fmt.Errorf("--db and --session are required")
		}
		return runInspect(cmd, os.Stdout)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "", "path to the SQLite store")
	inspectCmd.Flags().StringVar(&inspectSession, "session", "", "session id")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent versions and turns")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of tables")
}

// #region inspect
type versionRow struct {
	VersionID  string  `json:"version_id"`
	ParentID   string  `json:"parent_id,omitempty"`
	Version    int64   `json:"version"`
	Turns      int     `json:"turns"`
	HistoryLen int     `json:"history_len"`
	LastWarmth float64 `json:"last_warmth"`
	CreatedAt  string  `json:"created_at"`
}

type inspectOutput struct {
	SessionID string              `json:"session_id"`
	Versions  []versionRow        `json:"versions"`
	Turns     []logging.TurnEntry `json:"turns"`
}

func runInspect(cmd *cobra.Command, w io.Writer) error {
	store, err := state.NewSQLiteStore(inspectDB)
	if err != nil {
		return err
	}
	defer store.Close()

	snaps, err := store.ListVersions(cmd.Context(), inspectSession, inspectLast)
	if err != nil {
		return err
	}
	if err := logging.EnsureSchema(store.DB()); err != nil {
		return err
	}
	turns, err := logging.ListTurns(store.DB(), inspectSession, inspectLast)
	if err != nil {
		return err
	}

	out := inspectOutput{SessionID: inspectSession, Turns: turns}
	for _, s := range snaps {
		row := versionRow{
			VersionID:  s.VersionID,
			ParentID:   s.ParentID,
			Version:    s.Version,
			Turns:      s.State.Turns,
			HistoryLen: len(s.State.History),
			CreatedAt:  s.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if n := len(s.State.History); n > 0 {
			row.LastWarmth = s.State.History[n-1][tone.Warmth]
		}
		out.Versions = append(out.Versions, row)
	}

	if inspectJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "VERSION\tID\tPARENT\tTURNS\tHISTORY\tLAST WARMTH\tCREATED\n")
	for _, r := range out.Versions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%.4f\t%s\n", r.Version, short(r.VersionID), short(r.ParentID), r.Turns, r.HistoryLen, r.LastWarmth, r.CreatedAt)
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "TURN\tACTION\tVERSION\tREASON\n")
	for _, e := range out.Turns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.TurnID, e.Action, short(e.VersionID), e.Reason)
	}
	return tw.Flush()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion inspect
