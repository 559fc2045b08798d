package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/torii/internal/model"
)

func newEventsCmd() *cobra.Command {
	var (
		journalPath string
		eventType   string
		sessionID   string
		offset      int
		limit       int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List journal events, optionally filtered by type or session",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := readJournalFile(journalPath)
			if err != nil {
				return err
			}

			var filtered []model.JournalEvent
			for _, e := range events {
				if eventType != "" && string(e.Type) != eventType {
					continue
				}
				if sessionID != "" && e.SessionID != sessionID {
					continue
				}
				filtered = append(filtered, e)
			}

			if offset >= len(filtered) {
				filtered = nil
			} else {
				filtered = filtered[offset:]
			}
			if limit > 0 && limit < len(filtered) {
				filtered = filtered[:limit]
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(filtered)
			}

			for _, e := range filtered {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-30s  session=%s  event_id=%s\n",
					e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Type, e.SessionID, e.EventID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d event(s)\n", len(filtered))
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "torii.journal", "journal file to read")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type (e.g. tool.failed)")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip the first N matching events")
	cmd.Flags().IntVar(&limit, "limit", 0, "return at most N events (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of a table")
	return cmd
}
