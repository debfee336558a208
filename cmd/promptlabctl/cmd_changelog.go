package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/promptlab/internal/model"
)

var changelogFlags struct {
	since string
}

var changelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Print changelog entries, optionally after a cursor",
	Args:  cobra.NoArgs,
	RunE:  runChangelog,
}

func init() {
	changelogCmd.Flags().StringVar(&changelogFlags.since, "since", "", "Only entries after this entry id")
}

func runChangelog(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	resp, err := c.Changelog(cmd.Context(), changelogFlags.since)
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), resp, func(w io.Writer) {
		for _, e := range resp.Entries {
			printEntry(w, e)
		}
		if resp.LatestID != nil {
			fmt.Fprintf(w, "latest: %s\n", resp.LatestID)
		}
	})
}

func printEntry(w io.Writer, e model.ChangelogEntry) {
	fmt.Fprintf(w, "%s  %-5s  %-22s  %s  [%s]\n", shortTime(e.Timestamp), e.Source, e.Action, e.Summary, e.ID)
}
