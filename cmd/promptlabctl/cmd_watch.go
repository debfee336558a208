package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/watch"
)

var watchFlags struct {
	since  string
	policy watch.Policy
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live updates, reconnecting with backoff",
	Long: `Stream events from the server until interrupted. Dropped connections are
retried with exponential backoff and resume after the last changelog entry
already printed.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	def := watch.DefaultPolicy()
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.since, "since", "", "Resume after this changelog entry id")
	f.DurationVar(&watchFlags.policy.BaseDelay, "base-delay", def.BaseDelay, "First reconnect delay")
	f.Float64Var(&watchFlags.policy.Multiplier, "multiplier", def.Multiplier, "Reconnect delay growth factor")
	f.DurationVar(&watchFlags.policy.MaxDelay, "max-delay", def.MaxDelay, "Reconnect delay cap")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

	sup, err := watch.New(watchFlags.policy, c.Subscribe,
		func(ev watch.Event) { printEvent(out, ev) },
		watch.WithSince(watchFlags.since),
		watch.WithLogger(logger))
	if err != nil {
		return err
	}
	return sup.Run(cmd.Context())
}

func printEvent(w io.Writer, ev watch.Event) {
	if rootFlags.json {
		fmt.Fprintf(w, "%s\n", ev.Data)
		return
	}
	switch ev.Type {
	case "initial_state":
		var s struct {
			Config    model.EnhancerConfig   `json:"config"`
			TestCases []model.TestCase       `json:"test_cases"`
			Changes   []model.ChangelogEntry `json:"changes"`
		}
		if json.Unmarshal(ev.Data, &s) != nil {
			break
		}
		fmt.Fprintf(w, "connected: config v%d, %d test cases\n", s.Config.Version, len(s.TestCases))
		for _, e := range s.Changes {
			printEntry(w, e)
		}
		return
	case "changelog_entry_added":
		var s struct {
			Entry model.ChangelogEntry `json:"entry"`
		}
		if json.Unmarshal(ev.Data, &s) != nil {
			break
		}
		printEntry(w, s.Entry)
		return
	case "test_result_updated":
		var s struct {
			Result model.TestResult `json:"result"`
		}
		if json.Unmarshal(ev.Data, &s) != nil {
			break
		}
		fmt.Fprintf(w, "result %s  %s  %s\n", s.Result.TestCaseID, s.Result.Status, s.Result.ImageError)
		return
	case "connected":
		return
	}
	fmt.Fprintf(w, "%s %s\n", ev.Type, ev.Data)
}
