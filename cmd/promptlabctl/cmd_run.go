package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/promptlab/internal/model"
)

var runFlags struct {
	all bool
}

var runCmd = &cobra.Command{
	Use:   "run [<id>]",
	Short: "Run one test case, or all of them with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.all, "all", false, "Run every active test case")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runFlags.all == (len(args) == 1) {
		return errors.New("give either a test case id or --all")
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	if runFlags.all {
		resp, err := c.RunAll(cmd.Context())
		if err != nil {
			return err
		}
		return output(cmd.OutOrStdout(), resp, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TEST CASE\tSTATUS\tCONFIG\tDETAIL")
			for _, r := range resp.Results {
				fmt.Fprintf(tw, "%s\t%s\tv%d\t%s\n", r.TestCaseID, r.Status, r.ConfigVersion, resultDetail(r))
			}
			_ = tw.Flush()
			fmt.Fprintf(w, "%d complete, %d failed\n", resp.Complete, resp.Failed)
		})
	}

	id, err := parseIDArg(args[0])
	if err != nil {
		return err
	}
	r, err := c.RunTest(cmd.Context(), id)
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), r, func(w io.Writer) {
		fmt.Fprintf(w, "Result:  %s\n", r.ID)
		fmt.Fprintf(w, "Status:  %s (config v%d)\n", r.Status, r.ConfigVersion)
		if r.EnhancedPrompt != "" {
			fmt.Fprintf(w, "Prompt:\n%s\n", r.EnhancedPrompt)
		}
		if r.GeneratedImageID != nil {
			fmt.Fprintf(w, "Image:   %s/v1/images/%s\n", rootFlags.server, r.GeneratedImageID)
		}
		if r.ImageError != "" {
			fmt.Fprintf(w, "Error:   %s\n", r.ImageError)
		}
	})
}

func resultDetail(r model.TestResult) string {
	if r.Status == model.ResultError {
		return r.ImageError
	}
	if r.GeneratedImageID != nil {
		return "image " + r.GeneratedImageID.String()
	}
	return ""
}
