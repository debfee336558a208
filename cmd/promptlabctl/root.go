// Command promptlabctl drives a promptlab server from the terminal: edit the
// enhancer config, manage test cases, trigger runs and follow live events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/promptlab/internal/client"
	"github.com/ashita-ai/promptlab/internal/model"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	server  string
	source  string
	json    bool
	timeout time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "promptlabctl",
	Short: "Command-line client for a promptlab server",
	Long: "promptlabctl edits the enhancer config, manages test cases, runs them\n" +
		"and follows live updates. Changes are recorded as agent changes unless\n" +
		"--source=ui is given.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.server, "server", envOr("PROMPTLAB_URL", "http://localhost:8080"), "promptlab server URL")
	f.StringVar(&rootFlags.source, "source", string(model.SourceAgent), "Change source recorded in the changelog (ui or agent)")
	f.BoolVar(&rootFlags.json, "json", false, "Print raw JSON instead of text")
	f.DurationVar(&rootFlags.timeout, "timeout", 10*time.Minute, "Per-request timeout")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(casesCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(changelogCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.Version = version
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() (*client.Client, error) {
	source, err := model.ParseSource(rootFlags.source)
	if err != nil {
		return nil, err
	}
	return client.New(rootFlags.server,
		client.WithSource(source),
		client.WithTimeout(rootFlags.timeout),
	), nil
}

// output prints v as indented JSON when --json is set, otherwise calls text.
func output(w io.Writer, v any, text func(io.Writer)) error {
	if !rootFlags.json {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
