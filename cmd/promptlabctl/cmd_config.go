package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/promptlab/internal/model"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and edit the enhancer config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current config",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetFlags struct {
	systemPrompt     string
	systemPromptFile string
	model            string
	imageModel       string
	name             string
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save a new config version; unset flags keep their current value",
	Args:  cobra.NoArgs,
	RunE:  runConfigSet,
}

var configRevertCmd = &cobra.Command{
	Use:   "revert <version>",
	Short: "Restore a past version as a new version",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigRevert,
}

var configRenameCmd = &cobra.Command{
	Use:   "rename <version> <name>",
	Short: "Set the display name of a version",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigRename,
}

var configHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List config versions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runConfigHistory,
}

func init() {
	f := configSetCmd.Flags()
	f.StringVar(&configSetFlags.systemPrompt, "system-prompt", "", "New system prompt")
	f.StringVar(&configSetFlags.systemPromptFile, "system-prompt-file", "", "Read the system prompt from a file")
	f.StringVar(&configSetFlags.model, "model", "", "Text model used for enhancement")
	f.StringVar(&configSetFlags.imageModel, "image-model", "", "Image model")
	f.StringVar(&configSetFlags.name, "name", "", "Display name for the new version")
	configSetCmd.MarkFlagsMutuallyExclusive("system-prompt", "system-prompt-file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configRevertCmd)
	configCmd.AddCommand(configRenameCmd)
	configCmd.AddCommand(configHistoryCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	cfg, err := c.Config(cmd.Context())
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), cfg, func(w io.Writer) { printConfig(w, cfg) })
}

func printConfig(w io.Writer, cfg model.EnhancerConfig) {
	fmt.Fprintf(w, "Version:      v%d", cfg.Version)
	if cfg.VersionName != "" {
		fmt.Fprintf(w, " (%s)", cfg.VersionName)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Model:        %s\n", cfg.Model)
	fmt.Fprintf(w, "Image model:  %s\n", cfg.ImageModel)
	fmt.Fprintf(w, "Updated:      %s\n", shortTime(cfg.UpdatedAt))
	fmt.Fprintf(w, "System prompt:\n%s\n", cfg.SystemPrompt)
}

func runConfigSet(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	cur, err := c.Config(cmd.Context())
	if err != nil {
		return err
	}

	req := model.UpdateConfigRequest{
		SystemPrompt: cur.SystemPrompt,
		Model:        cur.Model,
		ImageModel:   cur.ImageModel,
		VersionName:  configSetFlags.name,
	}
	flags := cmd.Flags()
	switch {
	case flags.Changed("system-prompt"):
		req.SystemPrompt = configSetFlags.systemPrompt
	case flags.Changed("system-prompt-file"):
		data, err := os.ReadFile(configSetFlags.systemPromptFile)
		if err != nil {
			return fmt.Errorf("read system prompt: %w", err)
		}
		req.SystemPrompt = string(data)
	}
	if flags.Changed("model") {
		req.Model = configSetFlags.model
	}
	if flags.Changed("image-model") {
		req.ImageModel = configSetFlags.imageModel
	}

	cfg, err := c.UpdateConfig(cmd.Context(), req)
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), cfg, func(w io.Writer) {
		fmt.Fprintf(w, "Saved config v%d\n", cfg.Version)
	})
}

func parseVersionArg(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid version %q: must be a positive integer", s)
	}
	return v, nil
}

func runConfigRevert(cmd *cobra.Command, args []string) error {
	version, err := parseVersionArg(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	cfg, err := c.Revert(cmd.Context(), version)
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), cfg, func(w io.Writer) {
		fmt.Fprintf(w, "Reverted to v%d as v%d (%s)\n", version, cfg.Version, cfg.VersionName)
	})
}

func runConfigRename(cmd *cobra.Command, args []string) error {
	version, err := parseVersionArg(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	v, err := c.RenameVersion(cmd.Context(), version, args[1])
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), v, func(w io.Writer) {
		fmt.Fprintf(w, "v%d is now %q\n", v.Version, v.VersionName)
	})
}

func runConfigHistory(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	versions, err := c.Versions(cmd.Context())
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), versions, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tMODEL\tIMAGE MODEL\tSAVED")
		for _, v := range versions {
			fmt.Fprintf(tw, "v%d\t%s\t%s\t%s\t%s\n", v.Version, v.VersionName, v.Model, v.ImageModel, shortTime(v.SavedAt))
		}
		_ = tw.Flush()
	})
}
