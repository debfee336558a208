package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/promptlab/internal/model"
)

var casesCmd = &cobra.Command{
	Use:     "cases",
	Aliases: []string{"case", "tc"},
	Short:   "Manage test cases",
}

var casesListFlags struct {
	deleted bool
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List test cases",
	Args:  cobra.NoArgs,
	RunE:  runCasesList,
}

var casesAddFlags struct {
	name      string
	input     string
	inputFile string
}

var casesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a test case",
	Args:  cobra.NoArgs,
	RunE:  runCasesAdd,
}

var casesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create test cases from a YAML file",
	Long: `Create every test case listed in a YAML file:

  test_cases:
    - name: Marketing Slide
      input_text: Q3 revenue up 40%

A bare top-level list is accepted too. All entries are validated before any
is created.`,
	Args: cobra.ExactArgs(1),
	RunE: runCasesImport,
}

var casesRmFlags struct {
	permanent bool
}

var casesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a test case (restorable unless --permanent)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasesRm,
}

var casesRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a deleted test case",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasesRestore,
}

func init() {
	casesListCmd.Flags().BoolVar(&casesListFlags.deleted, "deleted", false, "List deleted test cases instead")

	f := casesAddCmd.Flags()
	f.StringVar(&casesAddFlags.name, "name", "", "Test case name (required)")
	f.StringVar(&casesAddFlags.input, "input", "", "Input text")
	f.StringVar(&casesAddFlags.inputFile, "input-file", "", "Read the input text from a file")
	_ = casesAddCmd.MarkFlagRequired("name")
	casesAddCmd.MarkFlagsOneRequired("input", "input-file")
	casesAddCmd.MarkFlagsMutuallyExclusive("input", "input-file")

	casesRmCmd.Flags().BoolVar(&casesRmFlags.permanent, "permanent", false, "Purge the test case and its results")

	casesCmd.AddCommand(casesListCmd)
	casesCmd.AddCommand(casesAddCmd)
	casesCmd.AddCommand(casesImportCmd)
	casesCmd.AddCommand(casesRmCmd)
	casesCmd.AddCommand(casesRestoreCmd)
}

func runCasesList(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	list := c.TestCases
	if casesListFlags.deleted {
		list = c.DeletedTestCases
	}
	cases, err := list(cmd.Context())
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), cases, func(w io.Writer) {
		if len(cases) == 0 {
			fmt.Fprintln(w, "No test cases.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tUPDATED\tPREVIEW")
		for _, tc := range cases {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tc.ID, tc.Name, shortTime(tc.UpdatedAt), tc.Preview)
		}
		_ = tw.Flush()
	})
}

func runCasesAdd(cmd *cobra.Command, _ []string) error {
	req := model.CreateTestCaseRequest{Name: casesAddFlags.name, InputText: casesAddFlags.input}
	if casesAddFlags.inputFile != "" {
		data, err := os.ReadFile(casesAddFlags.inputFile)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		req.InputText = string(data)
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	tc, err := c.CreateTestCase(cmd.Context(), req)
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), tc, func(w io.Writer) {
		fmt.Fprintf(w, "Created %s %q\n", tc.ID, tc.Name)
	})
}

// parseImport reads test cases from YAML, either under a test_cases key or
// as a top-level list, and validates every entry.
func parseImport(data []byte) ([]model.CreateTestCaseRequest, error) {
	var doc struct {
		TestCases []model.CreateTestCaseRequest `yaml:"test_cases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		var list []model.CreateTestCaseRequest
		if listErr := yaml.Unmarshal(data, &list); listErr != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		doc.TestCases = list
	}
	if len(doc.TestCases) == 0 {
		return nil, errors.New("no test cases found")
	}
	var errs []error
	for i, req := range doc.TestCases {
		if err := req.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i+1, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return doc.TestCases, nil
}

func runCasesImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	reqs, err := parseImport(bytes.TrimSpace(data))
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	created := make([]model.TestCase, 0, len(reqs))
	for _, req := range reqs {
		tc, err := c.CreateTestCase(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("create %q (after %d created): %w", req.Name, len(created), err)
		}
		created = append(created, tc)
	}
	return output(cmd.OutOrStdout(), created, func(w io.Writer) {
		for _, tc := range created {
			fmt.Fprintf(w, "Created %s %q\n", tc.ID, tc.Name)
		}
	})
}

func parseIDArg(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid test case id %q", s)
	}
	return id, nil
}

func runCasesRm(cmd *cobra.Command, args []string) error {
	id, err := parseIDArg(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.DeleteTestCase(cmd.Context(), id, casesRmFlags.permanent); err != nil {
		return err
	}
	verb := "Deleted"
	if casesRmFlags.permanent {
		verb = "Purged"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, id)
	return nil
}

func runCasesRestore(cmd *cobra.Command, args []string) error {
	id, err := parseIDArg(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	tc, err := c.RestoreTestCase(cmd.Context(), id)
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), tc, func(w io.Writer) {
		fmt.Fprintf(w, "Restored %s %q\n", tc.ID, tc.Name)
	})
}
