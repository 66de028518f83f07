package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wiretap/dnp3ips/internal/detection"
)

var rulesCmd = &cobra.Command{
	Use:   "rules [file...]",
	Short: "Validate rule files",
	Long: `Load rule files, report parse errors and show how options are shared.

Identical options are interned once and evaluated once per PDU no matter
how many rules reference them.

Examples:
  # Validate the configured rule files
  dnp3ips rules

  # Validate specific files and list the distinct options
  dnp3ips rules local.yaml site.yaml --options

  # List the supported options and their parameters
  dnp3ips rules --keywords`,
	RunE: runRules,
}

func init() {
	rulesCmd.Flags().Bool("options", false, "list the distinct options")
	rulesCmd.Flags().Bool("keywords", false, "list the supported option keywords")
}

func runRules(cmd *cobra.Command, args []string) error {
	showOptions, _ := cmd.Flags().GetBool("options")
	showKeywords, _ := cmd.Flags().GetBool("keywords")
	out := cmd.OutOrStdout()

	if showKeywords {
		printKeywords(cmd)
		return nil
	}

	files := args
	if len(files) == 0 {
		files = GetConfig().Rules.Files
	}
	if len(files) == 0 {
		return fmt.Errorf("no rule files given and none configured")
	}

	rs, err := detection.LoadRules(files...)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SID\tRev\tMessage\tOptions")
	fmt.Fprintln(w, "---\t---\t-------\t-------")

	refs := 0
	for _, rule := range rs.Rules() {
		opts := make([]string, len(rule.Options))
		for i, opt := range rule.Options {
			opts[i] = opt.String()
		}
		refs += len(rule.Options)
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", rule.SID, rule.Rev, rule.Msg, strings.Join(opts, " "))
	}
	w.Flush()

	distinct := rs.Options()
	fmt.Fprintf(out, "\n%d rules, %d option references, %d distinct options\n", rs.Len(), refs, len(distinct))

	if showOptions {
		fmt.Fprintln(out)
		for _, opt := range distinct {
			fmt.Fprintf(out, "  %-32s %016x\n", opt.String(), opt.Hash())
		}
	}
	return nil
}

func printKeywords(cmd *cobra.Command) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Keyword\tParameter\tRange\tDescription")
	fmt.Fprintln(w, "-------\t---------\t-----\t-----------")
	for _, spec := range detection.OptionSpecs() {
		for _, p := range spec.Params {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", spec.Name, p.Name, p.Range(), p.Help)
		}
	}
	w.Flush()
}
