package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asktra/asktra/internal/reasoning/engine"
	apitypes "github.com/asktra/asktra/pkg/types"
)

func newBundleCmd(a *app) *cobra.Command {
	var (
		findingPath string
		output      string
	)
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Generate a post-mortem, PR diff and summary for a finding",
		Long: "bundle reads a finding as JSON (the output of `asktra ask -o json` works) " +
			"and emits a reconciliation bundle.",
		Example: `  asktra ask "Why does SSO fail?" > finding.json
  asktra bundle --finding finding.json
  asktra ask "Why does SSO fail?" | asktra bundle --finding -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			finding, err := a.readFinding(findingPath)
			if err != nil {
				return err
			}

			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			bundle, err := sess.reasoner.EmitBundle(cmd.Context(), engine.BundleInput{
				InferredVersion: finding.InferredVersion,
				CausalFinding: engine.CausalFinding{
					RootCause:      finding.RootCause,
					Contradictions: finding.Contradictions,
					Risk:           finding.Risk,
					FixSteps:       finding.FixSteps,
					Verification:   finding.Verification,
					Sources:        finding.Sources,
					ReasoningTrace: finding.ReasoningTrace,
					TruthGaps:      finding.TruthGaps,
				},
			})
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), output, apitypes.BundleResponse{
				PostMortem:   bundle.PostMortem,
				PRDiff:       bundle.PRDiff,
				Summary:      bundle.Summary,
				SlackSummary: bundle.Summary,
				Fallback:     bundle.Fallback,
			})
		},
	}
	cmd.Flags().StringVar(&findingPath, "finding", "", "finding JSON file, or - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "output format: json|yaml")
	_ = cmd.MarkFlagRequired("finding")
	return cmd
}

func (a *app) readFinding(path string) (*apitypes.FindingRequest, error) {
	var (
		r   io.Reader
		src = path
	)
	if path == "-" {
		r, src = a.stdin, "stdin"
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open finding: %w", err)
		}
		defer f.Close()
		r = f
	}

	var finding apitypes.FindingRequest
	if err := json.NewDecoder(r).Decode(&finding); err != nil {
		return nil, fmt.Errorf("decode finding from %s: %w", src, err)
	}
	if strings.TrimSpace(finding.RootCause) == "" && len(finding.Contradictions) == 0 {
		return nil, fmt.Errorf("finding from %s has neither root_cause nor contradictions", src)
	}
	return &finding, nil
}

func newDatasetCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Print the evidence dataset the engine reasons over",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()
			return printOutput(cmd.OutOrStdout(), output, sess.reasoner.Dataset(cmd.Context()))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "output format: json|yaml")
	return cmd
}
