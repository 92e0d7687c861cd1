package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nthlayer/nthlayer/internal/orchestrator"
	"github.com/nthlayer/nthlayer/internal/spec"
)

var (
	applySpecPath string
	applyOutDir   string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Generate and write all artifacts for a service spec",
	Long: `Apply generates all artifacts for a service spec and writes them to
the output directory in a fixed order. A write failure aborts the remaining
writes; already-written artifacts are reported, not rolled back.`,
	Run: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applySpecPath, "spec", "service.yaml", "Path to the service spec file")
	applyCmd.Flags().StringVar(&applyOutDir, "output", "out", "Artifact output directory")
}

func runApply(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}

	svc, err := spec.Load(applySpecPath)
	HandleError(err, "Failed to load service spec")

	o, _ := buildOrchestrator(applyOutDir)

	applied, applyErr := o.Apply(cmd.Context(), svc)
	if applied != nil {
		for _, outcome := range applied.Outcomes {
			fmt.Printf("%-9s %s (%s)\n", outcome.Status, outcome.Path, outcome.Kind)
			if outcome.Status == orchestrator.StatusFailed {
				fmt.Printf("          %s\n", outcome.Error)
			}
		}
	}
	if applyErr != nil {
		fmt.Fprintf(os.Stderr, "apply failed: %v\n", applyErr)
		os.Exit(1)
	}
}
