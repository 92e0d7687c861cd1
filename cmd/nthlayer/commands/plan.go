package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nthlayer/nthlayer/internal/orchestrator"
	"github.com/nthlayer/nthlayer/internal/spec"
)

var (
	planSpecPath string
	planOutDir   string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the artifacts a spec would produce, without writing",
	Long: `Plan generates all artifacts for a service spec, diffs them against
what is already on disk, and prints one section per artifact with the
planned action (create, update, or unchanged). Plan never writes.`,
	Run: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planSpecPath, "spec", "service.yaml", "Path to the service spec file")
	planCmd.Flags().StringVar(&planOutDir, "output", "out", "Artifact output directory to diff against")
}

func runPlan(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}

	svc, err := spec.Load(planSpecPath)
	HandleError(err, "Failed to load service spec")

	o, sink := buildOrchestrator(planOutDir)

	priorHashes, err := sink.PriorHashes(svc.Name)
	HandleError(err, "Failed to read existing artifacts")

	plan, err := o.Plan(cmd.Context(), svc, priorHashes)
	HandleError(err, "Plan failed")

	fmt.Print(plan.Render())
}

// buildOrchestrator assembles the artifact orchestrator with whatever
// collaborators the config provides. Missing collaborators degrade to empty
// external data.
func buildOrchestrator(outDir string) (*orchestrator.Orchestrator, *orchestrator.FileSink) {
	cfg, err := loadConfig()
	HandleError(err, "Failed to load config")

	metricsClient, err := buildMetricsClient(cfg)
	HandleError(err, "Failed to create metrics client")

	_, deps, err := buildDiscovery(cfg)
	HandleError(err, "Failed to create discovery orchestrator")

	owners, err := buildOwnership(cfg)
	HandleError(err, "Failed to create ownership resolver")

	sink := orchestrator.NewFileSink(outDir)

	var md orchestrator.MetricDiscoverer
	if metricsClient != nil {
		md = metricsClient
	}
	return orchestrator.New(sink, md, deps, owners), sink
}
