package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nthlayer/nthlayer/internal/drift"
	"github.com/nthlayer/nthlayer/internal/spec"
)

var driftSpecPath string

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Analyze error-budget drift for a service's SLOs",
	Long: `Drift fetches each SLO's budget-remaining series from the metrics
backend, classifies the trend, and projects budget exhaustion. The exit code
follows the severity contract: 0 ok, 1 warnings present, 2 critical.`,
	Run: runDrift,
}

func init() {
	driftCmd.Flags().StringVar(&driftSpecPath, "spec", "service.yaml", "Path to the service spec file")
}

func runDrift(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}

	svc, err := spec.Load(driftSpecPath)
	HandleError(err, "Failed to load service spec")
	svc = svc.ApplyTierDefaults()

	if svc.Drift == nil || !svc.Drift.Enabled {
		fmt.Printf("drift analysis disabled for %s\n", svc.Name)
		return
	}
	if len(svc.SLOs) == 0 {
		fmt.Printf("no SLOs declared for %s\n", svc.Name)
		return
	}

	cfg, err := loadConfig()
	HandleError(err, "Failed to load config")

	querier, err := buildMetricsClient(cfg)
	HandleError(err, "Failed to create metrics client")
	if querier == nil {
		HandleError(fmt.Errorf("metrics.prometheus_url is not configured"), "Drift analysis requires a metrics backend")
	}

	window, err := spec.ParseWindow(svc.Drift.Window)
	HandleError(err, "Invalid drift window")

	analyzer := drift.NewAnalyzer(querier)
	exitCode := 0
	for _, slo := range svc.SLOs {
		query := fmt.Sprintf(`nthlayer:error_budget_remaining:ratio{service=%q,slo=%q}`, svc.Name, slo.Name)
		result, err := analyzer.Analyze(cmd.Context(), drift.Request{
			Service: svc.Name,
			SLO:     slo.Name,
			Query:   query,
			Window:  window,
			Config:  *svc.Drift,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "drift analysis for %s/%s failed: %v\n", svc.Name, slo.Name, err)
			if exitCode < 2 {
				exitCode = 2
			}
			continue
		}

		fmt.Printf("%s/%s: %s (%s)\n", result.Service, result.SLO, result.Pattern, result.Severity)
		fmt.Printf("  %s\n", result.Summary)
		if result.Recommendation != "" {
			fmt.Printf("  %s\n", result.Recommendation)
		}
		if code := result.ExitCode(); code > exitCode {
			exitCode = code
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
