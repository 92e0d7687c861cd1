package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	discoverService string
	discoverFull    bool
	discoverHealth  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover service dependencies across providers",
	Long: `Discover fans out to the configured dependency providers, resolves
raw names to canonical identities, and prints the merged edges. With --full
it builds the whole dependency graph over every service any provider knows.`,
	Run: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVar(&discoverService, "service", "", "Service to discover dependencies for")
	discoverCmd.Flags().BoolVar(&discoverFull, "full", false, "Build the full dependency graph across all known services")
	discoverCmd.Flags().BoolVar(&discoverHealth, "health", false, "Probe provider health instead of discovering")
}

type edgeOutput struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	Providers  []string `json:"providers"`
}

func runDiscover(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}

	cfg, err := loadConfig()
	HandleError(err, "Failed to load config")

	_, orchestrator, err := buildDiscovery(cfg)
	HandleError(err, "Failed to create discovery orchestrator")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case discoverHealth:
		health := orchestrator.HealthCheckAll(cmd.Context())
		HandleError(enc.Encode(health), "Failed to encode health output")

	case discoverFull:
		graph, err := orchestrator.BuildFullGraph(cmd.Context(), nil)
		HandleError(err, "Full graph build failed")

		out := struct {
			Services []string     `json:"services"`
			Edges    []edgeOutput `json:"edges"`
		}{Services: graph.CanonicalNames()}
		for _, edge := range graph.Edges {
			out.Edges = append(out.Edges, edgeOutput{
				Source:     edge.Source.CanonicalName,
				Target:     edge.Target.CanonicalName,
				Type:       string(edge.Type),
				Confidence: edge.Confidence,
				Providers:  edge.Providers,
			})
		}
		HandleError(enc.Encode(out), "Failed to encode graph output")

	case discoverService != "":
		deps, err := orchestrator.DiscoverForService(cmd.Context(), discoverService, false)
		HandleError(err, "Discovery failed")

		out := make([]edgeOutput, 0, len(deps))
		for _, edge := range deps {
			out = append(out, edgeOutput{
				Source:     edge.Source.CanonicalName,
				Target:     edge.Target.CanonicalName,
				Type:       string(edge.Type),
				Confidence: edge.Confidence,
				Providers:  edge.Providers,
			})
		}
		HandleError(enc.Encode(out), "Failed to encode discovery output")

	default:
		HandleError(fmt.Errorf("one of --service, --full, or --health is required"), "Invalid arguments")
	}
}
