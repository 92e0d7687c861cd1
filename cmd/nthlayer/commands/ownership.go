package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	ownershipService  string
	ownershipDeclared string
	ownershipRepo     string
)

var ownershipCmd = &cobra.Command{
	Use:   "ownership",
	Short: "Resolve the owning team of a service",
	Long: `Ownership collects signals from the configured providers (on-call
schedules, CODEOWNERS, portal attributes, chat conventions, git activity),
weights them by source reliability, and prints the winning attribution.`,
	Run: runOwnership,
}

func init() {
	ownershipCmd.Flags().StringVar(&ownershipService, "service", "", "Service to resolve ownership for")
	ownershipCmd.Flags().StringVar(&ownershipDeclared, "declared", "", "Owner declared in the service spec, if any")
	ownershipCmd.Flags().StringVar(&ownershipRepo, "repo", "", "Repository slug for CODEOWNERS and git activity lookups")
}

func runOwnership(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	if ownershipService == "" {
		HandleError(fmt.Errorf("--service is required"), "Invalid arguments")
	}

	cfg, err := loadConfig()
	HandleError(err, "Failed to load config")

	resolver, err := buildOwnership(cfg)
	HandleError(err, "Failed to create ownership resolver")

	attribution, err := resolver.Resolve(cmd.Context(), ownershipService, ownershipDeclared, ownershipRepo)
	HandleError(err, "Ownership resolution failed")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	HandleError(enc.Encode(attribution), "Failed to encode attribution")
}
