package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, worker and readiness status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var version struct {
		Version string `json:"version"`
	}
	if err := client.get("/api/version", &version); err != nil {
		return err
	}

	var workers struct {
		Healthy        bool   `json:"healthy"`
		Mode           string `json:"mode"`
		ProcessingJobs int    `json:"processingJobs"`
		QueueDepth     int    `json:"queueDepth"`
		IsPaused       bool   `json:"isPaused"`
	}
	if err := client.get("/api/system/workers", &workers); err != nil {
		return err
	}

	var ready struct {
		Enabled bool    `json:"enabled"`
		State   string  `json:"state"`
		Score   float64 `json:"score"`
	}
	if err := client.get("/api/system/readiness", &ready); err != nil {
		return err
	}

	fmt.Printf("PressMesh %s at %s\n\n", version.Version, client.base)
	fmt.Printf("Workers:   healthy=%v mode=%s processing=%d queued=%d\n",
		workers.Healthy, workers.Mode, workers.ProcessingJobs, workers.QueueDepth)
	if ready.Enabled {
		fmt.Printf("Readiness: %s (score %.1f)\n", ready.State, ready.Score)
	} else {
		fmt.Println("Readiness: monitoring disabled")
	}
	return nil
}
