package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pressmesh/pressmesh/internal/domain"
)

func init() {
	rootCmd.AddCommand(providersCmd)
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show AI provider pool status",
	RunE:  runProviders,
}

func runProviders(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var out struct {
		Providers []domain.ProviderStatus `json:"providers"`
		Available int                     `json:"available"`
		Total     int                     `json:"total"`
	}
	if err := client.get("/api/admin/providers", &out); err != nil {
		return err
	}

	fmt.Printf("Providers: %d/%d available\n\n", out.Available, out.Total)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAVAILABLE\tLOAD\tCREDITS\tRATE\tSUCCESS")
	for _, p := range out.Providers {
		fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%d\t%.0f%%\n",
			p.ID,
			p.Available,
			p.CurrentLoad,
			p.RemainingCredits,
			p.RateLimitRemaining,
			p.SuccessRate*100,
		)
	}
	return w.Flush()
}
