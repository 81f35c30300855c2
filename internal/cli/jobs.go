package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pressmesh/pressmesh/internal/domain"
)

func init() {
	jobsAddCmd.Flags().StringVar(&jobCategory, "category", "news", "Task category")
	jobsAddCmd.Flags().IntVar(&jobPriority, "priority", domain.PriorityNormal, "Priority (0=breaking .. 4=batch)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to list")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsAddCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

var (
	jobCategory string
	jobPriority int
	jobsLimit   int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage pipeline jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE:  runJobsList,
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Enqueue a new pipeline job",
	RunE:  runJobsAdd,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show JOB_ID",
	Short: "Show one job, including its failure envelope if any",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel JOB_ID",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func runJobsList(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var out struct {
		Jobs []domain.Job `json:"jobs"`
	}
	if err := client.get(fmt.Sprintf("/api/admin/jobs/recent?limit=%d", jobsLimit), &out); err != nil {
		return err
	}
	if len(out.Jobs) == 0 {
		fmt.Println("No jobs yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tPRIORITY\tSTAGE\tSTATUS\tRETRIES\tCREATED")
	for _, j := range out.Jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(j.ID),
			j.Category,
			domain.PriorityLabel(j.Priority),
			j.Stage,
			j.Status,
			j.RetryCount,
			j.CreatedAt.Local().Format(time.Stamp),
		)
	}
	return w.Flush()
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var job domain.Job
	body := map[string]interface{}{
		"category": jobCategory,
		"priority": jobPriority,
	}
	if err := client.post("/api/admin/jobs", body, &job); err != nil {
		return err
	}

	fmt.Printf("Enqueued job %s (%s, %s)\n", job.ID, job.Category, domain.PriorityLabel(job.Priority))
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var out struct {
		Job      domain.Job             `json:"job"`
		Fallback map[string]interface{} `json:"fallback"`
	}
	if err := client.get("/api/admin/jobs/"+args[0], &out); err != nil {
		return err
	}

	j := out.Job
	fmt.Printf("Job %s\n", j.ID)
	fmt.Printf("  Category:  %s\n", j.Category)
	fmt.Printf("  Priority:  %s\n", domain.PriorityLabel(j.Priority))
	fmt.Printf("  Stage:     %s\n", j.Stage)
	fmt.Printf("  Status:    %s\n", j.Status)
	fmt.Printf("  Retries:   %d/%d\n", j.RetryCount, j.MaxRetries)
	if j.Error != "" {
		fmt.Printf("  Error:     %s\n", j.Error)
	}
	if j.IsTerminal() {
		fmt.Printf("  Duration:  %s\n", j.Duration().Round(time.Millisecond))
	}
	if out.Fallback != nil {
		fmt.Printf("  Fallback:  %v\n", out.Fallback["type"])
	}
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if err := client.post("/api/admin/jobs/"+args[0]+"/cancel", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Cancelled job %s\n", args[0])
	return nil
}

// shortID trims a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
