package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect provisioning workflow jobs",
		Long: `List the workflow jobs this process has run.

Jobs are tracked in memory: associate, instantiate, and disassociate
runs from this invocation. Terminal states are converged, failed, and
timed_out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			jobs := app.manager.Jobs()
			if jsonOutput {
				return printJSON(jobs)
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs in this process")
				return nil
			}
			for _, job := range jobs {
				fmt.Printf("%s  %-12s %-10s blade=%s ticks=%d\n",
					job.ID, job.Kind, job.State, job.BladeDn, job.Ticks)
			}
			return nil
		},
	}

	return cmd
}
