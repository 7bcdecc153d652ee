package cli

import (
	"fmt"
	"time"

	"github.com/gomlx/go-nerkit/tracking"
	"github.com/spf13/cobra"
)

func (c *CLI) newRunsCommand() *cobra.Command {
	var (
		experiment string
		metric     string
	)
	cmd := &cobra.Command{
		Use:     "runs",
		Short:   "List the tracked runs of an experiment",
		Args:    cobra.NoArgs,
		Example: `  nerkit runs --experiment exp0 --metric fil_f1_micro`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := c.resolvedDirs()
			if err != nil {
				return err
			}
			store, err := tracking.NewStore(dirs.Tracking)
			if err != nil {
				return err
			}
			runs, err := store.Runs(experiment)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				last := "-"
				points, err := store.ReadMetric(experiment, run.ID, metric)
				if err == nil && len(points) > 0 {
					last = fmt.Sprintf("%.4f", points[len(points)-1].Value)
				}
				rows = append(rows, []string{
					run.Name, run.ID, run.Status,
					time.UnixMilli(run.StartTime).Format(time.DateTime),
					last,
				})
			}
			fmt.Fprintln(c.out, renderTable(experiment, []string{"run", "id", "status", "started", metric}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&experiment, "experiment", "", "Experiment name")
	cmd.Flags().StringVar(&metric, "metric", "all_loss", "Metric whose last value is shown")
	_ = cmd.MarkFlagRequired("experiment")
	return cmd
}
