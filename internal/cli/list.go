package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/mowctt/pkg/model"
)

func newListCmd() *cobra.Command {
	var state, instance, algorithm string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if instance != "" {
				q.Set("instance", instance)
			}
			if algorithm != "" {
				q.Set("algorithm", algorithm)
			}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			resp, err := client.Get(cmd.Context(), "/api/v1/runs/", q)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			var runs []model.Run
			if err := json.Unmarshal(resp.Data, &runs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			const row = "%-42s  %-10s  %-20s  %-18s  %5s  %12s  %s\n"
			fmt.Fprintf(out, row, "ID", "STATE", "INSTANCE", "ALGORITHM", "FRONT", "HYPERVOLUME", "CREATED")
			fmt.Fprintf(out, row, "--", "-----", "--------", "---------", "-----", "-----------", "-------")
			for _, r := range runs {
				fmt.Fprintf(out, row, r.ID, r.State, r.Key.Instance, r.Key.Algorithm,
					strconv.Itoa(r.FrontSize), strconv.FormatFloat(r.Hypervolume, 'g', -1, 64),
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), resp.Pagination.Total)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only runs in this state (RUNNING, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().StringVar(&instance, "instance", "", "Only runs of this instance")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Only runs of this algorithm")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs (at most 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of runs to skip")

	return cmd
}
