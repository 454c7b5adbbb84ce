package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/me/mowctt/internal/pipeline"
	"github.com/me/mowctt/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show a recorded run and its Pareto front",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Get(cmd.Context(), "/api/v1/runs/"+url.PathEscape(id), nil)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}

			var run model.Run
			if err := json.Unmarshal(resp.Data, &run); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			pipeline.PrintRunSummary(cmd.OutOrStdout(), &run)
			return nil
		},
	}
}
