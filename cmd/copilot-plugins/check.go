package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// checkResult is printed by the check command.
type checkResult struct {
	Request  plugin.RequestContext   `json:"request"`
	Response *plugin.ResponseContext `json:"response,omitempty"`
}

func newCheckCmd(a *app) *cobra.Command {
	var response string
	cmd := &cobra.Command{
		Use:   "check <prompt>",
		Short: "Dispatch one prompt through the plugin chain and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.offlineEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Shutdown(context.WithoutCancel(ctx))

			var res checkResult
			res.Request, err = eng.DispatchBefore(ctx, plugin.NewRequest(strings.Join(args, " ")))
			if err != nil {
				return fmt.Errorf("dispatch request: %w", err)
			}
			if !res.Request.Cancel && response != "" {
				out, err := eng.DispatchAfter(ctx, plugin.NewResponse(response, 0))
				if err != nil {
					return fmt.Errorf("dispatch response: %w", err)
				}
				res.Response = &out
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Request.Cancel {
				return fmt.Errorf("request cancelled: %s", res.Request.CancelReason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&response, "response", "", "Also run this response through the response chain")
	return cmd
}
