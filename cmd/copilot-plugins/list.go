package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/barrersoftware/copilot-plugin-system/internal/pkg/config"
	"github.com/barrersoftware/copilot-plugin-system/pkg/pluginhost"
)

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Discover plugins and print them in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.offlineEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Shutdown(context.WithoutCancel(cmd.Context()))

			list := eng.List()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tID\tVERSION\tSOURCE\tNAME")
			for _, s := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Order, s.ID, s.Version, s.Source, s.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// offlineEngine starts an engine over the loaded configuration without the
// HTTP bridge or persistent events.
func (a *app) offlineEngine(ctx context.Context) (*pluginhost.Engine, error) {
	eng, err := pluginhost.New(
		pluginhost.WithConfig(a.cfg),
		pluginhost.WithEventsConfig(config.EventsConfig{Driver: "memory"}),
		pluginhost.WithServer(false),
		pluginhost.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	return eng, nil
}
