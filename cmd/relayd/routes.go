package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vitalvas/relay/mux"
	"go.uber.org/zap"
)

func routesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the route table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer a.Close()

			return printRoutes(cmd.OutOrStdout(), a.pipeline)
		},
	}
}

// printRoutes writes one line per route: method, pattern and the number
// of chain steps. Patternless routes show as "*".
func printRoutes(w io.Writer, p *mux.Pipeline) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATTERN\tSTEPS")

	err := p.Walk(func(method string, d *mux.Descriptor) error {
		pattern := d.Pattern
		if d.Patternless() {
			pattern = "*"
		}

		_, err := fmt.Fprintf(tw, "%s\t%s\t%d\n", method, pattern, len(d.Handlers))
		return err
	})
	if err != nil {
		return err
	}

	return tw.Flush()
}
