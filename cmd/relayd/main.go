// Command relayd serves a demo site built on the relay toolkit.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %s\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	addr       string
	debug      bool
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "Demo server for the relay HTTP toolkit",
		Long: `relayd serves a small site assembled from relay pipelines: sessions,
static files, templates, a mounted JSON API and Prometheus metrics.

Settings come from defaults, then the YAML file given by --config, then
RELAY_* environment variables, then command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	registerFlags(cmd, &flags)

	cmd.AddCommand(
		serveCmd(&flags),
		routesCmd(&flags),
		versionCmd(),
	)

	return cmd
}

func registerFlags(cmd *cobra.Command, flags *globalFlags) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug|info|warn|error")
	pf.StringVar(&flags.logFormat, "log-format", "", "json|console")
	pf.StringVar(&flags.addr, "addr", "", "listen address (host:port)")
	pf.BoolVar(&flags.debug, "debug", false, "debug mode: stacks in logs, no conditional GET, template reload")
}
