// Command q2150ctl drives a Q2150 instrument from the command line:
// connect, configure its acquisition mode, start/stop streaming, and
// record a session to disk.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qseries/q2150ctl/q2150log"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "q2150ctl",
		Short: "Control and record from a Q2150 instrument",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				lvl = logrus.InfoLevel
			}
			q2150log.SetLevel(lvl)
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(newConnectCmd(&configFile))
	cmd.AddCommand(newConfigureCmd(&configFile))
	cmd.AddCommand(newStartCmd(&configFile))
	cmd.AddCommand(newRecordCmd(&configFile))
	cmd.AddCommand(newStatusCmd())
	return cmd
}
