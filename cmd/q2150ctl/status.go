package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qseries/q2150ctl/recorder"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <chunk-dir>",
		Short: "Report on a recorded session directory by reading its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			orphans, err := recorder.Reconcile(dir)
			if err != nil {
				return err
			}
			if len(orphans) == 0 {
				fmt.Println("no orphaned chunks")
				return nil
			}
			fmt.Printf("%d orphaned chunk(s) not referenced by manifest.json:\n", len(orphans))
			for _, o := range orphans {
				fmt.Println(" ", o)
			}
			return nil
		},
	}
	return cmd
}
