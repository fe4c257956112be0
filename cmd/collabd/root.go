package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "collabd",
		Short:        "Real-time collaboration server for shared project rooms",
		Long:         "collabd hosts collaboration rooms over websockets: presence, per-file edit permission, live content and cursor relay, the room file tree and per-connection shell terminals.",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		newServeCmd(),
		newACLCmd(),
	)
	return rootCmd
}
