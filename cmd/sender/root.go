package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sender",
		Short: "sender - relay demo client",
		Long: `sender connects to a relay server over WebSocket and, every few seconds, sends a
randomly chosen canned message to a randomly chosen receiver. Messages delivered
back by the server are logged. The connection is re-established after any close.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
