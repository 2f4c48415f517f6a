// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. configFile is shared by every
// subcommand through the persistent --config flag.
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "pktcraft",
		Short: "pktcraft - hand-built IPv4/UDP datagrams over Ethernet or SLIP",
		Long: `pktcraft assembles IPv4 and UDP headers itself and hands the frames to a
raw link: an AF_PACKET socket, a PACKET_MMAP ring, a pcap file or a serial
port speaking SLIP.

Configuration is read from the file given by --config (root key "pktcraft"),
overridden by PKTCRAFT_* environment variables and then by command flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: built-in defaults)")

	rootCmd.AddCommand(newSendCmd(&configFile))
	rootCmd.AddCommand(newConfigCmd(&configFile))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command until it returns or the process is
// interrupted. This is called by main.main().
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
