package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "toughwa",
		Short: "ToughWA - WhatsApp multi-instance session manager",
		Long: `ToughWA supervises many WhatsApp sessions from one process, pairs them by QR,
and turns inbound traffic into contacts, tickets and messages.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "toughwa.yml", "config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initdbCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
