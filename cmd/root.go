package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mpesa",
	Short: "M-Pesa STK push microservice",
	Long:  "A mobile-money microservice for initiating M-Pesa STK push payments, processing result callbacks, and running payment lifecycle jobs.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
