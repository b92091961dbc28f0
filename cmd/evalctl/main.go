package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "evalctl",
		Short:        "Run and debug answer-sheet evaluations from the command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	root.AddCommand(evaluateCmd(), signCmd(), classifyCmd())
	return root
}
