package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/viant/overseer/internal/cli"
	"github.com/viant/overseer/internal/log"
)

var rootCmd = &cobra.Command{Use: "overseer", Short: "Human-in-the-loop task orchestration control plane", SilenceUsage: true}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.GetLogger().Warnf("failed to load .env: %v", err)
	}
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
