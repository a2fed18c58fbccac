package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "loqua",
		Short: "Conversational agent gateway",
		Long:  "loqua receives provider webhooks, runs onboarding and reply workflows, and dispatches replies back through the provider.",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the TOML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
