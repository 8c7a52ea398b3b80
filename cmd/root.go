package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lens-cleaner",
	Short: "A tool that finds redundant photos and suggests which ones to delete",
	Long: `Lens Cleaner ingests photos, groups near-duplicate shots by capture time
and visual similarity, and submits the groups to an AI batch service that
suggests which photos are safe to delete. Suggestions are reviewed by the
user before anything is removed.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
