package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"bibrenew/lib/renewal"
	"bibrenew/lib/serviceutil"
)

var runOnly *string

func init() {
	runOnly = runCmd.Flags().String("only", "", "Restrict renewals to loans whose title matches this filter.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--only <title>]",
	Short: "Renews every eligible loan for every configured user.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		requirePortalConfig(cfg)

		store, err := openHistory(cfg)
		if err != nil {
			serviceutil.Fatal("failed to open history db", err)
		}

		runner := renewal.NewRunner(runnerOptions(cfg, *runOnly), buildSinks(cfg), store)
		report := runner.Run(cmd.Context())

		fmt.Println(report.Text())
	},
}
