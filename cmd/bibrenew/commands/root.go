package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bibrenew/lib/telemetry"
)

var verbose *bool

var rootCmd = &cobra.Command{
	Use:   "bibrenew",
	Short: "bibrenew renews library loans on Vubis/OPW web portals.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

func init() {
	verbose = rootCmd.PersistentFlags().BoolP(
		"verbose", "v", false,
		"Enable verbose logging and request/response dumps.",
	)
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
