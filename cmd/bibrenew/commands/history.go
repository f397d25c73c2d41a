package commands

import (
	"errors"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bibrenew/lib/runstore"
	"bibrenew/lib/serviceutil"
)

var historyLimit *int

func init() {
	historyLimit = historyCmd.Flags().Int("limit", 10, "Maximum number of runs to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Shows the outcomes of past renewal runs.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.History == "" {
			serviceutil.Fatal("incomplete configuration", errors.New("no history database configured"))
		}

		database, err := runstore.Open(cfg.History)
		if err != nil {
			serviceutil.Fatal("failed to open history db", err)
		}
		defer database.Close()

		store := runstore.NewStore(database)
		runs, err := store.Recent(cmd.Context(), *historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to read history", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Started", "User", "Title", "Renewed", "Note"})
		for _, run := range runs {
			started := run.StartedAt.Format("02/01/2006 15:04")
			if len(run.Outcomes) == 0 {
				t.AppendRow(table.Row{started, "", "(no renewals)", "", ""})
			}
			for _, outcome := range run.Outcomes {
				t.AppendRow(table.Row{started, outcome.User, outcome.Title, outcome.Renewed, outcome.Note})
			}
			t.AppendSeparator()
		}
		t.Render()
	},
}
