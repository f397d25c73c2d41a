package commands

import (
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bibrenew/lib/opw"
	"bibrenew/lib/serviceutil"
)

func init() {
	rootCmd.AddCommand(loansCmd)
}

var loansCmd = &cobra.Command{
	Use:   "loans",
	Short: "Lists every configured user's current loans without renewing anything.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		requirePortalConfig(cfg)

		ctx := cmd.Context()
		topts := transportOptions()

		t := newTable()
		t.AppendHeader(table.Row{"User", "Title", "Barcode", "Return date", "Renewable"})

		for _, user := range portalUsers(cfg) {
			client, err := opw.NewClient(opw.ClientOptions{
				BaseUrl:    cfg.BaseUrl,
				CardNumber: user.CardNumber,
				Password:   user.Password,
				Transport:  topts,
			})
			if err != nil {
				serviceutil.Fatal("failed to create portal client", err)
			}

			err = client.Login(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "login failed", "user", user.Label(), "err", err)
				continue
			}
			page, err := client.Loans(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "loan scrape failed", "user", user.Label(), "err", err)
				continue
			}

			for _, loan := range page.Loans {
				t.AppendRow(table.Row{user.Label(), loan.Title, loan.Barcode, loan.ReturnDate, loan.CanExtend})
			}
		}

		t.Render()
	},
}
