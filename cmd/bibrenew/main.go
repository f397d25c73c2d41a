package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"bibrenew/cmd/bibrenew/commands"
	"bibrenew/lib/serviceutil"
	"bibrenew/lib/telemetry"
)

func main() {
	telemetry.InitSlog(false)

	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "err", err)
	}

	ctx := serviceutil.SignalContext()
	err = telemetry.SetupFromEnv(ctx, "bibrenew")
	if err != nil {
		slog.Warn("failed to initialize telemetry", "err", err)
	}

	commands.ExecuteContext(ctx)
}
