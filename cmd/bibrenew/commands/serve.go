package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"bibrenew/lib/renewal"
	"bibrenew/lib/serviceutil"
	"bibrenew/lib/telemetry"
	"bibrenew/lib/timezone"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

const defaultServePort = 8000

// daemon holds the state shared between the scheduler and the status
// endpoints. runMu serializes scheduled and manually triggered runs.
type daemon struct {
	runner renewal.Runner

	runMu sync.Mutex

	stateMu    sync.RWMutex
	lastReport string
	lastRun    time.Time
}

func (d *daemon) run(ctx context.Context) {
	report := d.runner.Run(ctx)

	d.stateMu.Lock()
	d.lastReport = report.Text()
	d.lastRun = report.StartedAt
	d.stateMu.Unlock()
}

func (d *daemon) scheduleWorker(ctx context.Context, hours []int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := timezone.Now()
			if !slices.Contains(hours, current.Hour()) {
				continue
			}

			d.runMu.Lock()
			d.run(ctx)
			d.runMu.Unlock()
		}
	}
}

func (d *daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	status := map[string]any{"status": "ok"}
	if !d.lastRun.IsZero() {
		status["last_run"] = d.lastRun.Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (d *daemon) handleReport(w http.ResponseWriter, r *http.Request) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	if d.lastReport == "" {
		http.Error(w, "no completed runs yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(d.lastReport))
}

func (d *daemon) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !d.runMu.TryLock() {
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}
	defer d.runMu.Unlock()

	d.run(r.Context())

	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(d.lastReport))
}

func (d *daemon) router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", d.handleHealthz)
	router.Get("/report", d.handleReport)
	router.Post("/run", d.handleTrigger)
	return router
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs renewals on a daily schedule and serves run status over http.",
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

		port := cfg.Serve.Port
		if port == 0 {
			port = defaultServePort
		}
		hours := cfg.Serve.Hours
		if len(hours) == 0 {
			hours = []int{7}
		}

		d := &daemon{
			runner: renewal.NewRunner(runnerOptions(cfg, ""), buildSinks(cfg), store),
		}

		ctx := cmd.Context()
		telemetry.InstrumentPerfStats(ctx)
		go d.scheduleWorker(ctx, hours)

		slog.Info("scheduling renewal runs", "hours", hours)
		go serviceutil.StartHttpServer(port, d.router())
		<-ctx.Done()
	},
}
