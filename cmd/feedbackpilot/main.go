// feedbackpilot runs the analyze/plan/modify/test/publish pipeline server:
// HTTP+SSE API, circuit breaker, and the model-backed pipeline stages.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/opslane/feedbackpilot/pkg/api"
	"github.com/opslane/feedbackpilot/pkg/breaker"
	"github.com/opslane/feedbackpilot/pkg/clock"
	"github.com/opslane/feedbackpilot/pkg/config"
	"github.com/opslane/feedbackpilot/pkg/ingress"
	"github.com/opslane/feedbackpilot/pkg/metrics"
	"github.com/opslane/feedbackpilot/pkg/modelclient"
	"github.com/opslane/feedbackpilot/pkg/models"
	"github.com/opslane/feedbackpilot/pkg/orchestrator"
	"github.com/opslane/feedbackpilot/pkg/shutdown"
	"github.com/opslane/feedbackpilot/pkg/stages"
	"github.com/opslane/feedbackpilot/pkg/store"
	"github.com/opslane/feedbackpilot/pkg/testharness"
	"github.com/opslane/feedbackpilot/pkg/version"
	"github.com/opslane/feedbackpilot/pkg/workspace"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	envPath := filepath.Join(getEnv("CONFIG_DIR", "."), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting feedbackpilot", "version", version.Full(), "port", cfg.Port)

	clk := clock.NewReal()
	ids := clock.NewUUIDSource()
	coord := shutdown.New()
	ctx := coord.Context()

	st, err := store.New(store.Config{
		Mode:    storeMode(cfg.DBMode),
		DataDir: cfg.DBDataDir,
	}, clk)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	st.Start(ctx)
	defer st.Stop()

	br := breaker.New(breaker.Config{
		MaxDailyTokens:        cfg.MaxDailyTokens,
		MaxTaskTokens:         cfg.MaxTaskTokens,
		MaxConcurrentTasks:    cfg.MaxConcurrentTasks,
		MaxRetries:            cfg.MaxRetries,
		TokenWindow:           cfg.TokenWindow,
		HalfOpenProbeInterval: cfg.HalfOpenInterval,
		TripFailureThreshold:  cfg.TripFailureThreshold,
	}, clk, ids, st)
	br.Start(ctx)
	defer br.Stop()

	model := modelclient.New(modelclient.Config{
		BaseURL:            cfg.ModelBaseURL,
		APIKey:             cfg.ModelAPIKey,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
	}, br, st, clk, ids)

	ws := workspace.New(workspace.Config{
		RepoURL: cfg.RepoURL,
		WorkDir: cfg.WorkDir,
	}, clk, ids)

	harness := testharness.New(model, testharness.BrowserLocator{ChromePath: cfg.ChromePath}, testharness.GateConfig{}, nil)

	analyzer := stages.NewAnalyzer(model, stages.StageModelConfig{Model: "analyzer", MaxTokens: 1024})
	planner := stages.NewPlanner(model, stages.StageModelConfig{Model: "planner", MaxTokens: 2048})
	modifier := stages.NewModifier(ws, func() int64 { return clk.Now().UnixMilli() })
	tester := stages.NewTester(harness, br, "tester-model", "tester")
	publisher := stages.NewPublisher(model, stages.StageModelConfig{Model: "publisher", MaxTokens: 1024}, cfg.RepoURL, newPRNumberSource())

	m := metrics.New(statusAdapter{br})

	orch := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Snapshots: ws,
		Clock:     clk,
		IDs:       ids,
		Analyzer:  analyzer,
		Planner:   planner,
		Modifier:  modifier,
		Tester:    tester,
		Publisher: publisher,
		Config:    orchestrator.Config{MaxRetries: cfg.MaxRetries},
		Metrics:   m,
	})
	coord.Register(orch)

	in := ingress.New(st, orch, clk, ids)

	server := api.NewServer(api.Config{Addr: ":" + cfg.Port}, in, st, br, m, time.Now())

	go func() {
		if err := server.Run(); err != nil {
			slog.Error("http server failed", "error", err)
		}
	}()

	coord.Wait()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during http shutdown", "error", err)
	}
}

func storeMode(dbMode string) store.Mode {
	if dbMode == config.DBModeFile {
		return store.ModeFile
	}
	return store.ModeMemory
}

// newPRNumberSource issues sequential, process-local PR numbers. A real
// hosting-API client would replace this with the number the remote
// returns from creating the pull request.
func newPRNumberSource() stages.PRNumberSource {
	var n int64
	return func() int {
		return int(atomic.AddInt64(&n, 1))
	}
}

// statusAdapter converts breaker.Status()'s native []breaker.ServiceStatus
// to metrics.BreakerServiceStatus, keeping pkg/metrics's dependency graph
// one-directional (see pkg/metrics's DESIGN.md entry).
type statusAdapter struct {
	br *breaker.Breaker
}

func (a statusAdapter) Status() ([]metrics.BreakerServiceStatus, models.UsageSnapshot) {
	services, usage := a.br.Status()
	out := make([]metrics.BreakerServiceStatus, len(services))
	for i, svc := range services {
		out[i] = metrics.BreakerServiceStatus{Service: svc.Service, State: string(svc.State)}
	}
	return out, usage
}
