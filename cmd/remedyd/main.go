// Copyright 2026 The Remedy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command remedyd is the run engine's daemon: in its default mode it
// serves the boundary HTTP surface (spec §4.12); given -worker-run it
// re-execs as a detached supervisor for one already-uploaded run, the
// same self-reexec split the teacher's cmd/conductor uses for its
// background worker mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/remedyrun/remedy/internal/api"
	"github.com/remedyrun/remedy/internal/config"
	"github.com/remedyrun/remedy/internal/log"
	"github.com/remedyrun/remedy/internal/scheduler"
	"github.com/remedyrun/remedy/internal/supervisor"
	"github.com/remedyrun/remedy/pkg/agentbackend"
	"github.com/remedyrun/remedy/pkg/agentbackend/remote"
	"github.com/remedyrun/remedy/pkg/agentbackend/simulated"
	"github.com/remedyrun/remedy/pkg/filestore"
	"github.com/remedyrun/remedy/pkg/hardenedclient"
	"github.com/remedyrun/remedy/pkg/playbook"
	"github.com/remedyrun/remedy/pkg/remediation"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		workerRun   = flag.String("worker-run", "", "run id to drive as a detached worker, instead of serving")
		workerMode  = flag.String("mode", "", "data source for worker mode (mock, live, hybrid)")
		waveSize    = flag.Int("wave-size", 0, "wave size override for worker mode")
		stateDir    = flag.String("state-dir", "state", "state directory (spec §6)")
		listenAddr  = flag.String("listen", "", "boundary HTTP listen address, overrides REMEDY_LISTEN_ADDR")
		showVersion = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("remedyd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	cfg := config.Load()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *stateDir != "" {
		cfg.StateFilePath = *stateDir
	}

	if *workerRun != "" {
		if err := runWorker(logger, cfg, *workerRun, *workerMode, *waveSize, *stateDir); err != nil {
			logger.Error("worker run failed", "run_id", *workerRun, "error", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(logger, cfg, *stateDir); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// serve runs the boundary HTTP surface until an OS interrupt requests a
// graceful shutdown.
func serve(logger *slog.Logger, cfg *config.Config, stateDir string) error {
	store := filestore.New(stateDir)
	metrics := api.NewPromMetrics()

	srv := api.New(api.ServerConfig{
		ListenAddr:    cfg.ListenAddr,
		MaxACUPerSess: cfg.MaxACUPerSession,
		Auth:          api.AuthConfig{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, Enabled: cfg.AuthEnabled},
		AllowedOrigin: cfg.AllowedOrigin,
	}, store, remediation.DefaultServiceWeights(), api.Spawn(stateDir), metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker drives runID's supervisor to completion against the findings
// uploaded to <stateDir>/runs/<runID>/findings.csv, then exits. Spawned by
// api.Spawn as a detached child of the serving process.
func runWorker(logger *slog.Logger, cfg *config.Config, runID, mode string, waveSizeOverride int, stateDir string) error {
	store := filestore.New(stateDir)
	findingsPath := store.RunDir(runID) + "/findings.csv"

	f, err := os.Open(findingsPath)
	if err != nil {
		return fmt.Errorf("opening uploaded findings for run %s: %w", runID, err)
	}
	defer f.Close()

	result, err := remediation.IngestCSV(f, remediation.DefaultServiceWeights(), logger)
	if err != nil {
		return fmt.Errorf("re-ingesting findings for run %s: %w", runID, err)
	}

	ds := remediation.DataSource(mode)
	if ds == "" {
		ds = remediation.DataSourceMock
	}

	waveSize := cfg.WaveSize
	if waveSizeOverride > 0 {
		waveSize = waveSizeOverride
	}

	backend, mockBackend, err := buildBackends(cfg, ds)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		RunID:          runID,
		Mode:           ds,
		ConnectedRepos: cfg.ConnectedRepos,
		Backend:        backend,
		MockBackend:    mockBackend,
		StateDir:       stateDir,
		MemoryDir:      cfg.MemoryDir,
		PlaybookDir:    cfg.PlaybookDir,
		BackendToken:   cfg.BackendToken,
		UseAWSSigV4:    cfg.BackendAWSSigV4,
		MaxACU:         cfg.MaxACUPerSession,
		Logger:         logger,
		SchedulerCfg: scheduler.Config{
			WaveSize:       waveSize,
			MaxParallelism: cfg.MaxParallelSessions,
			MinSuccessRate: cfg.MinSuccessRate,
			SessionTimeout: time.Duration(cfg.SessionTimeoutMinutes) * time.Minute,
			PollInterval:   time.Duration(cfg.PollIntervalSeconds) * time.Second,
			MaxRetries:     cfg.SessionMaxRetries,
		},
	}, result.Findings)
	if err != nil {
		return fmt.Errorf("constructing supervisor for run %s: %w", runID, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx, result.Findings, playbook.Resolver(cfg.PlaybookDir))
}

// buildBackends selects the backend pair for a run's mode (spec §4.2,
// §4.3, §4.10): simulated-only for mock, hardened-remote-only for live,
// and both for hybrid, where per-session routing happens in the session
// manager.
func buildBackends(cfg *config.Config, ds remediation.DataSource) (primary, mock agentbackend.Backend, err error) {
	if ds == remediation.DataSourceMock {
		return simulated.New(simulated.Config{}), nil, nil
	}

	httpClient := hardenedclient.New(http.DefaultClient, hardenedclient.Config{
		MaxRetries:       cfg.MaxRetries,
		JitterMax:        time.Duration(cfg.RetryJitterMaxSeconds) * time.Second,
		BreakerThreshold: uint32(cfg.CircuitBreakerThreshold),
		BreakerCooldown:  time.Duration(cfg.CircuitBreakerCooldownSeconds) * time.Second,
		Name:             "agentbackend",
	})

	live := remote.New(remote.Config{
		BaseURL:     cfg.BackendBaseURL,
		BearerToken: cfg.BackendToken,
		HTTPClient:  httpClient.StdClient(),
		MaxACUCap:   cfg.MaxACUPerSession,
	})
	if ds == remediation.DataSourceHybrid {
		return live, simulated.New(simulated.Config{}), nil
	}
	return live, nil, nil
}
