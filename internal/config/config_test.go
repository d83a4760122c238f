package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"MAX_PARALLEL_SESSIONS", "MAX_ACU_PER_SESSION", "POLL_INTERVAL_SECONDS",
		"SESSION_TIMEOUT_MINUTES", "MIN_SUCCESS_RATE", "WAVE_SIZE", "STATE_FILE_PATH",
		"HYBRID_MODE", "CONNECTED_REPOS", "CIRCUIT_BREAKER_THRESHOLD",
		"CIRCUIT_BREAKER_COOLDOWN_SECONDS", "MAX_RETRIES", "SESSION_MAX_RETRIES",
		"RETRY_JITTER_MAX_SECONDS",
		"REMEDY_BACKEND_AWS_SIGV4", "REMEDY_BACKEND_TOKEN",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	c := Load()
	if c.MaxParallelSessions != 10 {
		t.Errorf("expected default MaxParallelSessions=10, got %d", c.MaxParallelSessions)
	}
	if c.WaveSize != 10 {
		t.Errorf("expected default WaveSize=10, got %d", c.WaveSize)
	}
	if c.MinSuccessRate != 0.7 {
		t.Errorf("expected default MinSuccessRate=0.7, got %v", c.MinSuccessRate)
	}
	if c.MaxRetries != 3 {
		t.Errorf("expected default client MaxRetries=3, got %d", c.MaxRetries)
	}
	if c.SessionMaxRetries != 2 {
		t.Errorf("expected default SessionMaxRetries=2, got %d", c.SessionMaxRetries)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("MAX_PARALLEL_SESSIONS", "4")
	os.Setenv("WAVE_SIZE", "25")
	os.Setenv("HYBRID_MODE", "true")
	os.Setenv("CONNECTED_REPOS", "svc-a, svc-b ,svc-c")
	defer clearEnv(t)

	c := Load()
	if c.MaxParallelSessions != 4 {
		t.Errorf("expected 4, got %d", c.MaxParallelSessions)
	}
	if c.WaveSize != 25 {
		t.Errorf("expected 25, got %d", c.WaveSize)
	}
	if !c.HybridMode {
		t.Error("expected HybridMode true")
	}
	if len(c.ConnectedRepos) != 3 || c.ConnectedRepos[1] != "svc-b" {
		t.Errorf("unexpected ConnectedRepos: %v", c.ConnectedRepos)
	}
}

func TestValidate_RejectsHybridWithoutRepos(t *testing.T) {
	clearEnv(t)
	os.Setenv("HYBRID_MODE", "true")
	defer clearEnv(t)

	c := Load()
	if err := c.Validate(); err == nil {
		t.Error("expected validation error for hybrid mode without connected repos")
	}
}

func TestValidate_RejectsOutOfRangeSuccessRate(t *testing.T) {
	c := Default()
	c.MinSuccessRate = 1.5
	if err := c.Validate(); err == nil {
		t.Error("expected validation error for out-of-range MinSuccessRate")
	}
}

func TestLoad_IgnoresMalformedNumeric(t *testing.T) {
	clearEnv(t)
	os.Setenv("MAX_PARALLEL_SESSIONS", "not-a-number")
	defer clearEnv(t)

	c := Load()
	if c.MaxParallelSessions != 10 {
		t.Errorf("expected malformed value to leave default in place, got %d", c.MaxParallelSessions)
	}
}
