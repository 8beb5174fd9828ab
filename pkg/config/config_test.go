package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "postgres:\n  dsn: postgres://u:p@localhost/db\n")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Training.MaxConcurrentJobs != 2 {
		t.Fatalf("expected 2 concurrent jobs by default, got %d", c.Training.MaxConcurrentJobs)
	}
	if c.Training.JobPollInterval != 5*time.Second {
		t.Fatalf("unexpected poll interval %v", c.Training.JobPollInterval)
	}
	if c.Alerts.Grace != 15*time.Minute {
		t.Fatalf("unexpected grace %v", c.Alerts.Grace)
	}
	if c.Prediction.ModelTimeout != 30*time.Second || c.Prediction.RecoveryTimeout != 60*time.Second {
		t.Fatalf("unexpected prediction timeouts %v %v", c.Prediction.ModelTimeout, c.Prediction.RecoveryTimeout)
	}
	if c.Log.Format != "text" {
		t.Fatalf("unexpected log format %q", c.Log.Format)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "training:\n  max_concurrent_jobs: 4\n")
	t.Setenv("DB_DSN", "postgres://env@localhost/db")
	t.Setenv("MODEL_STORAGE_PATH", "/var/models")
	t.Setenv("MAX_CONCURRENT_JOBS", "3")
	t.Setenv("JOB_POLL_INTERVAL", "2")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "json")

	c, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Postgres.DSN != "postgres://env@localhost/db" {
		t.Fatalf("dsn not overridden: %q", c.Postgres.DSN)
	}
	if c.Training.ModelStoragePath != "/var/models" {
		t.Fatalf("storage path not overridden: %q", c.Training.ModelStoragePath)
	}
	if c.Training.MaxConcurrentJobs != 3 {
		t.Fatalf("expected env to win over yaml, got %d", c.Training.MaxConcurrentJobs)
	}
	if c.Training.JobPollInterval != 2*time.Second {
		t.Fatalf("unexpected poll interval %v", c.Training.JobPollInterval)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" {
		t.Fatalf("unexpected log config %+v", c.Log)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"missing dsn":    "log:\n  format: json\n",
		"bad log format": "postgres:\n  dsn: x\nlog:\n  format: xml\n",
		"kafka brokers":  "postgres:\n  dsn: x\nkafka:\n  enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	for in, want := range map[string]time.Duration{"5s": 5 * time.Second, "1.5": 1500 * time.Millisecond, "250ms": 250 * time.Millisecond} {
		got, err := parseInterval(in)
		if err != nil || got != want {
			t.Fatalf("parseInterval(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseInterval("soon"); err == nil {
		t.Fatalf("expected error")
	}
}
