package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"INGEST_CONFIG":                "/nonexistent/config.yaml",
		"BACKEND_TOKEN":                "tok-123",
		"TEST_INPUT_CHANNEL_ID":        "-100111",
		"TEST_NOTIFICATION_CHANNEL_ID": "-100222",
	}
}

func TestResolve_EnvOnly(t *testing.T) {
	env := baseEnv()
	env["RUNNER_CONCURRENCY"] = "3"
	env["SPEC_TIMEOUT_MS"] = "120000"

	cfg, err := Resolve(envMap(env))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.TestInputChannel != "-100111" || cfg.TestNotifyChannel != "-100222" {
		t.Fatalf("channels: %+v", cfg)
	}
	if cfg.Concurrency != 3 {
		t.Fatalf("concurrency: got %d want 3", cfg.Concurrency)
	}
	if cfg.SpecTimeout != 120*time.Second {
		t.Fatalf("timeout: got %v want 120s", cfg.SpecTimeout)
	}
}

func TestResolve_Defaults(t *testing.T) {
	cfg, err := Resolve(envMap(baseEnv()))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Concurrency != DefaultConcurrency {
		t.Fatalf("concurrency default: got %d want %d", cfg.Concurrency, DefaultConcurrency)
	}
	if cfg.SpecTimeout != DefaultSpecTimeout {
		t.Fatalf("timeout default: got %v want %v", cfg.SpecTimeout, DefaultSpecTimeout)
	}
}

func TestResolve_MissingChannel(t *testing.T) {
	env := baseEnv()
	delete(env, "TEST_INPUT_CHANNEL_ID")
	_, err := Resolve(envMap(env))
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestResolve_MissingToken(t *testing.T) {
	env := baseEnv()
	delete(env, "BACKEND_TOKEN")
	_, err := Resolve(envMap(env))
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestResolve_RefusesSharedProductionChannel(t *testing.T) {
	env := baseEnv()
	env["PRODUCTION_CHANNEL_ID"] = env["TEST_INPUT_CHANNEL_ID"]
	_, err := Resolve(envMap(env))
	if !errors.Is(err, ErrUnsafeConfig) {
		t.Fatalf("expected ErrUnsafeConfig, got %v", err)
	}
}

func TestResolve_FileFallbackAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "" +
		"backend_token: file-tok\n" +
		"test_input_channel_id: \"-100333\"\n" +
		"test_notification_channel_id: \"-100444\"\n" +
		"runner_concurrency: 9\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	env := map[string]string{
		"INGEST_CONFIG": path,
		// Env overrides the file for the token only.
		"BACKEND_TOKEN": "env-tok",
	}
	cfg, err := Resolve(envMap(env))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.BotToken != "env-tok" {
		t.Fatalf("env should win: got %q", cfg.BotToken)
	}
	if cfg.TestInputChannel != "-100333" || cfg.Concurrency != 9 {
		t.Fatalf("file values: %+v", cfg)
	}
}

func TestResolve_RejectsUnknownFileKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("bogus_key: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := baseEnv()
	env["INGEST_CONFIG"] = path
	if _, err := Resolve(envMap(env)); err == nil {
		t.Fatal("expected strict decode error for unknown key")
	}
}
