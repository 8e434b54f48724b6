package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigMissing is returned when a required setting has no value in
	// either the environment or the config file.
	ErrConfigMissing = errors.New("config missing")
	// ErrUnsafeConfig is returned when the test input channel and the
	// production channel resolve to the same identifier.
	ErrUnsafeConfig = errors.New("unsafe config: test channel equals production channel")
)

const (
	DefaultConcurrency = 5
	DefaultSpecTimeout = 90 * time.Second
)

// Config is the resolved harness configuration. It is the only place the
// environment is read; every other component receives a *Config.
type Config struct {
	BotToken          string
	TestInputChannel  string
	TestNotifyChannel string
	ProductionChannel string

	VaultRoot   string
	FixtureRoot string
	RunsRoot    string
	ArchiveRoot string

	Concurrency int
	SpecTimeout time.Duration

	JudgeEndpoint string
	JudgeAPIKey   string
}

type fileConfig struct {
	BotToken          string `yaml:"backend_token,omitempty"`
	TestInputChannel  string `yaml:"test_input_channel_id,omitempty"`
	TestNotifyChannel string `yaml:"test_notification_channel_id,omitempty"`
	ProductionChannel string `yaml:"production_channel_id,omitempty"`
	VaultRoot         string `yaml:"vault_root,omitempty"`
	FixtureRoot       string `yaml:"fixture_root,omitempty"`
	RunsRoot          string `yaml:"runs_root,omitempty"`
	ArchiveRoot       string `yaml:"archive_root,omitempty"`
	Concurrency       int    `yaml:"runner_concurrency,omitempty"`
	SpecTimeoutMS     int    `yaml:"spec_timeout_ms,omitempty"`
	JudgeEndpoint     string `yaml:"judge_endpoint,omitempty"`
	JudgeAPIKey       string `yaml:"judge_api_key,omitempty"`
}

// Resolve builds the configuration from the environment first, then the
// well-known config file. getenv is injected so tests never touch the real
// environment.
func Resolve(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var fc fileConfig
	if path := configFilePath(getenv); path != "" {
		loaded, err := loadFileConfig(path)
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			fc = *loaded
		}
	}

	pick := func(envKey, fileVal string) string {
		if v := strings.TrimSpace(getenv(envKey)); v != "" {
			return v
		}
		return strings.TrimSpace(fileVal)
	}

	cfg := &Config{
		BotToken:          pick("BACKEND_TOKEN", fc.BotToken),
		TestInputChannel:  pick("TEST_INPUT_CHANNEL_ID", fc.TestInputChannel),
		TestNotifyChannel: pick("TEST_NOTIFICATION_CHANNEL_ID", fc.TestNotifyChannel),
		ProductionChannel: pick("PRODUCTION_CHANNEL_ID", fc.ProductionChannel),
		VaultRoot:         pick("VAULT_ROOT", fc.VaultRoot),
		FixtureRoot:       pick("FIXTURE_ROOT", fc.FixtureRoot),
		RunsRoot:          pick("RUNS_ROOT", fc.RunsRoot),
		ArchiveRoot:       pick("ARCHIVE_ROOT", fc.ArchiveRoot),
		JudgeEndpoint:     pick("JUDGE_ENDPOINT", fc.JudgeEndpoint),
		JudgeAPIKey:       pick("JUDGE_API_KEY", fc.JudgeAPIKey),
		Concurrency:       DefaultConcurrency,
		SpecTimeout:       DefaultSpecTimeout,
	}

	if v := pick("RUNNER_CONCURRENCY", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("RUNNER_CONCURRENCY must be a positive integer, got %q", v)
		}
		cfg.Concurrency = n
	} else if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}

	if v := pick("SPEC_TIMEOUT_MS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SPEC_TIMEOUT_MS must be a positive integer, got %q", v)
		}
		cfg.SpecTimeout = time.Duration(n) * time.Millisecond
	} else if fc.SpecTimeoutMS > 0 {
		cfg.SpecTimeout = time.Duration(fc.SpecTimeoutMS) * time.Millisecond
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("%w: BACKEND_TOKEN is not set", ErrConfigMissing)
	}
	if c.TestInputChannel == "" {
		return fmt.Errorf("%w: TEST_INPUT_CHANNEL_ID is not set", ErrConfigMissing)
	}
	if c.TestNotifyChannel == "" {
		return fmt.Errorf("%w: TEST_NOTIFICATION_CHANNEL_ID is not set", ErrConfigMissing)
	}
	if c.ProductionChannel != "" && c.TestInputChannel == c.ProductionChannel {
		return fmt.Errorf("%w (%s)", ErrUnsafeConfig, c.TestInputChannel)
	}
	return nil
}

func configFilePath(getenv func(string) string) string {
	if p := strings.TrimSpace(getenv("INGEST_CONFIG")); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ingest", "config.yaml")
}

func loadFileConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return &fileConfig{}, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &fc, nil
}
