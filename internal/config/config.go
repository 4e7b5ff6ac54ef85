package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDescriptorName = "job_spec.yaml"
	DefaultDebounce       = 200 * time.Millisecond
	DefaultSettle         = 100 * time.Millisecond
)

type IntakeConfig struct {
	WatchRoot      string        `yaml:"watch_root"`
	QueueDir       string        `yaml:"queue_dir"`
	FailedDir      string        `yaml:"failed_dir"`
	DescriptorName string        `yaml:"descriptor_name"`
	Debounce       time.Duration `yaml:"debounce"`
	Settle         time.Duration `yaml:"settle"` // quiet period before a watched file counts as written
	Workers        int           `yaml:"workers"`
	DBPath         string        `yaml:"db_path"`     // audit events, disabled when empty
	StatusAddr     string        `yaml:"status_addr"` // status API, disabled when empty
	StatusToken    string        `yaml:"status_token"`
	Log            LogConfig     `yaml:"log"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

func Default() *IntakeConfig {
	return &IntakeConfig{
		WatchRoot:      "/mnt/test-k8s/users",
		QueueDir:       "/mnt/test-k8s/job-queue",
		FailedDir:      "/mnt/test-k8s/job-failed",
		DescriptorName: DefaultDescriptorName,
		Debounce:       DefaultDebounce,
		Settle:         DefaultSettle,
		Workers:        1,
		Log:            LogConfig{Level: "info", Format: "text"},
	}
}

// LoadIntakeConfig reads the YAML file at path over the defaults. An empty
// path yields the defaults. INTAKE_* environment variables override both.
func LoadIntakeConfig(path string) (*IntakeConfig, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *IntakeConfig) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"INTAKE_WATCH_ROOT":      &c.WatchRoot,
		"INTAKE_QUEUE_DIR":       &c.QueueDir,
		"INTAKE_FAILED_DIR":      &c.FailedDir,
		"INTAKE_DESCRIPTOR_NAME": &c.DescriptorName,
		"INTAKE_DB_PATH":         &c.DBPath,
		"INTAKE_STATUS_ADDR":     &c.StatusAddr,
		"INTAKE_STATUS_TOKEN":    &c.StatusToken,
		"INTAKE_LOG_LEVEL":       &c.Log.Level,
		"INTAKE_LOG_FORMAT":      &c.Log.Format,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"INTAKE_DEBOUNCE": &c.Debounce,
		"INTAKE_SETTLE":   &c.Settle,
	}
	for key, dst := range durations {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := getenv("INTAKE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing INTAKE_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

func (c *IntakeConfig) Validate() error {
	switch {
	case c.WatchRoot == "":
		return errors.New("watch_root is required")
	case c.QueueDir == "":
		return errors.New("queue_dir is required")
	case c.FailedDir == "":
		return errors.New("failed_dir is required")
	case c.DescriptorName == "":
		return errors.New("descriptor_name is required")
	case c.Debounce < 0:
		return errors.New("debounce must not be negative")
	case c.Settle < 0:
		return errors.New("settle must not be negative")
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.StatusAddr != "" && c.DBPath == "":
		return errors.New("status_addr requires db_path")
	case c.StatusAddr != "" && c.StatusToken == "":
		return errors.New("status_addr requires status_token")
	}
	return nil
}
