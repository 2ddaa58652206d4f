package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "annotprop.yaml"

// Loader layers defaults, an optional YAML file and ANNOTPROP_* environment overrides.
type Loader struct {
	logger *zap.Logger
	getenv func(string) string
}

// NewLoader creates a loader reading the process environment.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger, getenv: os.Getenv}
}

// WithEnv replaces the environment lookup.
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// Load resolves the configuration. An explicit path must exist; with an empty
// path DefaultFile is used when present.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	loaded, err := LoadFromFile(path)
	switch {
	case err == nil:
		l.logger.Debug("loaded config", zap.String("path", path))
		config = loaded
	case !explicit && errors.Is(err, fs.ErrNotExist):
		l.logger.Debug("no config file, using defaults")
	default:
		return nil, err
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (l *Loader) applyEnv(c *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(l.getenv(key)); v != "" {
			l.logger.Debug("env override", zap.String("key", key))
			*dst = v
		}
	}
	str("ANNOTPROP_STORAGE_DRIVER", &c.Storage.Driver)
	str("ANNOTPROP_SQLITE_PATH", &c.Storage.SQLitePath)
	str("ANNOTPROP_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("ANNOTPROP_SEED_FILE", &c.Storage.SeedFile)
	str("ANNOTPROP_ARCHIVE_DRIVER", &c.Archive.Driver)
	str("ANNOTPROP_ARCHIVE_ROOT", &c.Archive.Root)
	str("ANNOTPROP_S3_BUCKET", &c.Archive.S3.Bucket)
	str("ANNOTPROP_S3_REGION", &c.Archive.S3.Region)
	str("ANNOTPROP_S3_ENDPOINT", &c.Archive.S3.Endpoint)
	str("ANNOTPROP_PUSHGATEWAY_URL", &c.Metrics.PushgatewayURL)
	str("ANNOTPROP_LOG_LEVEL", &c.Log.Level)
	str("ANNOTPROP_LOG_FORMAT", &c.Log.Format)

	if v := strings.TrimSpace(l.getenv("ANNOTPROP_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ANNOTPROP_WORKERS: %w", err)
		}
		c.Pipeline.Workers = n
	}
	if v := strings.TrimSpace(l.getenv("ANNOTPROP_EVIDENCE_CODES")); v != "" {
		c.Pipeline.EvidenceCodes = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
