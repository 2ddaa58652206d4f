// Package config provides configuration loading and validation for annotprop.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"annotprop/pkg/domain"
)

// Config is the complete run configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// SeedFile is a YAML or JSON domain.Seed loaded into the store before the run.
	SeedFile string `yaml:"seed_file"`
}

// ChainConfig names a chain and the pipeline id that owns its rows.
type ChainConfig struct {
	Name  string `yaml:"name"`
	Owner int    `yaml:"owner"`
}

// PipelineConfig parameterises derivation and reconciliation.
type PipelineConfig struct {
	Chains               []ChainConfig `yaml:"chains"`
	Aspects              []string      `yaml:"aspects"`
	Workers              int           `yaml:"workers"`
	EvidenceCodes        []string      `yaml:"evidence_codes"`
	RestrictedQualifiers []string      `yaml:"restricted_qualifiers"`
	AllowedSpecies       []int         `yaml:"allowed_species"`
	DiseaseAspect        string        `yaml:"disease_aspect"`
}

// S3Config configures the S3 archive driver.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// ArchiveConfig configures where run reports and journals are kept.
type ArchiveConfig struct {
	// Driver is one of none, fs, memory, s3.
	Driver string   `yaml:"driver"`
	Root   string   `yaml:"fs_root"`
	Prefix string   `yaml:"prefix"`
	S3     S3Config `yaml:"s3"`
}

// MetricsConfig configures the Pushgateway hand-off at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{Driver: "sqlite", SQLitePath: "annotprop.db"},
		Pipeline: PipelineConfig{
			Chains: []ChainConfig{
				{Name: "strain2allele", Owner: 501},
				{Name: "allele2gene", Owner: 502},
			},
			Aspects:              []string{string(domain.AspectDisease), string(domain.AspectPhenotype)},
			EvidenceCodes:        []string{"EXP", "IAGP", "IDA", "IED", "IEP", "IGI", "IMP", "IPI", "IPM", "QTM"},
			RestrictedQualifiers: []string{"induced", "treatment"},
			AllowedSpecies:       domain.DefaultAllowedSpecies(),
			DiseaseAspect:        string(domain.AspectDisease),
		},
		Archive: ArchiveConfig{Driver: "fs", Root: "runs-archive", Prefix: "runs"},
		Metrics: MetricsConfig{Job: "annotprop"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

var (
	storageDrivers = map[string]struct{}{"memory": {}, "sqlite": {}, "postgres": {}}
	archiveDrivers = map[string]struct{}{"none": {}, "fs": {}, "memory": {}, "s3": {}}
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, ok := storageDrivers[c.Storage.Driver]; !ok {
		return fmt.Errorf("storage.driver %q must be memory, sqlite or postgres", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
	}
	if len(c.Pipeline.Chains) == 0 {
		return fmt.Errorf("pipeline.chains must not be empty")
	}
	owners := make(map[int]string, len(c.Pipeline.Chains))
	for _, ch := range c.Pipeline.Chains {
		if ch.Name == "" {
			return fmt.Errorf("pipeline.chains: name is required")
		}
		if ch.Owner <= 0 {
			return fmt.Errorf("pipeline.chains[%s]: owner must be positive", ch.Name)
		}
		if prev, dup := owners[ch.Owner]; dup {
			return fmt.Errorf("pipeline.chains[%s]: owner %d already used by %s", ch.Name, ch.Owner, prev)
		}
		owners[ch.Owner] = ch.Name
	}
	if len(c.Pipeline.Aspects) == 0 {
		return fmt.Errorf("pipeline.aspects must not be empty")
	}
	for _, a := range c.Pipeline.Aspects {
		if _, err := domain.ParseAspect(a); err != nil {
			return fmt.Errorf("pipeline.aspects: %w", err)
		}
	}
	if _, err := domain.ParseAspect(c.Pipeline.DiseaseAspect); err != nil {
		return fmt.Errorf("pipeline.disease_aspect: %w", err)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative")
	}
	if _, ok := archiveDrivers[c.Archive.Driver]; !ok {
		return fmt.Errorf("archive.driver %q must be none, fs, memory or s3", c.Archive.Driver)
	}
	if c.Archive.Driver == "s3" && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required for the s3 driver")
	}
	return nil
}

// Owners returns the owner id of every configured chain.
func (c *Config) Owners() []int {
	out := make([]int, 0, len(c.Pipeline.Chains))
	for _, ch := range c.Pipeline.Chains {
		out = append(out, ch.Owner)
	}
	return out
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
