package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/albionforge/itemgraph/internal/platform/envutil"
	"github.com/albionforge/itemgraph/internal/platform/logger"
)

// Config carries every run knob. Precedence: defaults, then the optional
// YAML run config, then environment variables; CLI flags are applied last by
// the binary.
type Config struct {
	CatalogPath    string
	CatalogLocale  string
	OutputDir      string
	CheckpointPath string

	APIBaseURL string
	Cities     []string

	BatchSize          int
	GraphBatchSize     int
	CheckpointInterval int
	BaseDelaySeconds   int
	RequestTimeout     time.Duration

	Resume bool
	DryRun bool
	Limit  int
}

// yamlConfig is the file shape; only set fields override.
type yamlConfig struct {
	CatalogPath        string   `yaml:"catalog_path"`
	CatalogLocale      string   `yaml:"catalog_locale"`
	OutputDir          string   `yaml:"output_dir"`
	CheckpointPath     string   `yaml:"checkpoint_path"`
	APIBaseURL         string   `yaml:"api_base_url"`
	Cities             []string `yaml:"cities"`
	BatchSize          int      `yaml:"batch_size"`
	GraphBatchSize     int      `yaml:"graph_batch_size"`
	CheckpointInterval int      `yaml:"checkpoint_interval"`
	BaseDelaySeconds   int      `yaml:"base_delay_seconds"`
	RequestTimeoutSecs int      `yaml:"request_timeout_seconds"`
}

func defaults() Config {
	return Config{
		CatalogPath:    "items.json",
		CatalogLocale:  "EN-US",
		OutputDir:      "out",
		CheckpointPath: "out/checkpoint.json",
		APIBaseURL:     "https://www.albion-online-data.com",
		Cities: []string{
			"Bridgewatch", "Caerleon", "Fort Sterling",
			"Lymhurst", "Martlock", "Thetford",
		},
		BatchSize:          200,
		GraphBatchSize:     25,
		CheckpointInterval: 1000,
		BaseDelaySeconds:   3,
		RequestTimeout:     45 * time.Second,
	}
}

// Load assembles the run configuration. A missing config file is fine; a
// present but unparsable one is an error so a typo cannot silently run with
// defaults.
func Load(configPath string, log *logger.Logger) (Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
			log.Debug("config file absent, using defaults", "path", configPath)
		} else {
			var fileCfg yamlConfig
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", configPath, err)
			}
			applyFile(&cfg, fileCfg)
			log.Info("loaded run config", "path", configPath)
		}
	}

	applyEnv(&cfg, log)
	return cfg, nil
}

func applyFile(cfg *Config, f yamlConfig) {
	if f.CatalogPath != "" {
		cfg.CatalogPath = f.CatalogPath
	}
	if f.CatalogLocale != "" {
		cfg.CatalogLocale = f.CatalogLocale
	}
	if f.OutputDir != "" {
		cfg.OutputDir = f.OutputDir
	}
	if f.CheckpointPath != "" {
		cfg.CheckpointPath = f.CheckpointPath
	}
	if f.APIBaseURL != "" {
		cfg.APIBaseURL = f.APIBaseURL
	}
	if len(f.Cities) > 0 {
		cfg.Cities = f.Cities
	}
	if f.BatchSize > 0 {
		cfg.BatchSize = f.BatchSize
	}
	if f.GraphBatchSize > 0 {
		cfg.GraphBatchSize = f.GraphBatchSize
	}
	if f.CheckpointInterval > 0 {
		cfg.CheckpointInterval = f.CheckpointInterval
	}
	if f.BaseDelaySeconds > 0 {
		cfg.BaseDelaySeconds = f.BaseDelaySeconds
	}
	if f.RequestTimeoutSecs > 0 {
		cfg.RequestTimeout = time.Duration(f.RequestTimeoutSecs) * time.Second
	}
}

func applyEnv(cfg *Config, log *logger.Logger) {
	cfg.CatalogPath = envutil.GetEnv("CATALOG_PATH", cfg.CatalogPath, log)
	cfg.CatalogLocale = envutil.GetEnv("CATALOG_LOCALE", cfg.CatalogLocale, log)
	cfg.OutputDir = envutil.GetEnv("OUTPUT_DIR", cfg.OutputDir, log)
	cfg.CheckpointPath = envutil.GetEnv("CHECKPOINT_PATH", cfg.CheckpointPath, log)
	cfg.APIBaseURL = envutil.GetEnv("PRICES_API_BASE_URL", cfg.APIBaseURL, log)
	if cities := envutil.GetEnv("PRICES_CITIES", "", log); cities != "" {
		parts := strings.Split(cities, ",")
		cfg.Cities = cfg.Cities[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Cities = append(cfg.Cities, p)
			}
		}
	}
	cfg.BatchSize = envutil.GetEnvAsInt("PIPELINE_BATCH_SIZE", cfg.BatchSize, log)
	cfg.GraphBatchSize = envutil.GetEnvAsInt("GRAPH_BATCH_SIZE", cfg.GraphBatchSize, log)
	cfg.CheckpointInterval = envutil.GetEnvAsInt("CHECKPOINT_INTERVAL", cfg.CheckpointInterval, log)
	cfg.BaseDelaySeconds = envutil.GetEnvAsInt("BASE_DELAY_SECONDS", cfg.BaseDelaySeconds, log)
	if secs := envutil.GetEnvAsInt("REQUEST_TIMEOUT_SECONDS", 0, log); secs > 0 {
		cfg.RequestTimeout = time.Duration(secs) * time.Second
	}
	cfg.DryRun = envutil.GetEnvAsBool("DRY_RUN", cfg.DryRun, log)
}

func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds) * time.Second
}
