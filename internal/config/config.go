// Package config loads legis-cli settings from config.yaml and LEGIS_*
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Stage     StageConfig     `yaml:"stage" mapstructure:"stage"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Graph     GraphConfig     `yaml:"graph" mapstructure:"graph"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// SourceConfig locates and parses raw documents.
type SourceConfig struct {
	Dir          string   `yaml:"dir" mapstructure:"dir"`
	Formats      []string `yaml:"formats" mapstructure:"formats"`
	XMLElement   string   `yaml:"xml_element" mapstructure:"xml_element"`
	CSVDelimiter string   `yaml:"csv_delimiter" mapstructure:"csv_delimiter"`
}

// IngestConfig tunes the ingestion run.
type IngestConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	Concurrency         int     `yaml:"concurrency" mapstructure:"concurrency"`
	DryRun              bool    `yaml:"dry_run" mapstructure:"dry_run"`
}

// StageConfig overrides the embedded stage rule table.
type StageConfig struct {
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver                 string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL            string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns               int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns               int32  `yaml:"min_conns" mapstructure:"min_conns"`
	MaxConsecutiveFailures int    `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
}

// EnrichConfig configures AI title generation.
type EnrichConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	FailureThreshold  int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	CooldownSecs      int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// Cooldown returns CooldownSecs as a duration.
func (c EnrichConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// AnthropicConfig holds Anthropic API credentials.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GraphConfig configures the optional Neo4j export. Export is disabled when
// URI is empty.
type GraphConfig struct {
	URI         string `yaml:"uri" mapstructure:"uri"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	Database    string `yaml:"database" mapstructure:"database"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Enabled reports whether a graph URI is configured.
func (g GraphConfig) Enabled() bool { return g.URI != "" }

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEGIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("source.dir", "data")
	v.SetDefault("source.formats", []string{"xml", "json", "csv", "xlsx"})
	v.SetDefault("source.xml_element", "result")
	v.SetDefault("source.csv_delimiter", ";")
	v.SetDefault("ingest.similarity_threshold", 0.6)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.dry_run", false)
	v.SetDefault("stage.rules_file", "")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.max_consecutive_failures", 10)
	v.SetDefault("enrich.enabled", false)
	v.SetDefault("enrich.model", "claude-haiku-4-5-20251001")
	v.SetDefault("enrich.max_tokens", 128)
	v.SetDefault("enrich.requests_per_second", 2)
	v.SetDefault("enrich.failure_threshold", 5)
	v.SetDefault("enrich.max_attempts", 3)
	v.SetDefault("enrich.cooldown_secs", 60)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "neo4j")
	v.SetDefault("graph.batch_size", 500)
	v.SetDefault("graph.timeout_secs", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "ingest",
// "migrate" or "query". Every problem is reported in one error.
func (c *Config) Validate(mode string) error {
	var errs []string

	needStore := true
	switch mode {
	case "ingest":
		if c.Source.Dir == "" {
			errs = append(errs, "source.dir is required")
		}
		if t := c.Ingest.SimilarityThreshold; t <= 0 || t > 1 {
			errs = append(errs, "ingest.similarity_threshold must be in (0, 1]")
		}
		if c.Ingest.Concurrency < 1 {
			errs = append(errs, "ingest.concurrency must be at least 1")
		}
		if c.Store.MaxConsecutiveFailures < 1 {
			errs = append(errs, "store.max_consecutive_failures must be at least 1")
		}
		if c.Enrich.Enabled && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required when enrich.enabled")
		}
		needStore = !c.Ingest.DryRun
	case "migrate", "query":
	default:
		errs = append(errs, "unknown mode: "+mode)
	}

	if needStore {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for postgres")
			}
		case "sqlite":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
