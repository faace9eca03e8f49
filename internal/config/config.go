package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input    InputConfig    `yaml:"input" mapstructure:"input"`
	Clean    CleanConfig    `yaml:"clean" mapstructure:"clean"`
	Features FeaturesConfig `yaml:"features" mapstructure:"features"`
	Taxonomy TaxonomyConfig `yaml:"taxonomy" mapstructure:"taxonomy"`
	Cluster  ClusterConfig  `yaml:"cluster" mapstructure:"cluster"`
	Chart    ChartConfig    `yaml:"chart" mapstructure:"chart"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// InputConfig locates the customer and order extracts.
type InputConfig struct {
	CustomersPath string `yaml:"customers_path" mapstructure:"customers_path"`
	OrdersPath    string `yaml:"orders_path" mapstructure:"orders_path"`
	Encoding      string `yaml:"encoding" mapstructure:"encoding"`
	CustomerSheet string `yaml:"customer_sheet" mapstructure:"customer_sheet"`
	OrderSheet    string `yaml:"order_sheet" mapstructure:"order_sheet"`
}

// CleanConfig controls ingestion and deduplication.
type CleanConfig struct {
	RequiredCustomerFields []string `yaml:"required_customer_fields" mapstructure:"required_customer_fields"`
	StrictDuplicates       bool     `yaml:"strict_duplicates" mapstructure:"strict_duplicates"`
}

// FeaturesConfig controls preference scoring.
type FeaturesConfig struct {
	SkipDegenerate bool `yaml:"skip_degenerate" mapstructure:"skip_degenerate"`
}

// TaxonomyConfig points at the YAML merchant-category remap. An empty path
// keeps merchant categories as they are.
type TaxonomyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ClusterConfig configures k-means and the model-selection sweep.
type ClusterConfig struct {
	K                int     `yaml:"k" mapstructure:"k"`
	MinK             int     `yaml:"min_k" mapstructure:"min_k"`
	MaxK             int     `yaml:"max_k" mapstructure:"max_k"`
	Seed             int64   `yaml:"seed" mapstructure:"seed"`
	NInit            int     `yaml:"n_init" mapstructure:"n_init"`
	MaxIter          int     `yaml:"max_iter" mapstructure:"max_iter"`
	Tol              float64 `yaml:"tol" mapstructure:"tol"`
	SweepConcurrency int     `yaml:"sweep_concurrency" mapstructure:"sweep_concurrency"`
}

// ChartConfig configures PNG rendering.
type ChartConfig struct {
	Enabled  bool    `yaml:"enabled" mapstructure:"enabled"`
	Dir      string  `yaml:"dir" mapstructure:"dir"`
	FontPath string  `yaml:"font_path" mapstructure:"font_path"`
	FontSize float64 `yaml:"font_size" mapstructure:"font_size"`
	Width    int     `yaml:"width" mapstructure:"width"`
}

// OutputConfig configures where tables and reports are written.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures the global logger.
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
	v.SetEnvPrefix("SEGMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.customers_path", "")
	v.SetDefault("input.orders_path", "")
	v.SetDefault("input.encoding", "utf-8")
	v.SetDefault("input.customer_sheet", "")
	v.SetDefault("input.order_sheet", "")
	v.SetDefault("clean.required_customer_fields", []string{"DEVICE_OS"})
	v.SetDefault("clean.strict_duplicates", false)
	v.SetDefault("features.skip_degenerate", true)
	v.SetDefault("taxonomy.path", "")
	v.SetDefault("cluster.k", 4)
	v.SetDefault("cluster.min_k", 1)
	v.SetDefault("cluster.max_k", 10)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("cluster.n_init", 10)
	v.SetDefault("cluster.max_iter", 300)
	v.SetDefault("cluster.tol", 1e-4)
	v.SetDefault("cluster.sweep_concurrency", 4)
	v.SetDefault("chart.enabled", false)
	v.SetDefault("chart.dir", "output/charts")
	v.SetDefault("chart.font_path", "")
	v.SetDefault("chart.font_size", 12)
	v.SetDefault("chart.width", 900)
	v.SetDefault("output.dir", "output")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "segment.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command depends on. mode is the command
// name: run, clean, sweep or runs.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		errs = append(errs, c.validateInput()...)
		if c.Cluster.K < 1 {
			errs = append(errs, "cluster.k must be >= 1")
		}
		errs = append(errs, c.validateFit()...)
		errs = append(errs, c.validateStore()...)
	case "clean":
		errs = append(errs, c.validateInput()...)
	case "sweep":
		errs = append(errs, c.validateInput()...)
		if c.Cluster.MinK < 1 {
			errs = append(errs, "cluster.min_k must be >= 1")
		}
		if c.Cluster.MaxK < c.Cluster.MinK {
			errs = append(errs, "cluster.max_k must be >= cluster.min_k")
		}
		if c.Cluster.SweepConcurrency < 1 || c.Cluster.SweepConcurrency > 64 {
			errs = append(errs, "cluster.sweep_concurrency must be between 1 and 64")
		}
		errs = append(errs, c.validateFit()...)
	case "runs":
		errs = append(errs, c.validateStore()...)
		if c.storeDisabled() {
			errs = append(errs, "store.driver must not be none")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateInput() []string {
	var errs []string
	if c.Input.CustomersPath == "" {
		errs = append(errs, "input.customers_path is required")
	}
	if c.Input.OrdersPath == "" {
		errs = append(errs, "input.orders_path is required")
	}
	return errs
}

func (c *Config) validateFit() []string {
	var errs []string
	if c.Cluster.NInit < 1 {
		errs = append(errs, "cluster.n_init must be >= 1")
	}
	if c.Cluster.MaxIter < 1 {
		errs = append(errs, "cluster.max_iter must be >= 1")
	}
	if c.Cluster.Tol < 0 {
		errs = append(errs, "cluster.tol must be >= 0")
	}
	return errs
}

func (c *Config) validateStore() []string {
	switch strings.ToLower(c.Store.Driver) {
	case "none":
		return nil
	case "sqlite", "postgres", "postgresql":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("store.driver %q is not one of sqlite, postgres, none", c.Store.Driver)}
	}
}

func (c *Config) storeDisabled() bool {
	return strings.EqualFold(c.Store.Driver, "none")
}

// StoreEnabled reports whether runs should be persisted.
func (c *Config) StoreEnabled() bool {
	return !c.storeDisabled()
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
