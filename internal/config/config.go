package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "GEOLENS"

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Heatmap   HeatmapConfig   `mapstructure:"heatmap"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`
	RateLimit int    `mapstructure:"rate_limit"` // requests per minute per IP, 0 disables
}

type DatabaseConfig struct {
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// AuthConfig guards the admin cache endpoints. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type CacheConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ClusterConfig sets the max pairwise distance among the top predictions
type ClusterConfig struct {
	ThresholdKm float64 `mapstructure:"threshold_km"`
}

type HeatmapConfig struct {
	Resolution float64 `mapstructure:"resolution"`
	Sigma      float64 `mapstructure:"sigma"`
	Threshold  float64 `mapstructure:"threshold"`
}

type PredictorConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	TopK    int           `mapstructure:"top_k"`
	Device  string        `mapstructure:"device"`
}

type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxImages   int `mapstructure:"max_images"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.rate_limit", 600)
	v.SetDefault("database.path", "./data/geolens.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("cache.retention_days", 30)
	v.SetDefault("cache.sweep_interval", "6h")
	v.SetDefault("cluster.threshold_km", 100.0)
	v.SetDefault("heatmap.resolution", 1.0)
	v.SetDefault("heatmap.sigma", 3.0)
	v.SetDefault("heatmap.threshold", 0.7)
	v.SetDefault("predictor.url", "http://127.0.0.1:8000")
	v.SetDefault("predictor.timeout", "120s")
	v.SetDefault("predictor.top_k", 5)
	v.SetDefault("predictor.device", "auto")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.max_images", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load 加载配置. path may be empty, in which case only defaults and
// GEOLENS_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges that the rest of the service relies on
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Cache.RetentionDays < 0 {
		return fmt.Errorf("cache.retention_days must be >= 0")
	}
	if c.Cluster.ThresholdKm <= 0 {
		return fmt.Errorf("cluster.threshold_km must be > 0")
	}
	if c.Heatmap.Resolution <= 0 || c.Heatmap.Resolution > 10 {
		return fmt.Errorf("heatmap.resolution must be in (0, 10]")
	}
	if c.Heatmap.Sigma <= 0 {
		return fmt.Errorf("heatmap.sigma must be > 0")
	}
	if c.Heatmap.Threshold <= 0 || c.Heatmap.Threshold > 1 {
		return fmt.Errorf("heatmap.threshold must be in (0, 1]")
	}
	if c.Predictor.TopK < 1 || c.Predictor.TopK > 20 {
		return fmt.Errorf("predictor.top_k must be in [1, 20]")
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be >= 1")
	}
	if c.Batch.MaxImages < 1 {
		return fmt.Errorf("batch.max_images must be >= 1")
	}
	return nil
}
