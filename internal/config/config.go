package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	NuvemFiscal NuvemFiscalConfig `yaml:"nuvem_fiscal" mapstructure:"nuvem_fiscal"`
	Sync        SyncConfig        `yaml:"sync" mapstructure:"sync"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// NuvemFiscalConfig holds credentials and endpoints for the distribution API.
// ClientID and ClientSecret have no defaults; remote calls fail without them.
type NuvemFiscalConfig struct {
	AuthURL      string  `yaml:"auth_url" mapstructure:"auth_url"`
	APIURL       string  `yaml:"api_url" mapstructure:"api_url"`
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	Scopes       string  `yaml:"scopes" mapstructure:"scopes"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// SyncConfig configures the feed sync controller.
type SyncConfig struct {
	PageSize             int  `yaml:"page_size" mapstructure:"page_size"`
	PagePauseSecs        int  `yaml:"page_pause_secs" mapstructure:"page_pause_secs"`
	ProcessingDelaySecs  int  `yaml:"processing_delay_secs" mapstructure:"processing_delay_secs"`
	TolerateBatchFailure bool `yaml:"tolerate_batch_failure" mapstructure:"tolerate_batch_failure"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

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
	v.SetEnvPrefix("FISCALFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "fiscalflow.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("nuvem_fiscal.auth_url", "https://auth.nuvemfiscal.com.br/oauth/token")
	v.SetDefault("nuvem_fiscal.api_url", "https://api.nuvemfiscal.com.br")
	v.SetDefault("nuvem_fiscal.scopes", "empresa distribuicao-nfe nfe nfse cte conta")
	v.SetDefault("nuvem_fiscal.rate_per_sec", 5)
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.page_pause_secs", 2)
	v.SetDefault("sync.processing_delay_secs", 5)
	v.SetDefault("sync.tolerate_batch_failure", true)

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
