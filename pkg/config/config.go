package config

// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"icn-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for an ICN mesh node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Jobs struct {
		BidWindowSeconds       int  `mapstructure:"bid_window_seconds" json:"bid_window_seconds"`
		ReceiptTimeoutSeconds  int  `mapstructure:"receipt_timeout_seconds" json:"receipt_timeout_seconds"`
		SubmissionQueueSize    int  `mapstructure:"submission_queue_size" json:"submission_queue_size"`
		ProductionMode         bool `mapstructure:"production_mode" json:"production_mode"`
	} `mapstructure:"jobs" json:"jobs"`

	Economics struct {
		ManaMaxCapacity uint64 `mapstructure:"mana_max_capacity" json:"mana_max_capacity"`
		OpenRateLimit   uint64 `mapstructure:"open_rate_limit" json:"open_rate_limit"`
	} `mapstructure:"economics" json:"economics"`

	Wasm struct {
		MaxExecSecs uint64 `mapstructure:"max_exec_secs" json:"max_exec_secs"`
		MemoryLimit uint32 `mapstructure:"memory_limit" json:"memory_limit"`
	} `mapstructure:"wasm" json:"wasm"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
		Prune  bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	// Best-effort: a missing .env is normal outside local development,
	// so a load failure here does not abort startup.
	_ = godotenv.Load(".env")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ICN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ICN_ENV", ""))
}
