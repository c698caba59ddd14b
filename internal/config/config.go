// Package config loads the node's static configuration: chain endpoints,
// vector-database budgets, session TTLs, and backend paths. Grounded
// directly in pkg/config.Config — same spf13/viper YAML-plus-environment
// overlay, same AppConfig package variable — extended with the sections
// this node's domain needs instead of the original chain/consensus/VM ones.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/synnergy/hostnode/pkg/utils"
)

const Version = "v0.1.0"

// ChainEntry is one registered chain endpoint (spec §4.2's ChainRegistry
// input).
type ChainEntry struct {
	ChainID int    `mapstructure:"chain_id" json:"chain_id"`
	RPCURL  string `mapstructure:"rpc_url" json:"rpc_url"`
}

// Config is the unified node configuration, mirroring the YAML layout
// under config/.
type Config struct {
	Server struct {
		ListenAddr   string `mapstructure:"listen_addr" json:"listen_addr"`
		HTTPPort     int    `mapstructure:"http_port" json:"http_port"`
		WebSocketPath string `mapstructure:"websocket_path" json:"websocket_path"`
	} `mapstructure:"server" json:"server"`

	Chains []ChainEntry `mapstructure:"chains" json:"chains"`

	VectorBudgets struct {
		MaxLoadedMB      int `mapstructure:"max_loaded_mb" json:"max_loaded_mb"`
		RateLimitPerUser int `mapstructure:"rate_limit_per_user" json:"rate_limit_per_user"`
		Concurrency      int `mapstructure:"concurrency" json:"concurrency"`
	} `mapstructure:"vector_budgets" json:"vector_budgets"`

	SessionTTL struct {
		SessionTimeoutSeconds int `mapstructure:"session_timeout_seconds" json:"session_timeout_seconds"`
		KeyTTLMinutes         int `mapstructure:"key_ttl_minutes" json:"key_ttl_minutes"`
		MaxSessions           int `mapstructure:"max_sessions" json:"max_sessions"`
	} `mapstructure:"session_ttl" json:"session_ttl"`

	Backends struct {
		ModelPath      string `mapstructure:"model_path" json:"model_path"`
		ChatTemplate   string `mapstructure:"chat_template" json:"chat_template"`
		VlmBaseURL     string `mapstructure:"vlm_base_url" json:"vlm_base_url"`
		VlmModel       string `mapstructure:"vlm_model" json:"vlm_model"`
		OnnxModelPath  string `mapstructure:"onnx_model_path" json:"onnx_model_path"`
		OnnxSharedLib  string `mapstructure:"onnx_shared_lib" json:"onnx_shared_lib"`
		WorkerPoolSize int    `mapstructure:"worker_pool_size" json:"worker_pool_size"`
	} `mapstructure:"backends" json:"backends"`

	Billing struct {
		ProofIntervalTokens   uint64 `mapstructure:"proof_interval_tokens" json:"proof_interval_tokens"`
		WallClockIntervalSecs int    `mapstructure:"wall_clock_interval_secs" json:"wall_clock_interval_secs"`
	} `mapstructure:"billing" json:"billing"`

	VectorStore struct {
		BaseURL string `mapstructure:"base_url" json:"base_url"`
	} `mapstructure:"vector_store" json:"vector_store"`
}

// AppConfig holds the configuration loaded via Load/LoadFromEnv.
var AppConfig Config

// Load reads config/default.yaml, optionally merges config/<env>.yaml, and
// overlays environment variables, mirroring pkg/config.Config.Load.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()
	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the HOSTNODE_ENV environment
// variable to select an optional overlay file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("HOSTNODE_ENV", ""))
}

func setDefaults() {
	viper.SetDefault("server.listen_addr", "0.0.0.0")
	viper.SetDefault("server.http_port", 8090)
	viper.SetDefault("server.websocket_path", "/v1/ws")
	viper.SetDefault("vector_budgets.max_loaded_mb", 512)
	viper.SetDefault("vector_budgets.rate_limit_per_user", 10)
	viper.SetDefault("vector_budgets.concurrency", 5)
	viper.SetDefault("session_ttl.session_timeout_seconds", 1800)
	viper.SetDefault("session_ttl.key_ttl_minutes", 30)
	viper.SetDefault("session_ttl.max_sessions", 10_000)
	viper.SetDefault("backends.chat_template", "Default")
	viper.SetDefault("backends.worker_pool_size", 4)
	viper.SetDefault("billing.proof_interval_tokens", 100)
	viper.SetDefault("billing.wall_clock_interval_secs", 60)
}
