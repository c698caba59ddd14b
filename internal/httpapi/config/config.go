// Package config loads the HTTP gateway's process-level settings from the
// environment, mirroring the teacher's walletserver/config/config.go
// godotenv-plus-os.Getenv idiom — kept separate from internal/config's
// viper-based node configuration since the gateway only needs a handful of
// values that operators set per deployment (port, timeouts, default chain).
package config

import (
	"time"

	"github.com/joho/godotenv"

	"github.com/synnergy/hostnode/pkg/utils"
)

type ServerConfig struct {
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	DefaultChainID    uint64
	MaxEmbedTexts     int
	MaxEmbedTextChars int
}

var AppConfig ServerConfig

// Load populates AppConfig from a .env file (if present) plus environment
// variables, per spec §6.5. A missing .env file is not an error — operators
// may set the environment directly (container, systemd unit, etc.).
func Load() error {
	// A missing .env is routine outside local dev; godotenv.Load's error in
	// that case is intentionally ignored.
	_ = godotenv.Load(".env")
	AppConfig = ServerConfig{
		Port:              utils.EnvOrDefault("HOSTNODE_HTTP_PORT", "8090"),
		ReadTimeout:       utils.EnvOrDefaultDuration("HOSTNODE_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      utils.EnvOrDefaultDuration("HOSTNODE_WRITE_TIMEOUT", 120*time.Second),
		DefaultChainID:    utils.EnvOrDefaultUint64("HOSTNODE_DEFAULT_CHAIN_ID", 84532),
		MaxEmbedTexts:     utils.EnvOrDefaultInt("HOSTNODE_MAX_EMBED_TEXTS", 96),
		MaxEmbedTextChars: utils.EnvOrDefaultInt("HOSTNODE_MAX_EMBED_TEXT_CHARS", 8192),
	}
	return nil
}
