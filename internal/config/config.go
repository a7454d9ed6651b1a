// Package config loads solivrah settings from a yaml file, SOLIVRAH_*
// environment variables and built-in defaults, in that order of precedence
// (environment highest).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/viper"

	"github.com/H4MSA/solivrah/internal/ai"
	syncer "github.com/H4MSA/solivrah/internal/sync"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Device DeviceConfig `mapstructure:"device"`
	AI     AIConfig     `mapstructure:"ai"`
	Sync   SyncConfig   `mapstructure:"sync"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	Socket   string `mapstructure:"socket"`
	DBPath   string `mapstructure:"db_path"`
	KeysFile string `mapstructure:"keys_file"`
}

// DeviceConfig describes the local client. An empty ServerURL means the
// durable store is the local sqlite database at Server.DBPath.
type DeviceConfig struct {
	StateFile string `mapstructure:"state_file"`
	ServerURL string `mapstructure:"server_url"`
	UserID    string `mapstructure:"user_id"`
	APIKey    string `mapstructure:"api_key"`
}

type AIConfig struct {
	// Backend is "anthropic", "remote" (the device server) or "offline".
	Backend    string        `mapstructure:"backend"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	UseBedrock bool          `mapstructure:"use_bedrock"`
	AWSRegion  string        `mapstructure:"aws_region"`
	AWSProfile string        `mapstructure:"aws_profile"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	Attempts   int           `mapstructure:"attempts"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	FailOpen   bool          `mapstructure:"fail_open"`
}

type SyncConfig struct {
	Debounce  time.Duration `mapstructure:"debounce"`
	RetryBase time.Duration `mapstructure:"retry_base"`
	RetryMax  time.Duration `mapstructure:"retry_max"`
	// Resync is how often quests stuck in pending sync are retried.
	Resync time.Duration `mapstructure:"resync"`
}

func (c SyncConfig) Options() syncer.Options {
	return syncer.Options{Debounce: c.Debounce, RetryBase: c.RetryBase, RetryMax: c.RetryMax}
}

func (c AIConfig) Anthropic() ai.AnthropicConfig {
	return ai.AnthropicConfig{
		Model:      anthropic.Model(c.Model),
		APIKey:     c.APIKey,
		UseBedrock: c.UseBedrock,
		AWSRegion:  c.AWSRegion,
		AWSProfile: c.AWSProfile,
		MaxTokens:  int64(c.MaxTokens),
	}
}

// Load reads the config file at path, or solivrah.yaml from the working
// directory and the user config dir when path is empty. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("solivrah")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(userConfigDir())
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("SOLIVRAH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("ai.api_key", "SOLIVRAH_AI_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("server.keys_file", "SOLIVRAH_KEYS_FILE")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.AI.APIKey = os.ExpandEnv(cfg.AI.APIKey)
	cfg.Device.APIKey = os.ExpandEnv(cfg.Device.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.AI.Backend {
	case "anthropic", "remote", "offline":
	default:
		return fmt.Errorf("config: ai.backend must be anthropic, remote or offline, got %q", c.AI.Backend)
	}
	if c.AI.Backend == "remote" && c.Device.ServerURL == "" {
		return fmt.Errorf("config: ai.backend remote requires device.server_url")
	}
	if c.AI.Attempts < 1 {
		return fmt.Errorf("config: ai.attempts must be at least 1")
	}
	if c.Sync.Debounce < 0 || c.Sync.RetryBase <= 0 || c.Sync.RetryMax < c.Sync.RetryBase {
		return fmt.Errorf("config: invalid sync timings")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:7440")
	v.SetDefault("server.socket", "")
	v.SetDefault("server.db_path", "solivrah.db")
	v.SetDefault("server.keys_file", "solivrah.keys.yaml")

	v.SetDefault("device.state_file", filepath.Join(userConfigDir(), "device.yaml"))
	v.SetDefault("device.server_url", "")
	v.SetDefault("device.user_id", "")
	v.SetDefault("device.api_key", "")

	v.SetDefault("ai.backend", "anthropic")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.use_bedrock", false)
	v.SetDefault("ai.aws_region", "us-east-1")
	v.SetDefault("ai.aws_profile", "")
	v.SetDefault("ai.max_tokens", 2048)
	v.SetDefault("ai.attempts", 3)
	v.SetDefault("ai.base_delay", "1s")
	v.SetDefault("ai.fail_open", true)

	v.SetDefault("sync.debounce", "300ms")
	v.SetDefault("sync.retry_base", "1s")
	v.SetDefault("sync.retry_max", "30s")
	v.SetDefault("sync.resync", "1m")
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "solivrah")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "solivrah")
	}
	return filepath.Join(home, ".config", "solivrah")
}
