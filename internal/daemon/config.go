package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from TOML with environment
// overrides for deployment platforms that inject secrets.
type Config struct {
	API       APIConfig       `toml:"api"`
	Autopilot AutopilotConfig `toml:"autopilot"`
	Generator GeneratorConfig `toml:"generator"`
	Publisher PublisherConfig `toml:"publisher"`
	Storage   StorageConfig   `toml:"storage"`
	Log       LogConfig       `toml:"log"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// AutopilotConfig tunes the tick behavior.
type AutopilotConfig struct {
	TriggerSecret string `toml:"trigger_secret"`
	BatchSize     int    `toml:"batch_size"`
	RunCost       int64  `toml:"run_cost"`
	MaxRetries    int    `toml:"max_retries"`
	Cron          string `toml:"cron"` // local tick schedule, empty disables the internal timer
}

// GeneratorConfig configures the content generation API.
type GeneratorConfig struct {
	Endpoint     string `toml:"endpoint"`
	Model        string `toml:"model"`
	APIKey       string `toml:"api_key"`
	SystemPrompt string `toml:"system_prompt"`
}

// PublisherConfig configures the publish destination.
type PublisherConfig struct {
	BaseURL     string `toml:"base_url"`
	Username    string `toml:"username"`
	AppPassword string `toml:"app_password"`
}

// StorageConfig configures the database location.
type StorageConfig struct {
	Dir string `toml:"dir"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Autopilot: AutopilotConfig{
			BatchSize:  10,
			RunCost:    10,
			MaxRetries: 3,
		},
		Generator: GeneratorConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		Storage: StorageConfig{
			Dir: defaultStorageDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the TOML file at path on top of the defaults, then
// applies environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv layers AUTOPRESS_* environment variables over the file values.
// Secrets usually arrive this way rather than in the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AUTOPRESS_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("AUTOPRESS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("AUTOPRESS_TRIGGER_SECRET"); v != "" {
		cfg.Autopilot.TriggerSecret = v
	}
	if v := os.Getenv("AUTOPRESS_GENERATOR_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("AUTOPRESS_WP_APP_PASSWORD"); v != "" {
		cfg.Publisher.AppPassword = v
	}
	if v := os.Getenv("AUTOPRESS_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("AUTOPRESS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Addr returns the host:port the API listens on.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	if env := os.Getenv("AUTOPRESS_HOME"); env != "" {
		return filepath.Join(env, "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".autopress", "config.toml")
}

func defaultStorageDir() string {
	if env := os.Getenv("AUTOPRESS_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".autopress")
}
