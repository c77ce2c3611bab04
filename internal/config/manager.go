package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager loads and watches configuration.
type Manager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
}

// NewManager creates a manager for the given config file path. The file
// is optional; defaults plus environment variables are enough to run.
func NewManager(configPath string) *Manager {
	return &Manager{configPath: configPath}
}

// Load loads configuration from all sources.
func (m *Manager) Load() error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		m.viper.SetConfigType("yaml")
	}

	m.viper.SetEnvPrefix("SKYLENS")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				// no file, use defaults + env vars
			} else if os.IsNotExist(err) {
				// same
			} else {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := m.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.applyEnvOverrides(cfg)
	m.config = cfg

	return nil
}

// Get returns the current configuration. Load must have been called.
func (m *Manager) Get() *Config {
	return m.config
}

// Validate validates that the configuration is correct and complete.
func (m *Manager) Validate() error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// Watch reloads the configuration when the file changes and invokes the
// callback with the fresh config. Only safe-to-reload settings should be
// consumed from it; server wiring keeps its startup values.
func (m *Manager) Watch(onChange func(*Config)) {
	if m.configPath == "" {
		return
	}
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		cfg := DefaultConfig()
		if err := m.viper.Unmarshal(cfg); err != nil {
			return
		}
		m.applyEnvOverrides(cfg)
		m.config = cfg
		if onChange != nil {
			onChange(cfg)
		}
	})
	m.viper.WatchConfig()
}

func (m *Manager) setDefaults() {
	def := DefaultConfig()
	m.viper.SetDefault("server.host", def.Server.Host)
	m.viper.SetDefault("server.port", def.Server.Port)
	m.viper.SetDefault("server.allowedorigins", def.Server.AllowedOrigins)
	m.viper.SetDefault("server.ratelimitperminute", def.Server.RateLimitPerMinute)
	m.viper.SetDefault("llm.provider", def.LLM.Provider)
	m.viper.SetDefault("llm.model", def.LLM.Model)
	m.viper.SetDefault("llm.baseurl", def.LLM.BaseURL)
	m.viper.SetDefault("orchestrator.maxiterations", def.Orchestrator.MaxIterations)
	m.viper.SetDefault("orchestrator.suspendttlminutes", def.Orchestrator.SuspendTTLMinutes)
	m.viper.SetDefault("database.sqlitepath", def.Database.SQLitePath)
	m.viper.SetDefault("logging.level", def.Logging.Level)
	m.viper.SetDefault("logging.applogpath", def.Logging.AppLogPath)
	m.viper.SetDefault("logging.auditlogpath", def.Logging.AuditLogPath)
}

// applyEnvOverrides maps sensitive values that are only ever supplied
// through the environment.
func (m *Manager) applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("SKYLENS_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
}
