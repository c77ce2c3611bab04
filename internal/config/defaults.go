package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8081
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMinute = 120

	// LLM defaults
	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.BaseURL = ""

	// Orchestrator defaults
	cfg.Orchestrator.MaxIterations = 5
	cfg.Orchestrator.SuspendTTLMinutes = 30

	// Database defaults
	cfg.Database.SQLitePath = "data/skylens-ai.db"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.AppLogPath = "logs/app.log"
	cfg.Logging.AuditLogPath = "logs/audit.log"

	return cfg
}
