package config

// Package config provides configuration management for skylens-ai.
//
// Configuration sources (priority order, high to low):
//   1. Environment variables (SKYLENS_* prefix)
//   2. YAML config file (default: config.yaml next to the binary)
//   3. Built-in defaults

// Config contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host string
		Port int
		// AllowedOrigins is the list of origins permitted for CORS and
		// WebSocket connections. Use ["*"] to allow any origin
		// (development only).
		AllowedOrigins []string
		// RateLimitPerMinute caps requests per client IP; 0 disables.
		RateLimitPerMinute int
	}

	// LLM provider configuration
	LLM struct {
		Provider string // currently "openai" or any OpenAI-compatible endpoint
		APIKey   string
		Model    string
		BaseURL  string
	}

	// Orchestrator configuration
	Orchestrator struct {
		MaxIterations int
		// SuspendTTLMinutes bounds how long a conversation may stay
		// suspended on unresolved bridged calls.
		SuspendTTLMinutes int
	}

	// Database configuration (audit archive)
	Database struct {
		SQLitePath string
	}

	// Logging configuration
	Logging struct {
		Level        string // debug | info | warn | error
		AppLogPath   string
		AuditLogPath string
	}
}
