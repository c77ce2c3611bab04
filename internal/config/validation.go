package config

import "fmt"

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.ratelimitperminute must not be negative"))
	}

	if c.LLM.Provider == "" {
		errs = append(errs, fmt.Errorf("llm.provider is required"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("llm api key is required (set SKYLENS_LLM_API_KEY or OPENAI_API_KEY)"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}

	if c.Orchestrator.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.maxiterations must be at least 1"))
	}
	if c.Orchestrator.SuspendTTLMinutes < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.suspendttlminutes must be at least 1"))
	}

	if c.Database.SQLitePath == "" {
		errs = append(errs, fmt.Errorf("database.sqlitepath is required"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}

	return errs
}
