package logger

// Config controls the global logger.
type Config struct {
	Level string // debug, info, warn, error (default: info)
}

func (c *Config) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}
