package docker

import (
	"io"
	"os"
	"time"

	"batchctl/internal/config"
)

// Config holds configuration for the local runner.
type Config struct {
	Host        string        // Docker daemon address; empty uses DOCKER_HOST
	StopTimeout time.Duration // grace period before a cancelled run is killed
	Keep        bool          // keep containers after they exit
	Stdout      io.Writer
	Stderr      io.Writer
}

// LoadConfigFromEnv loads runner configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Host:        config.GetEnv("BATCHCTL_DOCKER_HOST", ""),
		StopTimeout: config.GetDurationEnv("BATCHCTL_LOCAL_STOP_TIMEOUT", 10*time.Second),
		Keep:        config.GetBoolEnv("BATCHCTL_LOCAL_KEEP", false),
	}
}

func (c Config) withDefaults() Config {
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	return c
}
