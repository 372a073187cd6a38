package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds the graceful shutdown of the HTTP server and delivery queue.
const DefaultShutdownTimeout = 30 * time.Second

type Config struct {
	// Application flags
	Debug bool

	// Configuration flags
	ConfigPath string
	EnvFile    string

	// ListenAddress overrides server.listenAddress when set
	ListenAddress string

	ShutdownTimeout string
}

// BindFlags registers the flags on fs. Each default comes from the matching
// environment variable when it is set.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&c.Debug, "debug", getEnvBool("QUOTEMAIL_DEBUG", false), "Enable debug level logging")
	fs.StringVar(&c.ConfigPath, "config", getEnvString("QUOTEMAIL_CONFIG_PATH", ""),
		"Path to the quotemail configuration file (default ./config.yaml, optional)")
	fs.StringVar(&c.EnvFile, "env-file", getEnvString("QUOTEMAIL_ENV_FILE", ".env"),
		"Path to a .env file with SMTP_USER and SMTP_PASS; ignored when missing")
	fs.StringVar(&c.ListenAddress, "listen-address", getEnvString("QUOTEMAIL_LISTEN_ADDRESS", ""),
		"Address the HTTP server binds to, overriding server.listenAddress (e.g. ':8000')")
	fs.StringVar(&c.ShutdownTimeout, "shutdown-timeout", getEnvString("QUOTEMAIL_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout.String()),
		"How long to wait for in-flight requests and queued deliveries on shutdown (e.g. '30s')")
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"config_path", c.ConfigPath,
		"env_file", c.EnvFile,
		"listen_address", c.ListenAddress,
		"shutdown_timeout", c.ShutdownTimeout,
	)
}

func ParseShutdownTimeout(value string, log *zap.SugaredLogger) time.Duration {
	timeout, err := parseDuration("shutdown-timeout", value, DefaultShutdownTimeout)
	if err != nil {
		log.Warn(err)
	}
	return timeout
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			duration = d
		} else {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
