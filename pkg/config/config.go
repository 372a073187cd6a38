package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	// RelayHost and RelayPort identify the outbound relay. The relay speaks implicit TLS.
	RelayHost = "smtp.worksmobile.com"
	RelayPort = 465

	DefaultConfigPath    = "./config.yaml"
	DefaultListenAddress = ":8000"
	DefaultDestination   = "abc@americaro.co.kr"
	DefaultWorkers       = 4
	DefaultQueueSize     = 100
	DefaultBackoffUnit   = "2s"
	DefaultFetchTimeout  = "30s"
	DefaultRateLimit     = 5
	DefaultRateBurst     = 10

	// ConfigPathEnv overrides the config file location when no path is given explicitly.
	ConfigPathEnv = "QUOTEMAIL_CONFIG_PATH"
	UserEnv       = "SMTP_USER"
	PasswordEnv   = "SMTP_PASS"
)

// DefaultAllowedOrigins are the browser origins allowed to call the relay when
// server.allowedOrigins is not set.
var DefaultAllowedOrigins = []string{
	"https://americaro.co.kr",
	"https://www.americaro.co.kr",
}

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For headers
}

type Mail struct {
	// Destination receives every quote. All request variants share it.
	Destination string `yaml:"destination"`
	FromName    string `yaml:"fromName"`

	// Credentials are only ever read from the environment.
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

type Delivery struct {
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queueSize"`
	BackoffUnit string `yaml:"backoffUnit"`
}

type Fetch struct {
	Timeout string `yaml:"timeout"`
}

type RateLimit struct {
	// Rate is the sustained number of send requests per second per client IP.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// DKIM signing is enabled when a private key path is configured.
type DKIM struct {
	Selector       string `yaml:"selector"`
	Domain         string `yaml:"domain"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
}

func (d DKIM) Enabled() bool {
	return d.PrivateKeyPath != ""
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// Async publishes outcomes without waiting for broker acknowledgement.
	Async bool `yaml:"async"`
}

type Outcome struct {
	Kafka Kafka `yaml:"kafka"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Mail      Mail      `yaml:"mail"`
	Delivery  Delivery  `yaml:"delivery"`
	Fetch     Fetch     `yaml:"fetch"`
	RateLimit RateLimit `yaml:"rateLimit"`
	DKIM      DKIM      `yaml:"dkim"`
	Outcome   Outcome   `yaml:"outcome"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration file, applies defaults and picks up SMTP
// credentials from the environment.
//
// The path is taken from configPath, then QUOTEMAIL_CONFIG_PATH, then
// ./config.yaml. A missing file is only an error when the path was given
// explicitly.
func Load(configPath ...string) (Config, error) {
	path := DefaultConfigPath
	explicit := false
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
		explicit = true
	} else if env := os.Getenv(ConfigPathEnv); env != "" {
		path = env
		explicit = true
	}

	var config Config

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// run on defaults
	default:
		return config, fmt.Errorf("trying to open quotemail config file %s: %w", path, err)
	}

	config.Mail.Username = strings.TrimSpace(os.Getenv(UserEnv))
	config.Mail.Password = os.Getenv(PasswordEnv)
	config.Defaults()

	return config, nil
}

// Defaults fills every unset field with its default value.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.Mail.Destination == "" {
		c.Mail.Destination = DefaultDestination
	}
	if c.Delivery.Workers <= 0 {
		c.Delivery.Workers = DefaultWorkers
	}
	if c.Delivery.QueueSize <= 0 {
		c.Delivery.QueueSize = DefaultQueueSize
	}
	if c.Delivery.BackoffUnit == "" {
		c.Delivery.BackoffUnit = DefaultBackoffUnit
	}
	if c.Fetch.Timeout == "" {
		c.Fetch.Timeout = DefaultFetchTimeout
	}
	if c.RateLimit.Rate <= 0 {
		c.RateLimit.Rate = DefaultRateLimit
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateBurst
	}
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	if _, err := mail.ParseAddress(c.Mail.Destination); err != nil {
		errs = append(errs, fmt.Errorf("mail.destination %q: %w", c.Mail.Destination, err))
	}
	if _, err := c.BackoffUnit(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FetchTimeout(); err != nil {
		errs = append(errs, err)
	}
	if c.DKIM.Enabled() && c.DKIM.Selector == "" {
		errs = append(errs, errors.New("dkim.selector is required when dkim.privateKeyPath is set"))
	}
	if len(c.Outcome.Kafka.Brokers) > 0 && c.Outcome.Kafka.Topic == "" {
		errs = append(errs, errors.New("outcome.kafka.topic is required when brokers are configured"))
	}

	return errors.Join(errs...)
}

// RequireCredentials reports an error when SMTP_USER or SMTP_PASS is missing.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.Mail.Username == "" {
		missing = append(missing, UserEnv)
	}
	if c.Mail.Password == "" {
		missing = append(missing, PasswordEnv)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing SMTP credentials: %s must be set", strings.Join(missing, ", "))
	}
	return nil
}

// BackoffUnit returns delivery.backoffUnit as a duration.
func (c *Config) BackoffUnit() (time.Duration, error) {
	return positiveDuration("delivery.backoffUnit", c.Delivery.BackoffUnit)
}

// FetchTimeout returns fetch.timeout as a duration.
func (c *Config) FetchTimeout() (time.Duration, error) {
	return positiveDuration("fetch.timeout", c.Fetch.Timeout)
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, value)
	}
	return d, nil
}
