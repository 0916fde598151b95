// Package config provides environment-variable-first configuration loading
// with an optional YAML base layer for the relay and the inbox client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Sink      SinkConfig      `yaml:"sink"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	TLS       TLSConfig       `yaml:"tls"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Client    ClientConfig    `yaml:"client"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig holds the webhook listener settings.
type HTTPConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// CORSOrigins applies to the browser-facing routes only; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
	// TrustProxy honors X-Forwarded-For when keying the rate limiter.
	TrustProxy bool `yaml:"trust_proxy"`
}

// WebhookConfig holds inbound verification settings.
type WebhookConfig struct {
	// MailgunSigningKey enables signature verification when set.
	MailgunSigningKey string `yaml:"mailgun_signing_key"`
}

// SinkConfig selects and configures the downstream notify target.
type SinkConfig struct {
	Kind      string         `yaml:"kind"`
	ForwardTo string         `yaml:"forward_to"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	SES       SESConfig      `yaml:"ses"`
	Graph     GraphConfig    `yaml:"graph"`
	NATS      NATSConfig     `yaml:"nats"`
}

// DispatchConfig holds GitHub repository_dispatch settings.
type DispatchConfig struct {
	Token  string `yaml:"token"`
	Repo   string `yaml:"repo"`
	APIURL string `yaml:"api_url"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// NATSConfig holds the NATS publisher settings.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// RateLimitConfig holds webhook rate limiting settings.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	RedisURL string        `yaml:"redis_url"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// SMTPConfig holds the optional SMTP ingest listener settings.
type SMTPConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MailboxConfig holds disposable address defaults.
type MailboxConfig struct {
	// Domains is the default domain list; the first entry backs locally
	// synthesized addresses.
	Domains []string      `yaml:"domains"`
	TTL     time.Duration `yaml:"ttl"`
}

// ClientConfig holds the inbox client settings.
type ClientConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	APIBaseURL      string        `yaml:"api_base_url"`
	OneSecMailURL   string        `yaml:"onesecmail_url"`
	MailTmURL       string        `yaml:"mailtm_url"`
	MailTmPassword  string        `yaml:"mailtm_password"`
	SessionFile     string        `yaml:"session_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvVars()
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Mailbox.Domains) == 0 {
		errs = append(errs, errors.New("mailbox.domains must not be empty"))
	}
	if c.Mailbox.TTL <= 0 {
		errs = append(errs, errors.New("mailbox.ttl must be positive"))
	}
	if c.Client.PollInterval <= 0 {
		errs = append(errs, errors.New("client.poll_interval must be positive"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RedisURL == "" {
			errs = append(errs, errors.New("ratelimit.redis_url is required when rate limiting is enabled"))
		}
		if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("ratelimit.requests and ratelimit.window must be positive"))
		}
	}

	switch c.Sink.Kind {
	case "", "stdout":
	case "dispatch":
		if !c.DispatchConfigured() {
			errs = append(errs, errors.New("dispatch sink requires GITHUB_TOKEN and GITHUB_REPO"))
		}
	case "ses":
		if !c.SESConfigured() || c.Sink.ForwardTo == "" {
			errs = append(errs, errors.New("ses sink requires SES_REGION, SES_SENDER and SINK_FORWARD_TO"))
		}
	case "graph":
		if !c.GraphConfigured() || c.Sink.ForwardTo == "" {
			errs = append(errs, errors.New("graph sink requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, GRAPH_SENDER and SINK_FORWARD_TO"))
		}
	case "nats":
		if c.Sink.NATS.URL == "" {
			errs = append(errs, errors.New("nats sink requires NATS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q", c.Sink.Kind))
	}

	return errors.Join(errs...)
}

// DispatchConfigured returns true if a GitHub token and repository are set.
func (c *Config) DispatchConfigured() bool {
	return c.Sink.Dispatch.Token != "" && c.Sink.Dispatch.Repo != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Sink.Graph.TenantID != "" &&
		c.Sink.Graph.ClientID != "" &&
		c.Sink.Graph.ClientSecret != "" &&
		c.Sink.Graph.Sender != ""
}

// SESConfigured returns true if an SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.Sink.SES.Region != "" && c.Sink.SES.Sender != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":3000"
	c.HTTP.ReadTimeout = 15 * time.Second
	c.HTTP.WriteTimeout = 15 * time.Second
	c.HTTP.CORSOrigins = []string{"*"}

	c.Sink.Dispatch.APIURL = "https://api.github.com"
	c.Sink.NATS.Subject = "mailhook.inbound"

	c.RateLimit.Requests = 120
	c.RateLimit.Window = time.Minute

	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize

	c.Mailbox.Domains = []string{"1secmail.com"}
	c.Mailbox.TTL = time.Hour

	c.Client.PollInterval = 15 * time.Second
	c.Client.ProviderTimeout = 5 * time.Second

	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("API_PORT"); v != "" {
		c.HTTP.Listen = portAddr(v)
	}
	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	setDuration(&c.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	setDuration(&c.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.HTTP.CORSOrigins = splitList(v)
	}
	setBool(&c.HTTP.TrustProxy, "TRUST_PROXY")

	setString(&c.Webhook.MailgunSigningKey, "MAILGUN_WEBHOOK_SIGNING_KEY")

	if v := os.Getenv("SINK"); v != "" {
		c.Sink.Kind = strings.ToLower(v)
	}
	setString(&c.Sink.ForwardTo, "SINK_FORWARD_TO")
	setString(&c.Sink.Dispatch.Token, "GITHUB_TOKEN")
	setString(&c.Sink.Dispatch.Repo, "GITHUB_REPO")
	setString(&c.Sink.Dispatch.APIURL, "GITHUB_API_URL")
	setString(&c.Sink.SES.Region, "SES_REGION")
	setString(&c.Sink.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.Sink.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.Sink.SES.Sender, "SES_SENDER")
	setString(&c.Sink.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Sink.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Sink.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Sink.Graph.Sender, "GRAPH_SENDER")
	setString(&c.Sink.NATS.URL, "NATS_URL")
	setString(&c.Sink.NATS.Subject, "NATS_SUBJECT")

	setBool(&c.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setString(&c.RateLimit.RedisURL, "REDIS_URL")
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Requests = n
		}
	}
	setDuration(&c.RateLimit.Window, "RATE_LIMIT_WINDOW")

	setBool(&c.SMTP.Enabled, "SMTP_ENABLED")
	if v := os.Getenv("SMTP_BIND_PORT"); v != "" {
		c.SMTP.Listen = portAddr(v)
	}
	setString(&c.SMTP.Listen, "SMTP_LISTEN")
	setString(&c.SMTP.Hostname, "SMTP_HOSTNAME")
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	setBool(&c.TLS.Enabled, "TLS_ENABLED")
	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	if v := os.Getenv("DOMAIN_LIST"); v != "" {
		if domains := splitList(v); len(domains) > 0 {
			c.Mailbox.Domains = domains
		}
	}
	setDuration(&c.Mailbox.TTL, "ADDRESS_TTL")

	setDuration(&c.Client.PollInterval, "POLL_INTERVAL")
	setDuration(&c.Client.ProviderTimeout, "PROVIDER_TIMEOUT")
	setString(&c.Client.APIBaseURL, "API_BASE_URL")
	setString(&c.Client.OneSecMailURL, "ONESECMAIL_URL")
	setString(&c.Client.MailTmURL, "MAILTM_URL")
	setString(&c.Client.MailTmPassword, "MAILTM_PASSWORD")
	setString(&c.Client.SessionFile, "TEMPMAIL_SESSION_FILE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts bare integers as seconds, or Go duration strings.
func setDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// portAddr turns a bare port into a listen address.
func portAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
