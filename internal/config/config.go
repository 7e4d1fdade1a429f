// Package config loads the webmail settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults used when a variable is unset.
const (
	DefaultHTTPAddr    = ":3000"
	DefaultServiceName = "Webmail"
	DefaultSessionTTL  = 24 * time.Hour
	DefaultQuota       = 100 * 1024 * 1024
	DefaultMaxPostSize = 1024 * 1024

	DefaultIMAPPort = 993
	DefaultPOP3Port = 995
	DefaultSMTPPort = 587
)

// Environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Endpoint is a mail protocol host and port shown to account holders.
type Endpoint struct {
	Host string
	Port int
}

// Config holds the settings of one webmail process.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	Env         string
	LogLevel    slog.Level
	ServiceName string
	Domain      string

	MsgIDSecret   string
	SessionSecret string
	SessionTTL    time.Duration
	SecureCookies bool

	TableName      string
	BlobAPIURL     string
	RedisAddr      string
	EventsQueueURL string

	DefaultQuota       int64
	PublicMessageLinks bool

	IMAP Endpoint
	POP3 Endpoint
	SMTP Endpoint

	TrustProxy  bool
	MaxPostSize int64
}

// Development reports whether detailed errors may be shown to clients.
func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}

// Load reads the configuration through getenv, normally os.Getenv, and
// validates it. All problems are reported together.
func Load(getenv func(string) string) (*Config, error) {
	var errs []error
	str := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	boolean := func(key string, def bool) bool {
		v := str(key, "")
		if v == "" {
			return def
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
			return def
		}
		return b
	}
	integer := func(key string, def int64) int64 {
		v := str(key, "")
		if v == "" {
			return def
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: %q is not a positive integer", key, v))
			return def
		}
		return n
	}

	c := &Config{
		HTTPAddr:           str("HTTP_ADDR", DefaultHTTPAddr),
		MetricsAddr:        str("METRICS_ADDR", ""),
		Env:                strings.ToLower(str("APP_ENV", EnvProduction)),
		ServiceName:        str("SERVICE_NAME", DefaultServiceName),
		Domain:             strings.ToLower(str("SERVICE_DOMAIN", "")),
		MsgIDSecret:        str("MSGID_SECRET", ""),
		SessionSecret:      str("SESSION_SECRET", ""),
		SessionTTL:         DefaultSessionTTL,
		SecureCookies:      boolean("SECURE_COOKIES", false),
		TableName:          str("EMAIL_TABLE_NAME", ""),
		BlobAPIURL:         str("BLOB_API_URL", ""),
		RedisAddr:          str("REDIS_ADDR", ""),
		EventsQueueURL:     str("ACCOUNT_EVENTS_QUEUE_URL", ""),
		DefaultQuota:       integer("DEFAULT_QUOTA", DefaultQuota),
		PublicMessageLinks: boolean("PUBLIC_MESSAGE_LINKS", true),
		TrustProxy:         boolean("TRUST_PROXY", false),
		MaxPostSize:        integer("MAX_POST_SIZE", DefaultMaxPostSize),
	}

	if v := str("LOG_LEVEL", ""); v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %q is not a log level", v))
		}
	}

	if v := str("SESSION_TTL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("SESSION_TTL: %q is not a positive duration", v))
		} else {
			c.SessionTTL = d
		}
	}

	endpoint := func(prefix, sub string, def int64) Endpoint {
		host := str(prefix+"_HOST", "")
		if host == "" && c.Domain != "" {
			host = sub + "." + c.Domain
		}
		return Endpoint{Host: host, Port: int(integer(prefix+"_PORT", def))}
	}
	c.IMAP = endpoint("IMAP", "imap", DefaultIMAPPort)
	c.POP3 = endpoint("POP3", "pop3", DefaultPOP3Port)
	c.SMTP = endpoint("SMTP", "smtp", DefaultSMTPPort)

	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"SERVICE_DOMAIN":   c.Domain,
		"MSGID_SECRET":     c.MsgIDSecret,
		"SESSION_SECRET":   c.SessionSecret,
		"EMAIL_TABLE_NAME": c.TableName,
		"BLOB_API_URL":     c.BlobAPIURL,
	}
	for _, key := range []string{"SERVICE_DOMAIN", "MSGID_SECRET", "SESSION_SECRET", "EMAIL_TABLE_NAME", "BLOB_API_URL"} {
		if required[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.Domain != "" && !strings.Contains(c.Domain, ".") {
		errs = append(errs, fmt.Errorf("SERVICE_DOMAIN: %q is not a domain name", c.Domain))
	}
	if c.BlobAPIURL != "" {
		if u, err := url.Parse(c.BlobAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("BLOB_API_URL: %q is not an absolute url", c.BlobAPIURL))
		}
	}
	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		errs = append(errs, fmt.Errorf("APP_ENV: %q is not %q or %q", c.Env, EnvProduction, EnvDevelopment))
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 16 characters"))
	}

	return errors.Join(errs...)
}
