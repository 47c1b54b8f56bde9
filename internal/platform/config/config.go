// Package config loads all process configuration from the environment so
// main stays lean. Defaults mirror the upstream deployment.
package config

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joeshaw/envdecode"
)

// Config is the root configuration for the server process.
type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=info"`

	HTTP       HTTPConfig
	Redis      RedisConfig
	OIDC       OIDCConfig
	ServiceJWT ServiceJWTConfig
	Salesforce SalesforceConfig
	Consent    ConsentConfig
}

// HTTPConfig captures HTTP server and session cookie configuration.
type HTTPConfig struct {
	Addr              string        `env:"HTTP_ADDR,default=:8080"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME,default=sid"`
	SessionTTL        time.Duration `env:"SESSION_TTL,default=24h"`
	SecureCookies     bool          `env:"SECURE_COOKIES,default=false"`
}

// RedisConfig configures the session store connection.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL,required"`
	PoolSize     int           `env:"REDIS_POOL_SIZE,default=10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS,default=2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT,default=5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT,default=3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT,default=3s"`
}

// OIDCConfig configures the relying-party side of the login flow.
type OIDCConfig struct {
	ProviderURL  string `env:"OIDC_PROVIDER_URL,default=https://login.salesforce.com"`
	ClientID     string `env:"OIDC_CLIENT_ID,required"`
	ClientSecret string `env:"OIDC_CLIENT_SECRET,required"`
	RedirectURI  string `env:"OIDC_REDIRECT_URI,required"`
	Scopes       string `env:"OIDC_SCOPES,default=openid email"`
	Prompt       string `env:"OIDC_PROMPT,default=login"`
	// ContactIDClaim names the userinfo claim that carries the remote contact
	// key used for consent lookups.
	ContactIDClaim string `env:"OIDC_CONTACT_ID_CLAIM,default=contact_id"`
}

// ServiceJWTConfig holds the service identity used for the JWT-bearer
// assertion exchange that backs outbound data service calls.
type ServiceJWTConfig struct {
	ClientID      string `env:"JWT_CLIENT_ID,required"`
	Subject       string `env:"JWT_SUBJECT,required"`
	PrivateKeyPEM string `env:"JWT_PRIVATE_KEY,required"`
}

// ParsePrivateKey parses the configured PEM-encoded RSA signing key.
func (c ServiceJWTConfig) ParsePrivateKey() (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse JWT_PRIVATE_KEY: %w", err)
	}
	return key, nil
}

// SalesforceConfig configures the data service REST client.
type SalesforceConfig struct {
	APIVersion string        `env:"API_VERSION,default=v59.0"`
	Timeout    time.Duration `env:"OUTBOUND_HTTP_TIMEOUT,default=10s"`
}

// ConsentConfig drives the consent gate. Purpose lists are semicolon
// separated in the environment because purpose names contain spaces and
// commas (e.g. "Terms of Service").
type ConsentConfig struct {
	Purposes               []string      `env:"CONSENT_PURPOSES"`
	RequiredChoicePurposes []string      `env:"CONSENT_REQUIRED_CHOICE_PURPOSES"`
	MandatoryPurposes      []string      `env:"CONSENT_MANDATORY_PURPOSES"`
	ForceReloadInterval    time.Duration `env:"CONSENT_FORCE_RELOAD_INTERVAL,default=300s"`
	PromptOnUnknown        bool          `env:"CONSENT_PROMPT_ON_UNKNOWN,default=true"`
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Consent.applyDefaults()
	return cfg, nil
}

func (c *ConsentConfig) applyDefaults() {
	if len(c.Purposes) == 0 {
		c.Purposes = []string{"Terms of Service", "App Telemetry", "Online Order", "Newsletter"}
	}
	if len(c.RequiredChoicePurposes) == 0 {
		c.RequiredChoicePurposes = []string{"Online Order", "Newsletter"}
	}
	if len(c.MandatoryPurposes) == 0 {
		c.MandatoryPurposes = []string{"Terms of Service"}
	}
}
