package authcore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/blufax/authcore/password"
)

// Config holds everything the engine needs beyond its injected providers.
// Instances are configured during initialization and then treated as
// immutable.
type Config struct {
	// RedisPrefix namespaces every key the stores write.
	RedisPrefix string

	Keys         KeysConfig
	Token        TokenConfig
	Cookie       CookieConfig
	TOTP         TOTPConfig
	Password     password.Config
	OAuth        OAuthConfig
	Registration RegistrationConfig
	Audit        AuditConfig

	// Settings seeds a StaticSettings provider when none is injected.
	Settings Settings
}

// KeysConfig carries the server-wide secret keys. They come from environment
// or deployment config, never from the database.
type KeysConfig struct {
	// HashKey keys the HMAC under which bearer secrets are stored.
	HashKey []byte
	// CipherKey enables EncryptFixed/DecryptFixed when set (32 bytes).
	CipherKey []byte
}

// TokenConfig fixes the token lifetimes. TokenExpires gates active use;
// EndOfLife is pure storage garbage collection.
type TokenConfig struct {
	CookieTTL       time.Duration
	CookieEndOfLife time.Duration
	OAuthTTL        time.Duration
	OAuthEndOfLife  time.Duration
	// RenewalWindow is the trailing window before TokenExpires during which
	// any resolve silently extends the session.
	RenewalWindow time.Duration

	FlowTokenTTL         time.Duration
	AuthorizationCodeTTL time.Duration
	PasswordResetTTL     time.Duration
}

// CookieConfig shapes the Server-Auth session cookie.
type CookieConfig struct {
	Name string
	// Production gates the Secure attribute together with the SecureCookie
	// runtime setting.
	Production bool
}

// TOTPConfig fixes the second-factor parameters.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	// Skew is the number of preceding periods still accepted. 1 absorbs up
	// to one period of clock or network delay.
	Skew int
}

// OAuthConfig fixes the authorize-flow constraints.
type OAuthConfig struct {
	// Scope is the single scope this server grants.
	Scope string
}

// RegistrationConfig shapes self-service registration.
type RegistrationConfig struct {
	// DefaultPermission is snapshotted onto new accounts. The legacy
	// single-admin deployment sets PermissionAdmin; multi-user deployments
	// set PermissionRegular.
	DefaultPermission Permission
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

func defaultConfig() Config {
	return Config{
		RedisPrefix: "bfax",
		Token: TokenConfig{
			CookieTTL:            12 * time.Hour,
			CookieEndOfLife:      7 * 24 * time.Hour,
			OAuthTTL:             12 * time.Hour,
			OAuthEndOfLife:       60*24*time.Hour + 12*time.Hour,
			RenewalWindow:        5 * 24 * time.Hour,
			FlowTokenTTL:         600 * time.Second,
			AuthorizationCodeTTL: 600 * time.Second,
			PasswordResetTTL:     3600 * time.Second,
		},
		Cookie: CookieConfig{
			Name: "Server-Auth",
		},
		TOTP: TOTPConfig{
			Issuer: "bluFax",
			Digits: 6,
			Period: 30,
			Skew:   1,
		},
		Password: password.DefaultConfig(),
		OAuth: OAuthConfig{
			Scope: "user",
		},
		Registration: RegistrationConfig{
			DefaultPermission: PermissionRegular,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Settings: Settings{
			SecureCookie:        true,
			RegistrationEnabled: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Keys.HashKey) < 32 {
		return errors.New("config: hash key must be at least 32 bytes")
	}
	if n := len(cfg.Keys.CipherKey); n != 0 && n != 32 {
		return errors.New("config: cipher key must be exactly 32 bytes")
	}
	if cfg.Token.CookieTTL <= 0 || cfg.Token.OAuthTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if cfg.Token.CookieTTL > cfg.Token.CookieEndOfLife {
		return errors.New("config: cookie token ttl exceeds end of life")
	}
	if cfg.Token.OAuthTTL > cfg.Token.OAuthEndOfLife {
		return errors.New("config: oauth token ttl exceeds end of life")
	}
	if cfg.Token.FlowTokenTTL <= 0 || cfg.Token.AuthorizationCodeTTL <= 0 || cfg.Token.PasswordResetTTL <= 0 {
		return errors.New("config: flow token ttls must be positive")
	}
	if cfg.TOTP.Digits < 6 || cfg.TOTP.Digits > 10 {
		return errors.New("config: totp digits must be between 6 and 10")
	}
	if cfg.TOTP.Period <= 0 {
		return errors.New("config: totp period must be positive")
	}
	if cfg.TOTP.Skew < 0 || cfg.TOTP.Skew > 2 {
		return errors.New("config: totp skew must be between 0 and 2")
	}
	if cfg.Cookie.Name == "" {
		return errors.New("config: cookie name required")
	}
	if cfg.OAuth.Scope == "" {
		return errors.New("config: oauth scope required")
	}
	return nil
}

type envSpec struct {
	RedisAddr           string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPrefix         string `env:"REDIS_PREFIX" envDefault:"bfax"`
	HashKey             string `env:"AUTH_HASH_KEY,required"`
	CipherKey           string `env:"AUTH_CIPHER_KEY"`
	PublicDomain        string `env:"PUBLIC_DOMAIN"`
	PublicHostname      string `env:"PUBLIC_HOSTNAME"`
	SecureCookie        bool   `env:"SECURE_COOKIE" envDefault:"true"`
	BasicAuthEnabled    bool   `env:"BASIC_AUTH_ENABLED" envDefault:"false"`
	RegistrationEnabled bool   `env:"REGISTRATION_ENABLED" envDefault:"true"`
	Environment         string `env:"ENVIRONMENT" envDefault:"development"`
}

// FromEnv builds a Config from environment variables, loading a .env file
// first when one is present. It returns the config and the Redis address to
// dial. AUTH_HASH_KEY and AUTH_CIPHER_KEY are base64-encoded.
func FromEnv() (Config, string, error) {
	_ = godotenv.Load()

	var spec envSpec
	if err := env.Parse(&spec); err != nil {
		return Config{}, "", fmt.Errorf("config: %w", err)
	}

	cfg := defaultConfig()
	cfg.RedisPrefix = spec.RedisPrefix
	cfg.Cookie.Production = spec.Environment == "production"
	cfg.Settings = Settings{
		Domain:              spec.PublicDomain,
		DomainHostname:      spec.PublicHostname,
		SecureCookie:        spec.SecureCookie,
		BasicAuthEnabled:    spec.BasicAuthEnabled,
		RegistrationEnabled: spec.RegistrationEnabled,
	}

	hashKey, err := base64.StdEncoding.DecodeString(spec.HashKey)
	if err != nil {
		return Config{}, "", fmt.Errorf("config: AUTH_HASH_KEY is not valid base64: %w", err)
	}
	cfg.Keys.HashKey = hashKey

	if spec.CipherKey != "" {
		cipherKey, err := base64.StdEncoding.DecodeString(spec.CipherKey)
		if err != nil {
			return Config{}, "", fmt.Errorf("config: AUTH_CIPHER_KEY is not valid base64: %w", err)
		}
		cfg.Keys.CipherKey = cipherKey
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, "", err
	}
	return cfg, spec.RedisAddr, nil
}
