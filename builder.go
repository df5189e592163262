package authcore

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/blufax/authcore/internal"
	"github.com/blufax/authcore/internal/audit"
	"github.com/blufax/authcore/internal/stores"
	"github.com/blufax/authcore/password"
)

// Builder assembles an Engine. Zero value is not usable; start from New.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	users    UserProvider
	clients  ClientProvider
	settings SettingsProvider
	mailer   Mailer
	sink     audit.Sink

	errs []error
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the entire configuration. Call it before the other
// With methods if both are used.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithKeys sets the server secret keys without replacing the rest of the
// configuration.
func (b *Builder) WithKeys(hashKey, cipherKey []byte) *Builder {
	b.config.Keys.HashKey = hashKey
	b.config.Keys.CipherKey = cipherKey
	return b
}

// WithRedis sets the Redis client backing the token stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	if client == nil {
		b.errs = append(b.errs, errors.New("nil redis client"))
		return b
	}
	b.redis = client
	return b
}

// WithUserProvider sets the account backend.
func (b *Builder) WithUserProvider(p UserProvider) *Builder {
	if p == nil {
		b.errs = append(b.errs, errors.New("nil user provider"))
		return b
	}
	b.users = p
	return b
}

// WithClientProvider sets the OAuth client registry. Optional; without it
// the authorize and token endpoints reject every client.
func (b *Builder) WithClientProvider(p ClientProvider) *Builder {
	if p == nil {
		b.errs = append(b.errs, errors.New("nil client provider"))
		return b
	}
	b.clients = p
	return b
}

// WithSettings sets the runtime settings source. Optional; defaults to a
// StaticSettings snapshot of the configured values.
func (b *Builder) WithSettings(p SettingsProvider) *Builder {
	if p == nil {
		b.errs = append(b.errs, errors.New("nil settings provider"))
		return b
	}
	b.settings = p
	return b
}

// WithMailer sets the outbound mail hook used by the password reset flow.
// Optional; without it reset requests are accepted and dropped.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(s audit.Sink) *Builder {
	b.sink = s
	return b
}

// Build validates the accumulated configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, errors.Join(b.errs...))
	}
	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client required", ErrEngineNotReady)
	}
	if b.users == nil {
		return nil, fmt.Errorf("%w: user provider required", ErrEngineNotReady)
	}
	if err := validateConfig(b.config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	sgn, err := newSigner(b.config.Keys.HashKey, b.config.Keys.CipherKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	hasher, err := password.NewHasher(b.config.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	dummySecret, err := internal.TokenBase64(internal.DefaultTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	settings := b.settings
	if settings == nil {
		settings = StaticSettings(b.config.Settings)
	}

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    b.config.Audit.Enabled && b.sink != nil,
		BufferSize: b.config.Audit.BufferSize,
		DropIfFull: b.config.Audit.DropIfFull,
	}, b.sink)

	return &Engine{
		config:    b.config,
		users:     b.users,
		clients:   b.clients,
		settings:  settings,
		mailer:    b.mailer,
		hasher:    hasher,
		totp:      newTOTPManager(b.config.TOTP),
		signer:    sgn,
		audit:     dispatcher,
		dummyHash: dummyHash,

		tokens: stores.NewAccessTokenStore(b.redis, keyPrefix(b.config.RedisPrefix, "aat")),
		flows:  stores.NewFlowTokenStore(b.redis, keyPrefix(b.config.RedisPrefix, "aft")),
		codes:  stores.NewAuthorizationCodeStore(b.redis, keyPrefix(b.config.RedisPrefix, "aac")),
		resets: stores.NewPasswordResetStore(b.redis, keyPrefix(b.config.RedisPrefix, "apr")),
	}, nil
}

// keyPrefix nests each store's short prefix under the deployment-wide one so
// separate installations can share a Redis.
func keyPrefix(root, store string) string {
	if root == "" {
		return store
	}
	return root + ":" + store
}
