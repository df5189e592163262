package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/blufax/authcore/internal/audit"
	"github.com/blufax/authcore/internal/stores"
	"github.com/blufax/authcore/password"
)

// Engine is the authentication core. It owns the token stores and the
// credential primitives; everything user- and client-shaped comes from the
// injected providers. All methods are safe for concurrent use.
type Engine struct {
	config   Config
	users    UserProvider
	clients  ClientProvider
	settings SettingsProvider
	mailer   Mailer
	hasher   *password.Hasher
	totp     *totpManager
	signer   *signer
	audit    *audit.Dispatcher

	// dummyHash is a real argon2id hash of a throwaway secret. Unknown-account
	// paths verify against it so a failed lookup costs the same as a failed
	// password.
	dummyHash string

	tokens *stores.AccessTokenStore
	flows  *stores.FlowTokenStore
	codes  *stores.AuthorizationCodeStore
	resets *stores.PasswordResetStore

	// now is swapped out by tests.
	now func() time.Time
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Settings returns the current runtime settings.
func (e *Engine) Settings(ctx context.Context) (Settings, error) {
	s, err := e.settings.Settings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: settings: %v", ErrBackendUnavailable, err)
	}
	return s, nil
}

// CookieName returns the name of the session cookie the engine issues.
func (e *Engine) CookieName() string {
	return e.config.Cookie.Name
}

// Hasher exposes the password hasher so account backends can share the
// engine's parameters.
func (e *Engine) Hasher() *password.Hasher {
	return e.hasher
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close returns.
func (e *Engine) Close() error {
	e.audit.Close()
	return nil
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *Engine) emit(action string, success bool, userID, clientID string, source TokenSource, err error) {
	if e.audit == nil {
		return
	}
	ev := audit.Event{
		Timestamp: e.clock(),
		Action:    action,
		Success:   success,
		UserID:    userID,
		ClientID:  clientID,
		Source:    string(source),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.audit.Emit(context.Background(), ev)
}

// lifetime returns the active-use TTL and the storage end of life for the
// given token source.
func (e *Engine) lifetime(source TokenSource) (ttl, endOfLife time.Duration) {
	if source == SourceOAuth {
		return e.config.Token.OAuthTTL, e.config.Token.OAuthEndOfLife
	}
	return e.config.Token.CookieTTL, e.config.Token.CookieEndOfLife
}
