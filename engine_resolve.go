package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blufax/authcore/internal/stores"
)

// Resolve authenticates a bearer secret presented via cookie or
// Authorization header and returns the principal snapshotted on the token.
//
// A resolve close to the token's expiry silently extends the session by
// re-applying the source's original lifetime. Renewal is best effort: if the
// rewrite fails the request is still authenticated and the token simply
// expires on its old schedule.
func (e *Engine) Resolve(ctx context.Context, secret string) (Authentication, error) {
	if secret == "" {
		return Authentication{}, ErrUnauthorized
	}

	tokenHash := e.signer.TokenHash(secret)
	record, err := e.tokens.Get(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, stores.ErrAccessTokenNotFound) {
			return Authentication{}, ErrUnauthorized
		}
		return Authentication{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	now := e.clock()
	if now.Unix() >= record.TokenExpires {
		// Storage TTL has not caught up yet. The record stays so an OAuth
		// refresh can still rotate it before end of life.
		return Authentication{}, ErrTokenExpired
	}

	if time.Unix(record.TokenExpires, 0).Sub(now) < e.config.Token.RenewalWindow {
		ttl, endOfLife := e.lifetime(TokenSource(record.Source))
		record.TokenExpires = now.Add(ttl).Unix()
		if eol := now.Add(endOfLife).Unix(); eol > record.EndOfLife {
			record.EndOfLife = eol
		}
		if err := e.tokens.Renew(ctx, tokenHash, record); err != nil {
			e.emit("token_renew", false, record.UserID, record.ClientID, TokenSource(record.Source), err)
		}
	}

	return Authentication{
		UserID:     record.UserID,
		Permission: Permission(record.Permission),
	}, nil
}

// ResolveBasic authenticates a legacy Authorization: Basic credential pair.
// No token is issued; every request re-verifies the password. Accounts with
// an active second factor cannot use this path.
func (e *Engine) ResolveBasic(ctx context.Context, email, plaintext string) (Authentication, error) {
	settings, err := e.Settings(ctx)
	if err != nil {
		return Authentication{}, err
	}
	if !settings.BasicAuthEnabled {
		return Authentication{}, ErrBasicAuthDisabled
	}

	user, err := e.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.hasher.Verify(plaintext, e.dummyHash)
			return Authentication{}, ErrInvalidCredentials
		}
		return Authentication{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !e.hasher.Verify(plaintext, user.PasswordHash) {
		e.emit("basic_auth", false, user.UserID, "", SourceCookie, ErrInvalidCredentials)
		return Authentication{}, ErrInvalidCredentials
	}
	if user.TOTPRequired() {
		return Authentication{}, ErrTOTPRequired
	}

	return Authentication{UserID: user.UserID, Permission: user.Permission}, nil
}
