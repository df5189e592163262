package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blufax/authcore/internal"
	"github.com/blufax/authcore/internal/stores"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// issueToken mints a fresh bearer secret for user, stores its record under
// the HMAC hash, and returns the plaintext secret. OAuth-sourced tokens also
// get a refresh secret.
func (e *Engine) issueToken(ctx context.Context, user UserRecord, source TokenSource, clientID, scope string) (secret, refreshSecret string, record *stores.AccessTokenRecord, err error) {
	secret, err = internal.TokenBase64(internal.DefaultTokenBytes)
	if err != nil {
		return "", "", nil, err
	}

	refreshHash := ""
	if source == SourceOAuth {
		refreshSecret, err = internal.TokenBase64(internal.DefaultTokenBytes)
		if err != nil {
			return "", "", nil, err
		}
		refreshHash = e.signer.TokenHash(refreshSecret)
	}

	now := e.clock()
	ttl, endOfLife := e.lifetime(source)
	record = &stores.AccessTokenRecord{
		UserID:       user.UserID,
		Permission:   uint8(user.Permission),
		Source:       string(source),
		Scope:        scope,
		ClientID:     clientID,
		RefreshHash:  refreshHash,
		CreatedAt:    now.Unix(),
		TokenExpires: now.Add(ttl).Unix(),
		EndOfLife:    now.Add(endOfLife).Unix(),
	}
	if err := e.tokens.Save(ctx, e.signer.TokenHash(secret), record); err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return secret, refreshSecret, record, nil
}

func (e *Engine) issueCookieSession(ctx context.Context, user UserRecord) (CookieSession, error) {
	secret, _, record, err := e.issueToken(ctx, user, SourceCookie, "", "")
	if err != nil {
		return CookieSession{}, err
	}
	return CookieSession{Token: secret, Expires: time.Unix(record.TokenExpires, 0)}, nil
}

// IssueFormToken mints an authenticity token for a plain login or
// registration form. The form posts it back and the handler redeems it
// before touching credentials.
func (e *Engine) IssueFormToken(ctx context.Context, hostname string) (string, error) {
	token, err := internal.TokenBase64(internal.DefaultTokenBytes)
	if err != nil {
		return "", err
	}
	record := &stores.FlowTokenRecord{
		ResponseType: string(ResponseTypeCookie),
		HostName:     hostname,
		CreatedAt:    e.clock().Unix(),
	}
	if err := e.flows.Save(ctx, token, record, e.config.Token.FlowTokenTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return token, nil
}

// RedeemFormToken consumes a cookie-type authenticity token. Each token is
// valid exactly once; replays fail with ErrFlowTokenNotFound.
func (e *Engine) RedeemFormToken(ctx context.Context, token string) error {
	_, err := e.flows.Redeem(ctx, token, string(ResponseTypeCookie))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrFlowTokenNotFound):
		return ErrFlowTokenNotFound
	case errors.Is(err, stores.ErrFlowTokenType):
		return ErrFlowTokenType
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// Login authenticates a direct (cookie) login. EmailPassword either returns
// a session or, for TOTP-enrolled accounts, a totp-type flow token for the
// challenge step. TOTPChallenge completes that step.
//
// Credential failures are collapsed into ErrInvalidCredentials so callers
// cannot tell which part was wrong.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	switch r := req.(type) {
	case EmailPassword:
		return e.loginEmailPassword(ctx, r)
	case TOTPChallenge:
		return e.loginTOTP(ctx, r)
	default:
		return LoginResult{}, fmt.Errorf("%w: unknown login request type", ErrBadRequest)
	}
}

func (e *Engine) loginEmailPassword(ctx context.Context, r EmailPassword) (LoginResult, error) {
	email := normalizeEmail(r.Email)
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn comparable time so user enumeration by latency stays hard.
			e.hasher.Verify(r.Password, e.dummyHash)
			e.emit("login", false, "", "", SourceCookie, ErrInvalidCredentials)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if !e.hasher.Verify(r.Password, user.PasswordHash) {
		e.emit("login", false, user.UserID, "", SourceCookie, ErrInvalidCredentials)
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.TOTPRequired() {
		token, err := internal.TokenBase64(internal.DefaultTokenBytes)
		if err != nil {
			return LoginResult{}, err
		}
		record := &stores.FlowTokenRecord{
			ResponseType: string(ResponseTypeTOTP),
			UserID:       user.UserID,
			HostName:     r.Host,
			CreatedAt:    e.clock().Unix(),
		}
		if err := e.flows.Save(ctx, token, record, e.config.Token.FlowTokenTTL); err != nil {
			return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return LoginResult{UserID: user.UserID, TOTPRequired: true, FlowToken: token}, nil
	}

	session, err := e.issueCookieSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	e.emit("login", true, user.UserID, "", SourceCookie, nil)
	return LoginResult{UserID: user.UserID, Session: session}, nil
}

func (e *Engine) loginTOTP(ctx context.Context, r TOTPChallenge) (LoginResult, error) {
	// Redeem leaves totp-type tokens in place: a wrong code must not consume
	// the challenge, so the user keeps retrying until the token expires.
	record, err := e.flows.Redeem(ctx, r.FlowToken, string(ResponseTypeTOTP))
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrFlowTokenNotFound):
		return LoginResult{}, ErrFlowTokenNotFound
	case errors.Is(err, stores.ErrFlowTokenType):
		return LoginResult{}, ErrFlowTokenType
	default:
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if record.ClientID != "" {
		// An authorize-flow challenge, not a cookie-login one.
		return LoginResult{}, ErrFlowTokenType
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !user.TOTPRequired() {
		return LoginResult{}, ErrTOTPNotEnrolled
	}

	secret, err := e.openTOTPSecret(user.TOTPSecret)
	if err != nil {
		return LoginResult{}, err
	}
	if !e.totp.Verify(secret, r.Code, e.clock()) {
		e.emit("login_totp", false, user.UserID, "", SourceCookie, ErrTOTPInvalid)
		return LoginResult{}, ErrTOTPInvalid
	}

	// Success retires the challenge.
	if _, err := e.flows.Delete(ctx, r.FlowToken); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	session, err := e.issueCookieSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	e.emit("login_totp", true, user.UserID, "", SourceCookie, nil)
	return LoginResult{UserID: user.UserID, Session: session}, nil
}

// Register creates an account and logs it straight in. The new account gets
// the configured default permission.
func (e *Engine) Register(ctx context.Context, email, plaintext string) (LoginResult, error) {
	settings, err := e.Settings(ctx)
	if err != nil {
		return LoginResult{}, err
	}
	if !settings.RegistrationEnabled {
		return LoginResult{}, ErrRegistrationDisabled
	}

	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return LoginResult{}, fmt.Errorf("%w: invalid email", ErrBadRequest)
	}
	if len(plaintext) < 8 {
		return LoginResult{}, fmt.Errorf("%w: password too short", ErrBadRequest)
	}

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return LoginResult{}, err
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Permission:   e.config.Registration.DefaultPermission,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			e.emit("register", false, "", "", SourceCookie, ErrEmailTaken)
			return LoginResult{}, ErrEmailTaken
		}
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	session, err := e.issueCookieSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	e.emit("register", true, user.UserID, "", SourceCookie, nil)
	return LoginResult{UserID: user.UserID, Session: session}, nil
}

// Logout revokes the bearer secret. Revoking an unknown or already-revoked
// secret is not an error.
func (e *Engine) Logout(ctx context.Context, secret string) error {
	found, err := e.tokens.Delete(ctx, e.signer.TokenHash(secret))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if found {
		e.emit("logout", true, "", "", SourceCookie, nil)
	}
	return nil
}
