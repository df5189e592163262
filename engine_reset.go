package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/blufax/authcore/internal"
	"github.com/blufax/authcore/internal/stores"
)

// ForgotPassword opens a reset flow for the account behind email. It always
// reports success to the caller: whether the account exists, and whether the
// mail went out, is visible only in the audit stream.
func (e *Engine) ForgotPassword(ctx context.Context, email, referrer string) error {
	settings, err := e.Settings(ctx)
	if err != nil {
		return err
	}

	user, err := e.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emit("password_forgot", false, "", "", SourceCookie, ErrUserNotFound)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	token, err := internal.TokenBase64(internal.DefaultTokenBytes)
	if err != nil {
		return err
	}
	record := &stores.PasswordResetRecord{
		UserID:    user.UserID,
		Referrer:  referrer,
		CreatedAt: e.clock().Unix(),
	}
	if err := e.resets.Save(ctx, token, record, e.config.Token.PasswordResetTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if e.mailer == nil {
		e.emit("password_forgot", false, user.UserID, "", SourceCookie, errors.New("no mailer configured"))
		return nil
	}
	resetURL := settings.Domain + "/user/reset-password?token=" + token
	if err := e.mailer.SendPasswordReset(ctx, user.Email, resetURL); err != nil {
		e.emit("password_forgot", false, user.UserID, "", SourceCookie, err)
		return nil
	}

	e.emit("password_forgot", true, user.UserID, "", SourceCookie, nil)
	return nil
}

// ResetTokenInfo is what the reset form needs to render.
type ResetTokenInfo struct {
	Email        string
	TOTPRequired bool
	Referrer     string
}

// PeekResetToken inspects a reset token without consuming it.
func (e *Engine) PeekResetToken(ctx context.Context, token string) (ResetTokenInfo, error) {
	record, err := e.resets.Peek(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrResetNotFound):
		return ResetTokenInfo{}, ErrResetTokenInvalid
	default:
		return ResetTokenInfo{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	user, err := e.getUser(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ResetTokenInfo{}, ErrResetTokenInvalid
		}
		return ResetTokenInfo{}, err
	}
	return ResetTokenInfo{
		Email:        user.Email,
		TOTPRequired: user.TOTPRequired(),
		Referrer:     record.Referrer,
	}, nil
}

// ResetPassword sets a new password via a reset token and logs the user in.
// An active second factor is not bypassed: the reset form must also present
// a valid code. Every prior session and token of the account is revoked.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword, totpCode string) (LoginResult, error) {
	if len(newPassword) < 8 {
		return LoginResult{}, fmt.Errorf("%w: password too short", ErrBadRequest)
	}

	record, err := e.resets.Peek(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrResetNotFound):
		return LoginResult{}, ErrResetTokenInvalid
	default:
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	user, err := e.getUser(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrResetTokenInvalid
		}
		return LoginResult{}, err
	}

	if user.TOTPRequired() {
		secret, err := e.openTOTPSecret(user.TOTPSecret)
		if err != nil {
			return LoginResult{}, err
		}
		if !e.totp.Verify(secret, totpCode, e.clock()) {
			e.emit("password_reset", false, user.UserID, "", SourceCookie, ErrTOTPInvalid)
			return LoginResult{}, ErrTOTPInvalid
		}
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return LoginResult{}, err
	}

	// Consume before writing: a raced second submit must fail here, not
	// observe a half-applied reset.
	if _, err := e.resets.Consume(ctx, token); err != nil {
		if errors.Is(err, stores.ErrResetNotFound) {
			return LoginResult{}, ErrResetTokenInvalid
		}
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if _, err := e.users.UpdateUser(ctx, user.UserID, UserUpdate{PasswordHash: &hash}); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if _, err := e.tokens.DeleteAllForUser(ctx, user.UserID); err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	session, err := e.issueCookieSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	e.emit("password_reset", true, user.UserID, "", SourceCookie, nil)
	return LoginResult{UserID: user.UserID, Session: session}, nil
}
