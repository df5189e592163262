package authcore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// TOTPEnrollment is returned when a second factor is provisioned. Secret is
// shown to the user exactly once; ProvisionURI feeds the QR code.
type TOTPEnrollment struct {
	Secret       string
	ProvisionURI string
}

// EnrollTOTP provisions a fresh shared secret for the user. Re-enrolling
// before activation replaces the pending secret; an active second factor
// must be disabled first.
func (e *Engine) EnrollTOTP(ctx context.Context, userID string) (TOTPEnrollment, error) {
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	if user.TOTPRequired() {
		return TOTPEnrollment{}, fmt.Errorf("%w: second factor already active", ErrBadRequest)
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return TOTPEnrollment{}, err
	}
	stored, err := e.sealTOTPSecret(secret)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	if err := e.users.EnrollTOTP(ctx, userID, stored); err != nil {
		return TOTPEnrollment{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.emit("totp_enroll", true, userID, "", SourceCookie, nil)
	return TOTPEnrollment{
		Secret:       secret,
		ProvisionURI: e.totp.ProvisionURI(secret, user.Email),
	}, nil
}

// ActivateTOTP confirms enrollment with a code from the authenticator.
// Activation is what makes the second factor mandatory on login.
func (e *Engine) ActivateTOTP(ctx context.Context, userID, code string) error {
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPSecret == "" {
		return ErrTOTPNotEnrolled
	}
	if user.TOTPActivated {
		return nil
	}

	secret, err := e.openTOTPSecret(user.TOTPSecret)
	if err != nil {
		return err
	}
	if !e.totp.Verify(secret, code, e.clock()) {
		e.emit("totp_activate", false, userID, "", SourceCookie, ErrTOTPInvalid)
		return ErrTOTPInvalid
	}
	if err := e.users.ActivateTOTP(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emit("totp_activate", true, userID, "", SourceCookie, nil)
	return nil
}

// DisableTOTP removes the second factor. An active factor demands a valid
// current code; a pending, never-activated enrollment can be discarded
// without one.
func (e *Engine) DisableTOTP(ctx context.Context, userID, code string) error {
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPSecret == "" {
		return ErrTOTPNotEnrolled
	}

	if user.TOTPActivated {
		secret, err := e.openTOTPSecret(user.TOTPSecret)
		if err != nil {
			return err
		}
		if !e.totp.Verify(secret, code, e.clock()) {
			e.emit("totp_disable", false, userID, "", SourceCookie, ErrTOTPInvalid)
			return ErrTOTPInvalid
		}
	}

	if err := e.users.DisableTOTP(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emit("totp_disable", true, userID, "", SourceCookie, nil)
	return nil
}

const sealedSecretPrefix = "enc:"

// sealTOTPSecret encrypts the shared secret at rest when a cipher key is
// configured. Without one the base32 secret is stored as is.
func (e *Engine) sealTOTPSecret(secret string) (string, error) {
	if e.signer.aead == nil {
		return secret, nil
	}
	sealed, err := e.signer.EncryptFixed([]byte(secret))
	if err != nil {
		return "", err
	}
	return sealedSecretPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (e *Engine) openTOTPSecret(stored string) (string, error) {
	if len(stored) < len(sealedSecretPrefix) || stored[:len(sealedSecretPrefix)] != sealedSecretPrefix {
		return stored, nil
	}
	if e.signer.aead == nil {
		return "", errors.New("totp secret is sealed but no cipher key is configured")
	}
	raw, err := base64.RawStdEncoding.DecodeString(stored[len(sealedSecretPrefix):])
	if err != nil {
		return "", err
	}
	secret, err := e.signer.DecryptFixed(raw)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
