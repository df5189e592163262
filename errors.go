package authcore

import "errors"

var (
	// ErrUnauthorized reports a missing, invalid, or expired credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden reports an authenticated caller without sufficient permission.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest reports malformed flow parameters.
	ErrBadRequest = errors.New("bad request")
	// ErrNotFound reports an absent token, code, client, or user.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials is the generic login failure. It never
	// distinguishes a wrong email from a wrong password.
	ErrInvalidCredentials = errors.New("incorrect credentials")
	// ErrUserNotFound reports a missing user record.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken reports a registration attempt with an email that
	// already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrRegistrationDisabled reports that self-service registration is off.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrBasicAuthDisabled reports a Basic credential when the legacy
	// basic-auth integration is not enabled.
	ErrBasicAuthDisabled = errors.New("basic authentication disabled")

	// ErrTOTPRequired reports that the login needs a second-factor code.
	ErrTOTPRequired = errors.New("totp code required")
	// ErrTOTPInvalid reports a second-factor code outside the accepted window.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrTOTPNotEnrolled reports a TOTP operation on a user without a secret.
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")

	// ErrTokenExpired reports a bearer token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrRefreshInvalid reports an unknown refresh token.
	ErrRefreshInvalid = errors.New("invalid refresh token")

	// ErrClientNotFound reports an unknown OAuth client id.
	ErrClientNotFound = errors.New("oauth client not found")
	// ErrClientSecretMismatch reports a failed client-secret verification.
	ErrClientSecretMismatch = errors.New("incorrect client credentials")
	// ErrResponseTypeInvalid reports a response_type other than "code".
	ErrResponseTypeInvalid = errors.New("response type must be code")
	// ErrScopeInvalid reports a scope other than "user".
	ErrScopeInvalid = errors.New("scope must be user")
	// ErrRedirectURIMismatch reports a redirect_uri that does not exactly
	// match the client's registered URI.
	ErrRedirectURIMismatch = errors.New("incorrect redirect uri")
	// ErrGrantTypeInvalid reports an unsupported grant_type.
	ErrGrantTypeInvalid = errors.New("invalid grant type")

	// ErrFlowTokenNotFound reports an absent or expired authenticity token.
	ErrFlowTokenNotFound = errors.New("authenticity token not found")
	// ErrFlowTokenType reports an authenticity token redeemed in the wrong flow.
	ErrFlowTokenType = errors.New("incorrect authenticity token type")
	// ErrResetTokenInvalid reports an absent or expired password reset token.
	ErrResetTokenInvalid = errors.New("password reset token expired")

	// ErrBackendUnavailable reports a token-store or entropy failure. It maps
	// to a generic 503; no detail is leaked to clients.
	ErrBackendUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady reports a missing engine dependency.
	ErrEngineNotReady = errors.New("engine not initialized")
)
