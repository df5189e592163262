package authcore

import (
	"context"
	"strings"
	"time"
)

// Permission is the ordered capability level snapshotted onto every issued
// access token. Admin implies all lower levels.
type Permission uint8

const (
	// PermissionReadOnly can view but not mutate gateway state.
	PermissionReadOnly Permission = iota
	// PermissionRegular can send and manage its own messages.
	PermissionRegular
	// PermissionAdmin can manage users, clients, and settings.
	PermissionAdmin
)

// AtLeast reports whether p grants the capabilities of min.
func (p Permission) AtLeast(min Permission) bool {
	return p >= min
}

// IsAdmin reports whether p is the admin level.
func (p Permission) IsAdmin() bool {
	return p == PermissionAdmin
}

func (p Permission) String() string {
	switch p {
	case PermissionReadOnly:
		return "read-only"
	case PermissionRegular:
		return "regular"
	case PermissionAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParsePermission parses the wire form produced by [Permission.String].
func ParsePermission(s string) (Permission, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read-only", "readonly":
		return PermissionReadOnly, true
	case "regular":
		return PermissionRegular, true
	case "admin":
		return PermissionAdmin, true
	default:
		return PermissionReadOnly, false
	}
}

// TokenSource records which issuance path created an access token.
type TokenSource string

const (
	// SourceCookie marks tokens issued by direct (cookie) login.
	SourceCookie TokenSource = "cookie"
	// SourceOAuth marks tokens issued by the OAuth2 code exchange.
	SourceOAuth TokenSource = "oauth"
)

// ResponseType tags an authenticity token with the flow it continues.
type ResponseType string

const (
	// ResponseTypeCookie guards simple login and registration forms.
	ResponseTypeCookie ResponseType = "cookie"
	// ResponseTypeCode continues an OAuth2 authorize flow.
	ResponseTypeCode ResponseType = "code"
	// ResponseTypeTOTP continues a second-factor challenge. Unlike the other
	// types it survives failed attempts and is deleted only on success.
	ResponseTypeTOTP ResponseType = "totp"
)

// Authentication is the resolved principal of a request.
type Authentication struct {
	UserID     string
	Permission Permission
}

// LoginRequest is one of [EmailPassword] or [TOTPChallenge].
type LoginRequest interface {
	isLoginRequest()
}

// EmailPassword is a first-factor credential pair. Host is the request host;
// it is recorded on any second-factor challenge the login opens.
type EmailPassword struct {
	Email    string
	Password string
	Host     string
}

func (EmailPassword) isLoginRequest() {}

// TOTPChallenge completes a pending second-factor login. FlowToken is the
// totp-type authenticity token issued when the first factor succeeded.
type TOTPChallenge struct {
	Code      string
	FlowToken string
}

func (TOTPChallenge) isLoginRequest() {}

// UserRecord is the account record exchanged with a [UserProvider].
// TOTPSecret is the base32 shared secret, empty when not enrolled;
// TOTPActivated reports whether enrollment was confirmed with a valid code.
type UserRecord struct {
	UserID        string
	Email         string
	PasswordHash  string
	Permission    Permission
	TOTPSecret    string
	TOTPActivated bool
}

// TOTPRequired reports whether login must be followed by a TOTP challenge.
func (u UserRecord) TOTPRequired() bool {
	return u.TOTPActivated && u.TOTPSecret != ""
}

// CreateUserInput is the input for [UserProvider.CreateUser].
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Permission   Permission
}

// UserUpdate carries the mutable user fields; nil fields are left unchanged.
type UserUpdate struct {
	Email        *string
	PasswordHash *string
	Permission   *Permission
}

// UserProvider is the persistence interface for user accounts. Implementations
// must return [ErrUserNotFound] for missing records and [ErrEmailTaken] from
// CreateUser when the email already has an account.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	ListUsers(ctx context.Context, skip, limit int) ([]UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdateUser(ctx context.Context, userID string, update UserUpdate) (UserRecord, error)
	DeleteUser(ctx context.Context, userID string) error

	EnrollTOTP(ctx context.Context, userID, secret string) error
	ActivateTOTP(ctx context.Context, userID string) error
	DisableTOTP(ctx context.Context, userID string) error
}

// ClientRecord is an OAuth client registration. SecretHash is an argon2id
// hash; the plaintext secret is never stored.
type ClientRecord struct {
	ClientID    string
	Name        string
	Website     string
	RedirectURI string
	SecretHash  string
}

// ClientProvider resolves OAuth client registrations. Implementations must
// return [ErrClientNotFound] for unknown ids.
type ClientProvider interface {
	GetClient(ctx context.Context, clientID string) (ClientRecord, error)
}

// Settings are the runtime-adjustable gateway settings the core consults.
type Settings struct {
	// Domain is the public base URL used in password-reset links.
	Domain string `json:"domain"`
	// DomainHostname scopes the session cookie.
	DomainHostname string `json:"domain_hostname"`
	// SecureCookie marks session cookies Secure in production.
	SecureCookie bool `json:"secure_cookie"`
	// BasicAuthEnabled allows the legacy Authorization: Basic integration.
	BasicAuthEnabled bool `json:"basic_auth_enabled"`
	// RegistrationEnabled allows self-service registration.
	RegistrationEnabled bool `json:"registration_enabled"`
}

// SettingsProvider supplies [Settings] per call so admin changes take effect
// without restarting. Use [StaticSettings] when the values are fixed.
type SettingsProvider interface {
	Settings(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsProvider returning fixed values.
type StaticSettings Settings

// Settings implements [SettingsProvider].
func (s StaticSettings) Settings(context.Context) (Settings, error) {
	return Settings(s), nil
}

// Mailer delivers password-reset email. It is an external collaborator; send
// failures are audited and never surfaced to the requesting client.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// CookieSession is an issued cookie-sourced bearer secret and its expiry,
// ready to be set as the Server-Auth cookie.
type CookieSession struct {
	Token   string
	Expires time.Time
}

// LoginResult is returned by the cookie login and password-reset flows.
// When TOTPRequired is set, Session is empty and FlowToken carries the
// totp-type authenticity token for the challenge form.
type LoginResult struct {
	UserID       string
	TOTPRequired bool
	FlowToken    string
	Session      CookieSession
}

// TokenResponse is the OAuth2 token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
