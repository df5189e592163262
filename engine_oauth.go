package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/blufax/authcore/internal"
	"github.com/blufax/authcore/internal/stores"
)

// AuthorizeRequest is the validated query of the authorize endpoint.
// HostName is the request host, recorded on the flow token.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
	HostName     string
}

// AuthorizePage is what the authorize endpoint renders: the client being
// authorized and the one-time flow token the login form posts back.
type AuthorizePage struct {
	Client    ClientRecord
	FlowToken string
	Scope     string
}

// OAuthLoginStatus is the outcome class of an authorize-flow login attempt.
type OAuthLoginStatus int

const (
	// OAuthGranted means an authorization code was minted; redirect the
	// user agent to RedirectURI.
	OAuthGranted OAuthLoginStatus = iota
	// OAuthTOTPRequired means the first factor passed and FlowToken carries
	// the second-factor challenge.
	OAuthTOTPRequired
)

// OAuthLoginResult is returned by OAuthLogin on success.
type OAuthLoginResult struct {
	Status      OAuthLoginStatus
	UserID      string
	FlowToken   string
	RedirectURI string

	// Retry is set alongside ErrInvalidCredentials. The rejected flow is
	// re-opened under a fresh token so the login form can be shown again
	// without restarting at the authorize endpoint.
	Retry *AuthorizePage
}

// Authorize validates an authorization request and opens the flow. The only
// supported response type is "code" and the only grantable scope is the
// configured one; the redirect URI must match the registration exactly.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizePage, error) {
	if req.ResponseType != "code" {
		return AuthorizePage{}, ErrResponseTypeInvalid
	}
	if req.Scope != e.config.OAuth.Scope {
		return AuthorizePage{}, ErrScopeInvalid
	}

	client, err := e.getClient(ctx, req.ClientID)
	if err != nil {
		return AuthorizePage{}, err
	}
	if req.RedirectURI != client.RedirectURI {
		return AuthorizePage{}, ErrRedirectURIMismatch
	}

	token, err := internal.TokenBase64(internal.DefaultTokenBytes)
	if err != nil {
		return AuthorizePage{}, err
	}
	record := &stores.FlowTokenRecord{
		ResponseType: string(ResponseTypeCode),
		ClientID:     client.ClientID,
		RedirectURI:  client.RedirectURI,
		Scope:        req.Scope,
		State:        req.State,
		HostName:     req.HostName,
		CreatedAt:    e.clock().Unix(),
	}
	if err := e.flows.Save(ctx, token, record, e.config.Token.FlowTokenTTL); err != nil {
		return AuthorizePage{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return AuthorizePage{Client: client, FlowToken: token, Scope: req.Scope}, nil
}

// OAuthLogin runs the login step of the authorize flow. An EmailPassword
// request consumes the code-type flow token; on a credential failure the flow
// is re-opened under a fresh token, returned in the result's Retry field. A
// TOTPChallenge keeps its token until the code verifies.
func (e *Engine) OAuthLogin(ctx context.Context, flowToken string, req LoginRequest) (OAuthLoginResult, error) {
	switch r := req.(type) {
	case EmailPassword:
		return e.oauthEmailPassword(ctx, flowToken, r)
	case TOTPChallenge:
		r.FlowToken = flowToken
		return e.oauthTOTP(ctx, r)
	default:
		return OAuthLoginResult{}, fmt.Errorf("%w: unknown login request type", ErrBadRequest)
	}
}

func (e *Engine) oauthEmailPassword(ctx context.Context, flowToken string, r EmailPassword) (OAuthLoginResult, error) {
	flow, err := e.flows.Redeem(ctx, flowToken, string(ResponseTypeCode))
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrFlowTokenNotFound):
		return OAuthLoginResult{}, ErrFlowTokenNotFound
	case errors.Is(err, stores.ErrFlowTokenType):
		return OAuthLoginResult{}, ErrFlowTokenType
	default:
		return OAuthLoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	user, err := e.users.GetUserByEmail(ctx, normalizeEmail(r.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.hasher.Verify(r.Password, e.dummyHash)
			e.emit("oauth_login", false, "", flow.ClientID, SourceOAuth, ErrInvalidCredentials)
			return e.rejectOAuthLogin(ctx, flow)
		}
		return OAuthLoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !e.hasher.Verify(r.Password, user.PasswordHash) {
		e.emit("oauth_login", false, user.UserID, flow.ClientID, SourceOAuth, ErrInvalidCredentials)
		return e.rejectOAuthLogin(ctx, flow)
	}

	if user.TOTPRequired() {
		token, err := internal.TokenBase64(internal.DefaultTokenBytes)
		if err != nil {
			return OAuthLoginResult{}, err
		}
		record := &stores.FlowTokenRecord{
			ResponseType: string(ResponseTypeTOTP),
			ClientID:     flow.ClientID,
			RedirectURI:  flow.RedirectURI,
			Scope:        flow.Scope,
			State:        flow.State,
			UserID:       user.UserID,
			HostName:     flow.HostName,
			CreatedAt:    e.clock().Unix(),
		}
		if err := e.flows.Save(ctx, token, record, e.config.Token.FlowTokenTTL); err != nil {
			return OAuthLoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return OAuthLoginResult{Status: OAuthTOTPRequired, UserID: user.UserID, FlowToken: token}, nil
	}

	return e.grantCode(ctx, user.UserID, flow)
}

// rejectOAuthLogin re-opens a consumed code-type flow under a fresh token so
// the authorize login form can be rendered again. When the re-open itself
// fails the caller still gets the credential error and the user restarts at
// the authorize endpoint.
func (e *Engine) rejectOAuthLogin(ctx context.Context, flow *stores.FlowTokenRecord) (OAuthLoginResult, error) {
	client, err := e.getClient(ctx, flow.ClientID)
	if err != nil {
		return OAuthLoginResult{}, ErrInvalidCredentials
	}
	token, err := internal.TokenBase64(internal.DefaultTokenBytes)
	if err != nil {
		return OAuthLoginResult{}, ErrInvalidCredentials
	}
	record := *flow
	record.CreatedAt = e.clock().Unix()
	if err := e.flows.Save(ctx, token, &record, e.config.Token.FlowTokenTTL); err != nil {
		return OAuthLoginResult{}, ErrInvalidCredentials
	}
	page := AuthorizePage{Client: client, FlowToken: token, Scope: flow.Scope}
	return OAuthLoginResult{Retry: &page}, ErrInvalidCredentials
}

func (e *Engine) oauthTOTP(ctx context.Context, r TOTPChallenge) (OAuthLoginResult, error) {
	flow, err := e.flows.Redeem(ctx, r.FlowToken, string(ResponseTypeTOTP))
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrFlowTokenNotFound):
		return OAuthLoginResult{}, ErrFlowTokenNotFound
	case errors.Is(err, stores.ErrFlowTokenType):
		return OAuthLoginResult{}, ErrFlowTokenType
	default:
		return OAuthLoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if flow.ClientID == "" {
		// A cookie-login challenge, not an authorize-flow one.
		return OAuthLoginResult{}, ErrFlowTokenType
	}

	user, err := e.users.GetUserByID(ctx, flow.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return OAuthLoginResult{}, ErrInvalidCredentials
		}
		return OAuthLoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !user.TOTPRequired() {
		return OAuthLoginResult{}, ErrTOTPNotEnrolled
	}
	secret, err := e.openTOTPSecret(user.TOTPSecret)
	if err != nil {
		return OAuthLoginResult{}, err
	}
	if !e.totp.Verify(secret, r.Code, e.clock()) {
		e.emit("oauth_login_totp", false, user.UserID, flow.ClientID, SourceOAuth, ErrTOTPInvalid)
		return OAuthLoginResult{}, ErrTOTPInvalid
	}
	if _, err := e.flows.Delete(ctx, r.FlowToken); err != nil {
		return OAuthLoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return e.grantCode(ctx, user.UserID, flow)
}

// grantCode mints a one-time authorization code and builds the redirect back
// to the client. Codes are hex rather than base64url so they survive clients
// that re-encode redirect query strings.
func (e *Engine) grantCode(ctx context.Context, userID string, flow *stores.FlowTokenRecord) (OAuthLoginResult, error) {
	code, err := internal.TokenHex(internal.DefaultTokenBytes)
	if err != nil {
		return OAuthLoginResult{}, err
	}
	record := &stores.AuthorizationCodeRecord{
		UserID:      userID,
		ClientID:    flow.ClientID,
		RedirectURI: flow.RedirectURI,
		Scope:       flow.Scope,
		State:       flow.State,
		CreatedAt:   e.clock().Unix(),
	}
	if err := e.codes.Save(ctx, code, record, e.config.Token.AuthorizationCodeTTL); err != nil {
		return OAuthLoginResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	redirect, err := url.Parse(flow.RedirectURI)
	if err != nil {
		return OAuthLoginResult{}, fmt.Errorf("%w: redirect uri: %v", ErrBadRequest, err)
	}
	query := redirect.Query()
	query.Set("code", code)
	if flow.State != "" {
		query.Set("state", flow.State)
	}
	redirect.RawQuery = query.Encode()

	e.emit("oauth_grant", true, userID, flow.ClientID, SourceOAuth, nil)
	return OAuthLoginResult{Status: OAuthGranted, UserID: userID, RedirectURI: redirect.String()}, nil
}

// TokenRequest is the parsed body of the token endpoint. Client credentials
// may arrive in the body or a Basic header; the transport layer fills both
// into the same fields.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// Token runs the token endpoint grants. The authorization_code grant
// consumes the code only after every check passes; a failed exchange leaves
// the code intact for the legitimate client. The refresh_token grant rotates
// the bearer secret but keeps the refresh secret stable.
func (e *Engine) Token(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	client, err := e.getClient(ctx, req.ClientID)
	if err != nil {
		return TokenResponse{}, err
	}
	if !e.hasher.Verify(req.ClientSecret, client.SecretHash) {
		e.emit("oauth_token", false, "", client.ClientID, SourceOAuth, ErrClientSecretMismatch)
		return TokenResponse{}, ErrClientSecretMismatch
	}

	switch req.GrantType {
	case "authorization_code":
		return e.tokenFromCode(ctx, client, req)
	case "refresh_token":
		return e.tokenFromRefresh(ctx, client, req)
	default:
		return TokenResponse{}, ErrGrantTypeInvalid
	}
}

func (e *Engine) tokenFromCode(ctx context.Context, client ClientRecord, req TokenRequest) (TokenResponse, error) {
	record, err := e.codes.Exchange(ctx, req.Code, client.ClientID, req.RedirectURI)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrCodeNotFound), errors.Is(err, stores.ErrCodeClientMismatch):
		return TokenResponse{}, ErrUnauthorized
	case errors.Is(err, stores.ErrCodeRedirectMismatch):
		return TokenResponse{}, ErrRedirectURIMismatch
	default:
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenResponse{}, ErrUnauthorized
		}
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	secret, refreshSecret, _, err := e.issueToken(ctx, user, SourceOAuth, client.ClientID, record.Scope)
	if err != nil {
		return TokenResponse{}, err
	}

	e.emit("oauth_token", true, user.UserID, client.ClientID, SourceOAuth, nil)
	return TokenResponse{
		AccessToken:  secret,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.config.Token.OAuthTTL.Seconds()),
		RefreshToken: refreshSecret,
		Scope:        record.Scope,
	}, nil
}

func (e *Engine) tokenFromRefresh(ctx context.Context, client ClientRecord, req TokenRequest) (TokenResponse, error) {
	if req.RefreshToken == "" {
		return TokenResponse{}, ErrRefreshInvalid
	}
	refreshHash := e.signer.TokenHash(req.RefreshToken)

	current, err := e.tokens.GetByRefresh(ctx, refreshHash)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrRefreshHashNotFound):
		return TokenResponse{}, ErrRefreshInvalid
	default:
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if current.ClientID != client.ClientID {
		return TokenResponse{}, ErrRefreshInvalid
	}

	secret, err := internal.TokenBase64(internal.DefaultTokenBytes)
	if err != nil {
		return TokenResponse{}, err
	}
	expires := e.clock().Add(e.config.Token.OAuthTTL).Unix()
	record, err := e.tokens.Rotate(ctx, refreshHash, e.signer.TokenHash(secret), expires)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrRefreshHashNotFound):
		return TokenResponse{}, ErrRefreshInvalid
	default:
		return TokenResponse{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.emit("oauth_refresh", true, record.UserID, client.ClientID, SourceOAuth, nil)
	return TokenResponse{
		AccessToken:  secret,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.config.Token.OAuthTTL.Seconds()),
		RefreshToken: req.RefreshToken,
		Scope:        record.Scope,
	}, nil
}

func (e *Engine) getClient(ctx context.Context, clientID string) (ClientRecord, error) {
	if e.clients == nil || clientID == "" {
		return ClientRecord{}, ErrClientNotFound
	}
	client, err := e.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return ClientRecord{}, ErrClientNotFound
		}
		return ClientRecord{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return client, nil
}
