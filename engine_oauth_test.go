package authcore

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

const (
	testClientID    = "client-1"
	testClientPass  = "client-secret-value"
	testRedirectURI = "https://app.example/callback"
)

func (env *testEnv) addClient(t *testing.T) {
	t.Helper()
	secretHash, err := env.engine.hasher.Hash(testClientPass)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	env.clients.byID[testClientID] = ClientRecord{
		ClientID:    testClientID,
		Name:        "Fax App",
		Website:     "https://app.example",
		RedirectURI: testRedirectURI,
		SecretHash:  secretHash,
	}
}

func (env *testEnv) authorize(t *testing.T) AuthorizePage {
	t.Helper()
	page, err := env.engine.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		Scope:        "user",
		State:        "state-xyz",
		HostName:     "gw.example.com",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	return page
}

// codeFromRedirect pulls the authorization code out of the redirect URI.
func codeFromRedirect(t *testing.T, redirect string) string {
	t.Helper()
	parsed, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("redirect uri %q: %v", redirect, err)
	}
	code := parsed.Query().Get("code")
	if code == "" {
		t.Fatalf("redirect uri %q carries no code", redirect)
	}
	// Codes are hex so query re-encoding cannot mangle them.
	if strings.Trim(code, "0123456789abcdef") != "" {
		t.Fatalf("code %q is not hex", code)
	}
	if got := parsed.Query().Get("state"); got != "state-xyz" {
		t.Fatalf("state = %q, want state-xyz", got)
	}
	return code
}

func TestAuthorizeValidation(t *testing.T) {
	env := newTestEnv(t, Settings{})
	env.addClient(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  AuthorizeRequest
		want error
	}{
		{"response type", AuthorizeRequest{ResponseType: "token", ClientID: testClientID, RedirectURI: testRedirectURI, Scope: "user"}, ErrResponseTypeInvalid},
		{"scope", AuthorizeRequest{ResponseType: "code", ClientID: testClientID, RedirectURI: testRedirectURI, Scope: "admin"}, ErrScopeInvalid},
		{"unknown client", AuthorizeRequest{ResponseType: "code", ClientID: "ghost", RedirectURI: testRedirectURI, Scope: "user"}, ErrClientNotFound},
		{"redirect", AuthorizeRequest{ResponseType: "code", ClientID: testClientID, RedirectURI: "https://evil.example/", Scope: "user"}, ErrRedirectURIMismatch},
	}
	for _, tc := range cases {
		if _, err := env.engine.Authorize(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: Authorize = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestOAuthCodeFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t, Settings{})
	env.addClient(t)
	ctx := context.Background()
	user := env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)

	page := env.authorize(t)
	if page.Client.Name != "Fax App" {
		t.Fatalf("client = %+v", page.Client)
	}

	result, err := env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("OAuthLogin: %v", err)
	}
	if result.Status != OAuthGranted {
		t.Fatalf("status = %v, want granted", result.Status)
	}
	if !strings.HasPrefix(result.RedirectURI, testRedirectURI) {
		t.Fatalf("redirect = %q", result.RedirectURI)
	}
	code := codeFromRedirect(t, result.RedirectURI)

	// The flow token was consumed by the login.
	_, err = env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "alice@example.com", Password: "correct horse"})
	if !errors.Is(err, ErrFlowTokenNotFound) {
		t.Fatalf("replayed flow token = %v, want ErrFlowTokenNotFound", err)
	}

	response, err := env.engine.Token(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     testClientID,
		ClientSecret: testClientPass,
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if response.TokenType != "Bearer" || response.AccessToken == "" || response.RefreshToken == "" {
		t.Fatalf("Token = %+v", response)
	}
	if response.Scope != "user" {
		t.Fatalf("scope = %q, want user", response.Scope)
	}

	auth, err := env.engine.Resolve(ctx, response.AccessToken)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if auth.UserID != user.UserID {
		t.Fatalf("Resolve = %+v", auth)
	}

	// The code was consumed by the exchange.
	_, err = env.engine.Token(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     testClientID,
		ClientSecret: testClientPass,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("replayed code = %v, want ErrUnauthorized", err)
	}
}

func TestOAuthLoginRejectedReopensFlow(t *testing.T) {
	env := newTestEnv(t, Settings{})
	env.addClient(t)
	ctx := context.Background()
	env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)

	page := env.authorize(t)
	result, err := env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "alice@example.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password = %v, want ErrInvalidCredentials", err)
	}
	if result.Retry == nil {
		t.Fatal("rejected login did not re-open the flow")
	}
	if result.Retry.FlowToken == "" || result.Retry.FlowToken == page.FlowToken {
		t.Fatalf("retry token = %q, want a fresh token", result.Retry.FlowToken)
	}
	if result.Retry.Client.Name != "Fax App" || result.Retry.Scope != "user" {
		t.Fatalf("retry page = %+v", result.Retry)
	}

	// The re-opened flow keeps the original binding.
	record, err := env.engine.flows.Peek(ctx, result.Retry.FlowToken)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if record.State != "state-xyz" || record.HostName != "gw.example.com" {
		t.Fatalf("re-opened record = %+v", record)
	}

	// The original token is burned, the retry token completes the flow.
	if _, err := env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "alice@example.com", Password: "correct horse"}); !errors.Is(err, ErrFlowTokenNotFound) {
		t.Fatalf("original token = %v, want ErrFlowTokenNotFound", err)
	}
	granted, err := env.engine.OAuthLogin(ctx, result.Retry.FlowToken, EmailPassword{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("retry OAuthLogin: %v", err)
	}
	if granted.Status != OAuthGranted {
		t.Fatalf("retry status = %v, want granted", granted.Status)
	}
	codeFromRedirect(t, granted.RedirectURI)

	// An unknown address re-opens the flow the same way.
	result, err = env.engine.OAuthLogin(ctx, result.Retry.FlowToken, EmailPassword{Email: "ghost@example.com", Password: "whatever"})
	if !errors.Is(err, ErrFlowTokenNotFound) {
		// The previous success consumed the retry token; run a fresh flow.
		t.Fatalf("consumed retry token = %v, want ErrFlowTokenNotFound", err)
	}
	page = env.authorize(t)
	result, err = env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "ghost@example.com", Password: "whatever"})
	if !errors.Is(err, ErrInvalidCredentials) || result.Retry == nil {
		t.Fatalf("unknown address = (%+v, %v), want re-opened flow with ErrInvalidCredentials", result, err)
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	env := newTestEnv(t, Settings{})
	env.addClient(t)
	ctx := context.Background()
	env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)

	page := env.authorize(t)
	result, err := env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("OAuthLogin: %v", err)
	}
	code := codeFromRedirect(t, result.RedirectURI)

	base := TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     testClientID,
		ClientSecret: testClientPass,
	}

	bad := base
	bad.ClientSecret = "wrong"
	if _, err := env.engine.Token(ctx, bad); !errors.Is(err, ErrClientSecretMismatch) {
		t.Fatalf("wrong secret = %v, want ErrClientSecretMismatch", err)
	}

	bad = base
	bad.GrantType = "password"
	if _, err := env.engine.Token(ctx, bad); !errors.Is(err, ErrGrantTypeInvalid) {
		t.Fatalf("bad grant = %v, want ErrGrantTypeInvalid", err)
	}

	bad = base
	bad.RedirectURI = "https://evil.example/"
	if _, err := env.engine.Token(ctx, bad); !errors.Is(err, ErrRedirectURIMismatch) {
		t.Fatalf("bad redirect = %v, want ErrRedirectURIMismatch", err)
	}

	// All of the above left the code intact.
	if _, err := env.engine.Token(ctx, base); err != nil {
		t.Fatalf("Token after failed attempts: %v", err)
	}
}

func TestRefreshGrantRotatesAccessOnly(t *testing.T) {
	env := newTestEnv(t, Settings{})
	env.addClient(t)
	ctx := context.Background()
	env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)

	page := env.authorize(t)
	login, err := env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("OAuthLogin: %v", err)
	}
	issued, err := env.engine.Token(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         codeFromRedirect(t, login.RedirectURI),
		RedirectURI:  testRedirectURI,
		ClientID:     testClientID,
		ClientSecret: testClientPass,
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	env.advance(time.Hour)
	refreshed, err := env.engine.Token(ctx, TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: issued.RefreshToken,
		ClientID:     testClientID,
		ClientSecret: testClientPass,
	})
	if err != nil {
		t.Fatalf("refresh Token: %v", err)
	}
	if refreshed.AccessToken == issued.AccessToken {
		t.Fatal("access token not rotated")
	}
	if refreshed.RefreshToken != issued.RefreshToken {
		t.Fatal("refresh token rotated; it must stay stable")
	}

	// Old bearer is dead, new one lives, refresh still works.
	if _, err := env.engine.Resolve(ctx, issued.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old access token = %v, want ErrUnauthorized", err)
	}
	if _, err := env.engine.Resolve(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("new access token: %v", err)
	}
	if _, err := env.engine.Token(ctx, TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: issued.RefreshToken,
		ClientID:     testClientID,
		ClientSecret: testClientPass,
	}); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	if _, err := env.engine.Token(ctx, TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: "not-a-refresh-token",
		ClientID:     testClientID,
		ClientSecret: testClientPass,
	}); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("bogus refresh = %v, want ErrRefreshInvalid", err)
	}
}

func TestOAuthLoginTOTP(t *testing.T) {
	env := newTestEnv(t, Settings{})
	env.addClient(t)
	ctx := context.Background()
	user := env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)
	secret := env.enrollAndActivate(t, user.UserID)

	page := env.authorize(t)
	step1, err := env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("OAuthLogin: %v", err)
	}
	if step1.Status != OAuthTOTPRequired || step1.FlowToken == "" {
		t.Fatalf("step1 = %+v", step1)
	}

	// The challenge inherits the flow's binding, host included.
	challenge, err := env.engine.flows.Peek(ctx, step1.FlowToken)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if challenge.ClientID != testClientID || challenge.HostName != "gw.example.com" {
		t.Fatalf("challenge record = %+v", challenge)
	}

	// A wrong code keeps the challenge token alive.
	_, err = env.engine.OAuthLogin(ctx, step1.FlowToken, TOTPChallenge{Code: "000000"})
	if !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("wrong code = %v, want ErrTOTPInvalid", err)
	}

	code, err := env.engine.totp.Code(secret, env.now)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	step2, err := env.engine.OAuthLogin(ctx, step1.FlowToken, TOTPChallenge{Code: code})
	if err != nil {
		t.Fatalf("TOTP OAuthLogin: %v", err)
	}
	if step2.Status != OAuthGranted {
		t.Fatalf("step2 = %+v", step2)
	}
	codeFromRedirect(t, step2.RedirectURI)
}

func TestOAuthTOTPTokenRejectedOnCookieLogin(t *testing.T) {
	env := newTestEnv(t, Settings{})
	env.addClient(t)
	ctx := context.Background()
	user := env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)
	env.enrollAndActivate(t, user.UserID)

	page := env.authorize(t)
	step1, err := env.engine.OAuthLogin(ctx, page.FlowToken, EmailPassword{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("OAuthLogin: %v", err)
	}

	// An authorize-flow challenge must not complete a cookie login.
	_, err = env.engine.Login(ctx, TOTPChallenge{Code: "123456", FlowToken: step1.FlowToken})
	if !errors.Is(err, ErrFlowTokenType) {
		t.Fatalf("cross-flow challenge = %v, want ErrFlowTokenType", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t, Settings{Domain: "https://fax.example"})
	ctx := context.Background()
	user := env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)

	session, err := env.engine.Login(ctx, EmailPassword{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Unknown addresses get the same silent success.
	if err := env.engine.ForgotPassword(ctx, "ghost@example.com", "/faxes"); err != nil {
		t.Fatalf("ForgotPassword(unknown): %v", err)
	}
	if env.mailer.last() != "" {
		t.Fatal("mail sent for unknown address")
	}

	if err := env.engine.ForgotPassword(ctx, "alice@example.com", "/faxes"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	resetURL := env.mailer.last()
	if !strings.HasPrefix(resetURL, "https://fax.example/user/reset-password?token=") {
		t.Fatalf("reset url = %q", resetURL)
	}
	token := strings.TrimPrefix(resetURL, "https://fax.example/user/reset-password?token=")

	info, err := env.engine.PeekResetToken(ctx, token)
	if err != nil {
		t.Fatalf("PeekResetToken: %v", err)
	}
	if info.Email != "alice@example.com" || info.TOTPRequired || info.Referrer != "/faxes" {
		t.Fatalf("PeekResetToken = %+v", info)
	}

	result, err := env.engine.ResetPassword(ctx, token, "a brand new password", "")
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if result.UserID != user.UserID || result.Session.Token == "" {
		t.Fatalf("ResetPassword = %+v", result)
	}

	// Old password dead, new one works, old session revoked, token burned.
	if _, err := env.engine.Login(ctx, EmailPassword{Email: "alice@example.com", Password: "correct horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.engine.Login(ctx, EmailPassword{Email: "alice@example.com", Password: "a brand new password"}); err != nil {
		t.Fatalf("new password: %v", err)
	}
	if _, err := env.engine.Resolve(ctx, session.Session.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old session = %v, want ErrUnauthorized", err)
	}
	if _, err := env.engine.ResetPassword(ctx, token, "yet another password", ""); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("replayed reset token = %v, want ErrResetTokenInvalid", err)
	}
}

func TestResetPasswordKeepsTOTPGate(t *testing.T) {
	env := newTestEnv(t, Settings{Domain: "https://fax.example"})
	ctx := context.Background()
	user := env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)
	secret := env.enrollAndActivate(t, user.UserID)

	if err := env.engine.ForgotPassword(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := strings.TrimPrefix(env.mailer.last(), "https://fax.example/user/reset-password?token=")

	info, err := env.engine.PeekResetToken(ctx, token)
	if err != nil {
		t.Fatalf("PeekResetToken: %v", err)
	}
	if !info.TOTPRequired {
		t.Fatal("reset form not told to demand a code")
	}

	// The reset link does not bypass the second factor.
	if _, err := env.engine.ResetPassword(ctx, token, "a brand new password", "000000"); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("reset without valid code = %v, want ErrTOTPInvalid", err)
	}

	code, err := env.engine.totp.Code(secret, env.now)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if _, err := env.engine.ResetPassword(ctx, token, "a brand new password", code); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
}

func TestResetTokenExpires(t *testing.T) {
	env := newTestEnv(t, Settings{Domain: "https://fax.example"})
	ctx := context.Background()
	env.addUser(t, "alice@example.com", "correct horse", PermissionRegular)

	if err := env.engine.ForgotPassword(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := strings.TrimPrefix(env.mailer.last(), "https://fax.example/user/reset-password?token=")

	env.advance(3601 * time.Second)

	if _, err := env.engine.PeekResetToken(ctx, token); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expired token = %v, want ErrResetTokenInvalid", err)
	}
}
