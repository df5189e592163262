package httpapi

import (
	"errors"
	"net/http"

	"github.com/blufax/authcore"
)

// handleAuthorize opens the authorize flow and renders the client login
// form. Validation failures never redirect back to the client: an invalid
// request gets an error page, not a free redirect.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.engine.Authorize(r.Context(), authcore.AuthorizeRequest{
		ResponseType: q.Get("response_type"),
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
		HostName:     r.Host,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	s.renderView(w, r, "oauth_login", map[string]any{
		"client_name":        page.Client.Name,
		"client_website":     page.Client.Website,
		"scope":              page.Scope,
		"authenticity_token": page.FlowToken,
	})
}

// handleOAuthLogin is the form target of the authorize page. The action
// field selects the step: credentials first, then the TOTP challenge for
// enrolled accounts.
func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}
	flowToken := r.PostFormValue("authenticity_token")

	var req authcore.LoginRequest
	if r.PostFormValue("action") == "totp" {
		req = authcore.TOTPChallenge{Code: r.PostFormValue("code")}
	} else {
		req = authcore.EmailPassword{
			Email:    r.PostFormValue("email"),
			Password: r.PostFormValue("password"),
		}
	}

	result, err := s.engine.OAuthLogin(r.Context(), flowToken, req)
	if err != nil {
		if errors.Is(err, authcore.ErrTOTPInvalid) {
			// The challenge token survives a wrong code; re-render the form.
			s.renderView(w, r, "oauth_totp", map[string]any{
				"authenticity_token": flowToken,
				"error":              "invalid code",
			})
			return
		}
		if errors.Is(err, authcore.ErrInvalidCredentials) && result.Retry != nil && !wantsJSON(r) {
			// Rejected credentials re-render the login form under the fresh
			// token the engine re-opened the flow with.
			s.renderView(w, r, "oauth_login", map[string]any{
				"client_name":        result.Retry.Client.Name,
				"client_website":     result.Retry.Client.Website,
				"scope":              result.Retry.Scope,
				"authenticity_token": result.Retry.FlowToken,
				"unauthorized":       true,
			})
			return
		}
		s.renderError(w, r, err)
		return
	}

	if result.Status == authcore.OAuthTOTPRequired {
		s.renderView(w, r, "oauth_totp", map[string]any{
			"authenticity_token": result.FlowToken,
		})
		return
	}
	http.Redirect(w, r, result.RedirectURI, http.StatusSeeOther)
}

// handleToken is the RFC 6749 token endpoint. Client credentials may arrive
// as a Basic header or in the body; the header wins when both are present.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid_request"})
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if id, secret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = id, secret
	}

	response, err := s.engine.Token(r.Context(), authcore.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		RefreshToken: r.PostFormValue("refresh_token"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		code := oauthErrorCode(err)
		status := http.StatusBadRequest
		if code == "invalid_client" {
			status = http.StatusUnauthorized
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		} else if code == "temporarily_unavailable" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorPayload{Error: code})
		return
	}

	writeJSON(w, http.StatusOK, response)
}
