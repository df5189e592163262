package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/blufax/authcore"
)

// Renderer produces the HTML views (login form, TOTP challenge, reset form).
// The gateway supplies its own template set; tests use a stub.
type Renderer interface {
	Render(w http.ResponseWriter, view string, data map[string]any) error
}

// wantsJSON sniffs the Accept header: API callers get JSON errors, browsers
// get redirects and rendered forms.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	for part := range strings.SplitSeq(accept, ",") {
		mt := strings.TrimSpace(part)
		if semi := strings.IndexByte(mt, ';'); semi >= 0 {
			mt = mt[:semi]
		}
		switch mt {
		case "application/json":
			return true
		case "text/html":
			return false
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorPayload struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, authcore.ErrUnauthorized),
		errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrTOTPInvalid),
		errors.Is(err, authcore.ErrTOTPRequired),
		errors.Is(err, authcore.ErrClientSecretMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, authcore.ErrForbidden),
		errors.Is(err, authcore.ErrBasicAuthDisabled),
		errors.Is(err, authcore.ErrRegistrationDisabled):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrNotFound),
		errors.Is(err, authcore.ErrUserNotFound),
		errors.Is(err, authcore.ErrClientNotFound):
		return http.StatusNotFound
	case errors.Is(err, authcore.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, authcore.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// oauthErrorCode maps engine errors onto RFC 6749 token-endpoint codes.
func oauthErrorCode(err error) string {
	switch {
	case errors.Is(err, authcore.ErrClientNotFound),
		errors.Is(err, authcore.ErrClientSecretMismatch):
		return "invalid_client"
	case errors.Is(err, authcore.ErrGrantTypeInvalid):
		return "unsupported_grant_type"
	case errors.Is(err, authcore.ErrScopeInvalid):
		return "invalid_scope"
	case errors.Is(err, authcore.ErrUnauthorized),
		errors.Is(err, authcore.ErrRefreshInvalid),
		errors.Is(err, authcore.ErrRedirectURIMismatch):
		return "invalid_grant"
	case errors.Is(err, authcore.ErrBackendUnavailable):
		return "temporarily_unavailable"
	default:
		return "invalid_request"
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if wantsJSON(r) {
		writeJSON(w, status, errorPayload{Error: http.StatusText(status)})
		return
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) renderView(w http.ResponseWriter, r *http.Request, view string, data map[string]any) {
	if err := s.renderer.Render(w, view, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
