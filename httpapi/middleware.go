package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/blufax/authcore"
)

type contextKey int

const principalKey contextKey = 0

// PrincipalFrom returns the authenticated principal placed on the context by
// the Authenticate middleware.
func PrincipalFrom(ctx context.Context) (authcore.Authentication, bool) {
	auth, ok := ctx.Value(principalKey).(authcore.Authentication)
	return auth, ok
}

// Authenticate resolves the request's credential, if any, and stows the
// principal on the context. It never rejects: missing or bad credentials
// just leave the request anonymous, and the Require middlewares decide what
// that means per route.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth, ok := s.resolveRequest(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), principalKey, auth))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) resolveRequest(r *http.Request) (authcore.Authentication, bool) {
	header := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		auth, err := s.engine.Resolve(r.Context(), strings.TrimPrefix(header, "Bearer "))
		return auth, err == nil
	case strings.HasPrefix(header, "Basic "):
		email, pass, ok := r.BasicAuth()
		if !ok {
			return authcore.Authentication{}, false
		}
		auth, err := s.engine.ResolveBasic(r.Context(), email, pass)
		return auth, err == nil
	}

	if secret := s.sessionSecret(r); secret != "" {
		auth, err := s.engine.Resolve(r.Context(), secret)
		return auth, err == nil
	}
	return authcore.Authentication{}, false
}

// RequireAuth gates a route on an authenticated principal. Browsers are sent
// to the login form with the original path as referrer; API callers get a
// 401 with a Basic challenge so legacy integrations know the header form.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			s.rejectAnonymous(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin additionally demands the admin permission.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := PrincipalFrom(r.Context())
		if !ok {
			s.rejectAnonymous(w, r)
			return
		}
		if !auth.Permission.IsAdmin() {
			s.renderError(w, r, authcore.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission gates a route on a minimum permission level.
func (s *Server) RequirePermission(min authcore.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := PrincipalFrom(r.Context())
		if !ok {
			s.rejectAnonymous(w, r)
			return
		}
		if !auth.Permission.AtLeast(min) {
			s.renderError(w, r, authcore.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rejectAnonymous(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		if enabled, err := s.basicAuthEnabled(r); err == nil && enabled {
			w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
		}
		writeJSON(w, http.StatusUnauthorized, errorPayload{Error: "unauthorized"})
		return
	}
	target := "/user/login?referrer=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) basicAuthEnabled(r *http.Request) (bool, error) {
	settings, err := s.engine.Settings(r.Context())
	return settings.BasicAuthEnabled, err
}
