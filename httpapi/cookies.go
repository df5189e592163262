package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/blufax/authcore"
)

// cookieDomain picks the domain attribute for the session cookie. The
// explicit hostname setting wins, then the host the request came in on, then
// the loopback fallback for bare development setups.
func cookieDomain(settings authcore.Settings, r *http.Request) string {
	if settings.DomainHostname != "" {
		return settings.DomainHostname
	}
	if host := r.URL.Hostname(); host != "" {
		return host
	}
	if host := r.Host; host != "" {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
		return host
	}
	return "127.0.0.1"
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, settings authcore.Settings, session authcore.CookieSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.engine.CookieName(),
		Value:    session.Token,
		Expires:  session.Expires,
		Path:     "/",
		Domain:   cookieDomain(settings, r),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.production && settings.SecureCookie,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request, settings authcore.Settings) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.engine.CookieName(),
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Path:     "/",
		Domain:   cookieDomain(settings, r),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.production && settings.SecureCookie,
	})
}

// sessionSecret extracts the bearer secret from the session cookie, if any.
func (s *Server) sessionSecret(r *http.Request) string {
	cookie, err := r.Cookie(s.engine.CookieName())
	if err != nil {
		return ""
	}
	return cookie.Value
}
