package httpapi

import (
	"net/http"

	"github.com/blufax/authcore"
)

// Server wires the engine to HTTP routes.
type Server struct {
	engine     *authcore.Engine
	renderer   Renderer
	production bool
}

// NewServer returns a Server. production gates the Secure cookie attribute.
func NewServer(engine *authcore.Engine, renderer Renderer, production bool) *Server {
	return &Server{engine: engine, renderer: renderer, production: production}
}

// Handler returns the full route table wrapped in the authentication
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /user/login", s.handleLoginForm)
	mux.HandleFunc("POST /user/login", s.handleLogin)
	mux.HandleFunc("POST /user/logout", s.handleLogout)
	mux.HandleFunc("GET /user/register", s.handleRegisterForm)
	mux.HandleFunc("POST /user/register", s.handleRegister)
	mux.HandleFunc("GET /user/forgot-password", s.handleForgotPasswordForm)
	mux.HandleFunc("POST /user/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("GET /user/reset-password", s.handleResetPasswordForm)
	mux.HandleFunc("POST /user/reset-password", s.handleResetPassword)

	mux.HandleFunc("GET /oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /oauth/login", s.handleOAuthLogin)
	mux.HandleFunc("POST /oauth/access_token", s.handleToken)

	mux.Handle("GET /api/me", s.RequireAuth(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /api/totp/enroll", s.RequireAuth(http.HandlerFunc(s.handleTOTPEnroll)))
	mux.Handle("POST /api/totp/activate", s.RequireAuth(http.HandlerFunc(s.handleTOTPActivate)))
	mux.Handle("POST /api/totp/disable", s.RequireAuth(http.HandlerFunc(s.handleTOTPDisable)))

	mux.Handle("GET /api/users", s.RequireAdmin(http.HandlerFunc(s.handleListUsers)))
	mux.Handle("POST /api/users", s.RequireAdmin(http.HandlerFunc(s.handleCreateUser)))
	mux.Handle("GET /api/users/{id}", s.RequireAdmin(http.HandlerFunc(s.handleGetUser)))
	mux.Handle("PATCH /api/users/{id}", s.RequireAdmin(http.HandlerFunc(s.handleUpdateUser)))
	mux.Handle("DELETE /api/users/{id}", s.RequireAdmin(http.HandlerFunc(s.handleDeleteUser)))
	mux.Handle("POST /api/users/{id}/revoke", s.RequireAdmin(http.HandlerFunc(s.handleRevokeUser)))

	return s.Authenticate(mux)
}
