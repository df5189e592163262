package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/blufax/authcore"
)

// safeReferrer keeps post-login redirects on this origin.
func safeReferrer(referrer string) string {
	if referrer == "" || !strings.HasPrefix(referrer, "/") || strings.HasPrefix(referrer, "//") {
		return "/"
	}
	return referrer
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	token, err := s.engine.IssueFormToken(r.Context(), r.Host)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderView(w, r, "login", map[string]any{
		"authenticity_token": token,
		"referrer":           r.URL.Query().Get("referrer"),
		"unauthorized":       r.URL.Query().Get("unauthorized") == "true",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}
	flowToken := r.PostFormValue("authenticity_token")
	referrer := safeReferrer(r.PostFormValue("referrer"))

	var result authcore.LoginResult
	var err error
	if r.PostFormValue("action") == "totp" {
		result, err = s.engine.Login(r.Context(), authcore.TOTPChallenge{
			Code:      r.PostFormValue("code"),
			FlowToken: flowToken,
		})
	} else {
		if err := s.engine.RedeemFormToken(r.Context(), flowToken); err != nil {
			s.renderError(w, r, err)
			return
		}
		result, err = s.engine.Login(r.Context(), authcore.EmailPassword{
			Email:    r.PostFormValue("email"),
			Password: r.PostFormValue("password"),
			Host:     r.Host,
		})
	}
	if err != nil {
		if errors.Is(err, authcore.ErrTOTPInvalid) {
			s.renderView(w, r, "totp", map[string]any{
				"authenticity_token": flowToken,
				"referrer":           referrer,
				"error":              "invalid code",
			})
			return
		}
		if errors.Is(err, authcore.ErrInvalidCredentials) && !wantsJSON(r) {
			// Browsers go back to the form, which shows the failure and
			// issues a fresh authenticity token.
			q := url.Values{"unauthorized": {"true"}}
			if referrer != "/" {
				q.Set("referrer", referrer)
			}
			http.Redirect(w, r, "/user/login?"+q.Encode(), http.StatusSeeOther)
			return
		}
		s.renderError(w, r, err)
		return
	}

	if result.TOTPRequired {
		s.renderView(w, r, "totp", map[string]any{
			"authenticity_token": result.FlowToken,
			"referrer":           referrer,
		})
		return
	}

	settings, err := s.engine.Settings(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.setSessionCookie(w, r, settings, result.Session)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"user_id": result.UserID})
		return
	}
	http.Redirect(w, r, referrer, http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if secret := s.sessionSecret(r); secret != "" {
		if err := s.engine.Logout(r.Context(), secret); err != nil {
			s.renderError(w, r, err)
			return
		}
	}
	settings, err := s.engine.Settings(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.clearSessionCookie(w, r, settings)

	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/user/login", http.StatusSeeOther)
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	settings, err := s.engine.Settings(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if !settings.RegistrationEnabled {
		s.renderError(w, r, authcore.ErrRegistrationDisabled)
		return
	}
	token, err := s.engine.IssueFormToken(r.Context(), r.Host)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderView(w, r, "register", map[string]any{"authenticity_token": token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}
	if err := s.engine.RedeemFormToken(r.Context(), r.PostFormValue("authenticity_token")); err != nil {
		s.renderError(w, r, err)
		return
	}

	result, err := s.engine.Register(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, authcore.ErrEmailTaken) {
			// Same response as any bad input; the audit stream has the truth.
			s.renderError(w, r, authcore.ErrBadRequest)
			return
		}
		s.renderError(w, r, err)
		return
	}

	settings, err := s.engine.Settings(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.setSessionCookie(w, r, settings, result.Session)

	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, map[string]any{"user_id": result.UserID})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleForgotPasswordForm(w http.ResponseWriter, r *http.Request) {
	s.renderView(w, r, "forgot_password", map[string]any{
		"referrer": r.URL.Query().Get("referrer"),
	})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}
	err := s.engine.ForgotPassword(r.Context(), r.PostFormValue("email"), r.PostFormValue("referrer"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	// Identical outcome whether or not the account exists.
	if wantsJSON(r) {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.renderView(w, r, "forgot_password_sent", nil)
}

func (s *Server) handleResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	info, err := s.engine.PeekResetToken(r.Context(), token)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderView(w, r, "reset_password", map[string]any{
		"token":         token,
		"email":         info.Email,
		"totp_required": info.TOTPRequired,
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}
	result, err := s.engine.ResetPassword(r.Context(),
		r.PostFormValue("token"),
		r.PostFormValue("password"),
		r.PostFormValue("code"),
	)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	settings, err := s.engine.Settings(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.setSessionCookie(w, r, settings, result.Session)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"user_id": result.UserID})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type userPayload struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Permission string `json:"permission"`
	TOTPActive bool   `json:"totp_active"`
}

func toUserPayload(u authcore.UserRecord) userPayload {
	return userPayload{
		UserID:     u.UserID,
		Email:      u.Email,
		Permission: u.Permission.String(),
		TOTPActive: u.TOTPRequired(),
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	auth, _ := PrincipalFrom(r.Context())
	user, err := s.engine.User(r.Context(), auth.UserID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(user))
}

func (s *Server) handleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	auth, _ := PrincipalFrom(r.Context())
	enrollment, err := s.engine.EnrollTOTP(r.Context(), auth.UserID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":        enrollment.Secret,
		"provision_uri": enrollment.ProvisionURI,
	})
}

func (s *Server) handleTOTPActivate(w http.ResponseWriter, r *http.Request) {
	auth, _ := PrincipalFrom(r.Context())
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}
	if err := s.engine.ActivateTOTP(r.Context(), auth.UserID, body.Code); err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	auth, _ := PrincipalFrom(r.Context())
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}
	if err := s.engine.DisableTOTP(r.Context(), auth.UserID, body.Code); err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	users, err := s.engine.Users(r.Context(), skip, limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	payload := make([]userPayload, 0, len(users))
	for _, u := range users {
		payload = append(payload, toUserPayload(u))
	}
	writeJSON(w, http.StatusOK, payload)
}

type userBody struct {
	Email      *string `json:"email"`
	Password   *string `json:"password"`
	Permission *string `json:"permission"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body userBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == nil || body.Password == nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}
	permission := authcore.PermissionRegular
	if body.Permission != nil {
		parsed, ok := authcore.ParsePermission(*body.Permission)
		if !ok {
			s.renderError(w, r, authcore.ErrBadRequest)
			return
		}
		permission = parsed
	}

	user, err := s.engine.CreateUser(r.Context(), *body.Email, *body.Password, permission)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserPayload(user))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.User(r.Context(), r.PathValue("id"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(user))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var body userBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.renderError(w, r, authcore.ErrBadRequest)
		return
	}

	update := authcore.AccountUpdate{Email: body.Email, Password: body.Password}
	if body.Permission != nil {
		parsed, ok := authcore.ParsePermission(*body.Permission)
		if !ok {
			s.renderError(w, r, authcore.ErrBadRequest)
			return
		}
		update.Permission = &parsed
	}

	user, err := s.engine.UpdateUser(r.Context(), r.PathValue("id"), update)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(user))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteUser(r.Context(), r.PathValue("id")); err != nil {
		s.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeUser(w http.ResponseWriter, r *http.Request) {
	revoked, err := s.engine.RevokeUserTokens(r.Context(), r.PathValue("id"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}
