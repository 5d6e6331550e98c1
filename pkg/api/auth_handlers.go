package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/unuxt/unuxt/pkg/audit"
	"github.com/unuxt/unuxt/pkg/auth"
	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/httputil"
	"github.com/unuxt/unuxt/pkg/middleware"
	"github.com/unuxt/unuxt/pkg/validation"
)

const oauthStateCookie = "unuxt_oauth_state"

func (s *Server) session(r *http.Request) *auth.SessionInfo {
	return middleware.SessionFromContext(r.Context())
}

func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.deps.Config.Server.BaseURL, "https://")
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) recordAuthAttempt(method, outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.AuthAttemptsTotal.WithLabelValues(method, outcome).Inc()
	}
}

func (s *Server) recordAudit(ctx context.Context, entry audit.Entry) {
	if s.deps.Audit != nil {
		s.deps.Audit.Record(ctx, entry)
	}
}

// checkPasswordAcceptable runs the static policy and, when enabled, the
// breach corpus check.
func (s *Server) checkPasswordAcceptable(ctx context.Context, password string) error {
	if err := validation.Password(password); err != nil {
		return err
	}
	if s.deps.Config.Auth.BreachCheck && s.deps.Breach != nil {
		result, err := s.deps.Breach.Check(ctx, password)
		if err == nil && result.Breached {
			return errdefs.InvalidArgument("password appears in known data breaches, choose another")
		}
	}
	return nil
}

func (s *Server) startSession(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) (*auth.Session, error) {
	session, err := s.deps.Users.CreateSession(ctx, userID,
		httputil.ClientIP(r), r.UserAgent(), s.deps.Config.Auth.SessionTTL)
	if err != nil {
		return nil, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsCreatedTotal.Inc()
	}
	s.setSessionCookie(w, session.Token, session.ExpiresAt)
	return session, nil
}

type sessionResponse struct {
	User    *auth.User `json:"user"`
	Token   string     `json:"token"`
	Expires time.Time  `json:"expires_at"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	email, err := validation.Email(req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Name != "" {
		if err := validation.Name(req.Name); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if err := s.checkPasswordAcceptable(ctx, req.Password); err != nil {
		httputil.WriteError(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password, nil)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	user := &auth.User{Email: email, Name: req.Name}
	if err := s.deps.Users.CreateUser(ctx, user); err != nil {
		s.recordAuthAttempt("password", "failure")
		httputil.WriteError(w, err)
		return
	}
	if err := s.deps.Users.SetPassword(ctx, user.ID, hash); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := s.startSession(ctx, w, r, user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordAuthAttempt("password", "success")
	s.recordAudit(ctx, audit.Entry{
		ActorID:      user.ID,
		Action:       audit.ActionUserRegister,
		ResourceType: "user",
		ResourceID:   user.ID,
		IPAddress:    httputil.ClientIP(r),
	})

	s.sendLoginToken(ctx, email, auth.PurposeVerifyEmail)

	httputil.WriteCreated(w, sessionResponse{User: user, Token: session.Token, Expires: session.ExpiresAt})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := s.deps.Users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		s.recordAuthAttempt("password", "failure")
		s.recordAudit(ctx, audit.Entry{
			Action:       audit.ActionUserLogin,
			ResourceType: "session",
			IPAddress:    httputil.ClientIP(r),
			Status:       audit.StatusFailure,
			ErrorMessage: "invalid credentials",
		})
		httputil.WriteError(w, err)
		return
	}

	session, err := s.startSession(ctx, w, r, user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordAuthAttempt("password", "success")
	s.recordAudit(ctx, audit.Entry{
		ActorID:      user.ID,
		Action:       audit.ActionUserLogin,
		ResourceType: "session",
		ResourceID:   session.ID,
		IPAddress:    httputil.ClientIP(r),
	})

	httputil.WriteSuccess(w, sessionResponse{User: user, Token: session.Token, Expires: session.ExpiresAt})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	info := s.session(r)

	token := httputil.BearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
			token = cookie.Value
		}
	}

	if err := s.deps.Users.DeleteSessionByToken(r.Context(), token); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.clearSessionCookie(w)
	s.recordAudit(r.Context(), audit.Entry{
		ActorID:      info.UserID,
		Action:       audit.ActionUserLogout,
		ResourceType: "session",
		ResourceID:   info.SessionID,
	})
	httputil.WriteNoContent(w)
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Users.GetUser(r.Context(), s.session(r).UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	var req auth.UpdateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name != nil {
		if err := validation.Name(*req.Name); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	userID := s.session(r).UserID
	if err := s.deps.Users.UpdateUser(r.Context(), userID, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	user, err := s.deps.Users.GetUser(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// deleteMe removes the account. The caller first leaves every organization;
// where they are the only owner the organization is deleted with them.
func (s *Server) deleteMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := s.session(r)

	memberships, err := s.deps.Orgs.ListOrganizationsForUser(ctx, info.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	for _, org := range memberships {
		if _, err := s.deps.Orgs.RemoveMember(ctx, org.ID, info.UserID, s.actor(r)); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	if err := s.deps.Users.DeleteUser(ctx, info.UserID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.clearSessionCookie(w)
	s.recordAudit(ctx, audit.Entry{
		ActorID:      info.UserID,
		Action:       audit.ActionUserDelete,
		ResourceType: "user",
		ResourceID:   info.UserID,
		IPAddress:    httputil.ClientIP(r),
	})
	httputil.WriteNoContent(w)
}

// sendLoginToken issues a single-use token and emails it. Best-effort; the
// caller's request does not wait for SMTP.
func (s *Server) sendLoginToken(ctx context.Context, email string, purpose auth.TokenPurpose) {
	if s.deps.Notifier == nil {
		return
	}

	var ttl time.Duration
	switch purpose {
	case auth.PurposeVerifyEmail:
		ttl = s.deps.Config.Auth.VerificationTTL
	case auth.PurposePasswordReset:
		ttl = s.deps.Config.Auth.PasswordResetTTL
	case auth.PurposeMagicLink:
		ttl = s.deps.Config.Auth.MagicLinkTTL
	}

	token, err := s.deps.Users.CreateLoginToken(ctx, email, purpose, ttl)
	if err != nil {
		s.deps.Logger.WithError(err).Error("failed to create login token")
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	switch purpose {
	case auth.PurposeVerifyEmail:
		go s.deps.Notifier.SendVerification(sendCtx, email, token.Token)
	case auth.PurposePasswordReset:
		go s.deps.Notifier.SendPasswordReset(sendCtx, email, token.Token)
	case auth.PurposeMagicLink:
		go s.deps.Notifier.SendMagicLink(sendCtx, email, token.Token)
	}
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) requestEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if info := s.session(r); info != nil {
		req.Email = info.Email
	} else if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email, err := validation.Email(req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Only issue tokens for accounts that exist, but answer identically
	// either way so addresses cannot be probed.
	if _, err := s.deps.Users.GetUserByEmail(r.Context(), email); err == nil {
		s.sendLoginToken(r.Context(), email, auth.PurposeVerifyEmail)
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) confirmEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	token, err := s.deps.Users.ConsumeLoginToken(ctx, req.Token, auth.PurposeVerifyEmail)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.deps.Users.MarkEmailVerified(ctx, token.Email); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordAudit(ctx, audit.Entry{
		Action:       audit.ActionEmailVerify,
		ResourceType: "user",
		IPAddress:    httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, map[string]string{"status": "verified"})
}

func (s *Server) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email, err := validation.Email(req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if _, err := s.deps.Users.GetUserByEmail(r.Context(), email); err == nil {
		s.sendLoginToken(r.Context(), email, auth.PurposePasswordReset)
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := s.checkPasswordAcceptable(ctx, req.Password); err != nil {
		httputil.WriteError(w, err)
		return
	}

	token, err := s.deps.Users.ConsumeLoginToken(ctx, req.Token, auth.PurposePasswordReset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	user, err := s.deps.Users.GetUserByEmail(ctx, token.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password, nil)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.deps.Users.SetPassword(ctx, user.ID, hash); err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Every existing session is revoked; the password may have been stolen.
	if err := s.deps.Users.DeleteUserSessions(ctx, user.ID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordAudit(ctx, audit.Entry{
		ActorID:      user.ID,
		Action:       audit.ActionPasswordReset,
		ResourceType: "user",
		ResourceID:   user.ID,
		IPAddress:    httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, map[string]string{"status": "reset"})
}

func (s *Server) requestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email, err := validation.Email(req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.sendLoginToken(r.Context(), email, auth.PurposeMagicLink)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) verifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	token, err := s.deps.Users.ConsumeLoginToken(ctx, req.Token, auth.PurposeMagicLink)
	if err != nil {
		s.recordAuthAttempt("magic_link", "failure")
		httputil.WriteError(w, err)
		return
	}

	// A magic link both signs in and signs up: proving control of the inbox
	// is enough to create a verified account.
	user, err := s.deps.Users.GetUserByEmail(ctx, token.Email)
	if errors.Is(err, errdefs.ErrNotFound) {
		user = &auth.User{Email: token.Email, EmailVerified: true}
		err = s.deps.Users.CreateUser(ctx, user)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !user.EmailVerified {
		if err := s.deps.Users.MarkEmailVerified(ctx, user.Email); err != nil {
			httputil.WriteError(w, err)
			return
		}
		user.EmailVerified = true
	}

	session, err := s.startSession(ctx, w, r, user.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordAuthAttempt("magic_link", "success")
	httputil.WriteSuccess(w, sessionResponse{User: user, Token: session.Token, Expires: session.ExpiresAt})
}

func (s *Server) passwordStrength(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result := validation.CheckPasswordStrength(req.Password)
	httputil.WriteSuccess(w, result)
}

func (s *Server) socialSignin(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "provider")
	if !ok {
		return
	}
	if s.deps.Providers == nil {
		httputil.WriteError(w, errdefs.NotFound("social login is not configured"))
		return
	}
	provider, err := s.deps.Providers.Provider(name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	state, _, _, err := auth.GenerateToken()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) socialCallback(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "provider")
	if !ok {
		return
	}
	if s.deps.Providers == nil || s.deps.Provisioner == nil {
		httputil.WriteError(w, errdefs.NotFound("social login is not configured"))
		return
	}
	provider, err := s.deps.Providers.Provider(name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		s.recordAuthAttempt(name, "failure")
		httputil.WriteError(w, errdefs.Unauthorized("state mismatch"))
		return
	}

	ctx := r.Context()
	identity, err := provider.FetchIdentity(ctx, r.URL.Query().Get("code"))
	if err != nil {
		s.recordAuthAttempt(name, "failure")
		httputil.WriteError(w, errdefs.Wrap(errdefs.KindUnauthorized, err, "social login failed"))
		return
	}

	user, err := s.deps.Provisioner.Provision(ctx, identity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if _, err := s.startSession(ctx, w, r, user.ID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordAuthAttempt(name, "success")
	s.recordAudit(ctx, audit.Entry{
		ActorID:      user.ID,
		Action:       audit.ActionUserLogin,
		ResourceType: "session",
		IPAddress:    httputil.ClientIP(r),
	})
	http.Redirect(w, r, s.deps.Config.Server.BaseURL, http.StatusFound)
}
