// Package api exposes the HTTP surface: authentication, organization and
// membership management, the invitation lifecycle, and the platform admin
// endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/unuxt/unuxt/pkg/audit"
	"github.com/unuxt/unuxt/pkg/auth"
	"github.com/unuxt/unuxt/pkg/config"
	"github.com/unuxt/unuxt/pkg/email"
	"github.com/unuxt/unuxt/pkg/middleware"
	"github.com/unuxt/unuxt/pkg/observability"
	"github.com/unuxt/unuxt/pkg/orgs"
	"github.com/unuxt/unuxt/pkg/sso"
)

// Deps carries everything the server needs. Notifier, Providers, Breach,
// Limiter, and Metrics are optional; the matching features degrade to off.
type Deps struct {
	Config      *config.Config
	Users       *auth.PostgresService
	Orgs        *orgs.PostgresService
	Providers   *sso.Registry
	Provisioner *sso.Provisioner
	Notifier    *email.Notifier
	Breach      *auth.BreachChecker
	Audit       *audit.Recorder
	Limiter     *middleware.RateLimiter
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// Server is the HTTP API server.
type Server struct {
	router *mux.Router
	deps   Deps
}

// NewServer creates the server and wires all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	authn := middleware.NewAuthenticator(
		s.deps.Users,
		s.deps.Config.Auth.SessionUpdateAge,
		s.deps.Config.Auth.SessionTTL,
		s.deps.Logger,
	)
	s.router.Use(authn.Resolve)
	if s.deps.Metrics != nil {
		s.router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				route := "unknown"
				if current := mux.CurrentRoute(r); current != nil {
					if tpl, err := current.GetPathTemplate(); err == nil {
						route = tpl
					}
				}
				s.deps.Metrics.InstrumentHandler(route, next).ServeHTTP(w, r)
			})
		})
	}

	limited := func(h http.HandlerFunc) http.Handler {
		if s.deps.Limiter == nil {
			return h
		}
		return s.deps.Limiter.Handler(h)
	}
	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}

	// Authentication. Credential and token endpoints sit behind the rate
	// limiter; they are the brute-force targets.
	authRouter := s.router.PathPrefix("/api/auth").Subrouter()
	authRouter.Handle("/register", limited(s.register)).Methods("POST")
	authRouter.Handle("/login", limited(s.login)).Methods("POST")
	authRouter.Handle("/logout", authed(s.logout)).Methods("POST")
	authRouter.Handle("/me", authed(s.getMe)).Methods("GET")
	authRouter.Handle("/me", authed(s.updateMe)).Methods("PATCH")
	authRouter.Handle("/me", authed(s.deleteMe)).Methods("DELETE")
	authRouter.Handle("/verify-email/request", limited(s.requestEmailVerification)).Methods("POST")
	authRouter.Handle("/verify-email/confirm", limited(s.confirmEmailVerification)).Methods("POST")
	authRouter.Handle("/password-reset/request", limited(s.requestPasswordReset)).Methods("POST")
	authRouter.Handle("/password-reset/confirm", limited(s.confirmPasswordReset)).Methods("POST")
	authRouter.Handle("/magic-link/request", limited(s.requestMagicLink)).Methods("POST")
	authRouter.Handle("/magic-link/verify", limited(s.verifyMagicLink)).Methods("POST")
	authRouter.HandleFunc("/password-strength", s.passwordStrength).Methods("POST")
	authRouter.HandleFunc("/signin/{provider}", s.socialSignin).Methods("GET")
	authRouter.HandleFunc("/callback/{provider}", s.socialCallback).Methods("GET")

	// Organizations.
	orgRouter := s.router.PathPrefix("/api/orgs").Subrouter()
	orgRouter.Handle("", authed(s.createOrganization)).Methods("POST")
	orgRouter.Handle("", authed(s.listOrganizations)).Methods("GET")
	orgRouter.Handle("/{orgID}", authed(s.getOrganization)).Methods("GET")
	orgRouter.Handle("/{orgID}", authed(s.updateOrganization)).Methods("PATCH")
	orgRouter.Handle("/{orgID}", authed(s.deleteOrganization)).Methods("DELETE")
	orgRouter.Handle("/{orgID}/members", authed(s.listMembers)).Methods("GET")
	orgRouter.Handle("/{orgID}/members", authed(s.addMember)).Methods("POST")
	orgRouter.Handle("/{orgID}/members/{userID}", authed(s.updateMemberRole)).Methods("PATCH")
	orgRouter.Handle("/{orgID}/members/{userID}", authed(s.removeMember)).Methods("DELETE")
	orgRouter.Handle("/{orgID}/invitations", authed(s.createInvitation)).Methods("POST")
	orgRouter.Handle("/{orgID}/invitations", authed(s.listInvitations)).Methods("GET")
	orgRouter.Handle("/{orgID}/invitations/{invitationID}", authed(s.cancelInvitation)).Methods("DELETE")
	orgRouter.Handle("/{orgID}/audit", authed(s.listOrgAudit)).Methods("GET")

	// Invitation accept flow, addressed by token rather than organization.
	s.router.HandleFunc("/api/invitations/{token}", s.getInvitation).Methods("GET")
	s.router.Handle("/api/invitations/{token}/accept", authed(s.acceptInvitation)).Methods("POST")

	// Platform admin surface.
	adminRouter := s.router.PathPrefix("/api/admin").Subrouter()
	adminRouter.Handle("/users", admin(s.adminListUsers)).Methods("GET")
	adminRouter.Handle("/stats", admin(s.adminStats)).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
