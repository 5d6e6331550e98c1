package api

import (
	"net/http"

	"github.com/unuxt/unuxt/pkg/httputil"
)

func (s *Server) adminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := httputil.Pagination(r, 50, 200)

	users, total, err := s.deps.Users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"users": users,
		"total": total,
	})
}

type platformStats struct {
	Users              int `json:"users"`
	Organizations      int `json:"organizations"`
	PendingInvitations int `json:"pending_invitations"`
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats := platformStats{}
	var err error
	if stats.Users, err = s.deps.Users.CountUsers(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if stats.Organizations, err = s.deps.Orgs.CountOrganizations(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if stats.PendingInvitations, err = s.deps.Orgs.CountPendingInvitations(ctx); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}
