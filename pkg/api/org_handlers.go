package api

import (
	"net/http"

	"github.com/unuxt/unuxt/pkg/audit"
	"github.com/unuxt/unuxt/pkg/httputil"
	"github.com/unuxt/unuxt/pkg/orgs"
	"github.com/unuxt/unuxt/pkg/roles"
)

// actor translates the request session into an organization-layer actor.
// RequireAuth runs before every handler that calls this, so the session is
// always present.
func (s *Server) actor(r *http.Request) orgs.Actor {
	info := s.session(r)
	return orgs.Actor{
		UserID: info.UserID,
		Admin:  info.Role == roles.GlobalRoleAdmin,
	}
}

func (s *Server) recordMembershipChange(operation string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.MembershipChangesTotal.WithLabelValues(operation).Inc()
	}
}

func (s *Server) recordInvitationTransition(status string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.InvitationTransitionsTotal.WithLabelValues(status).Inc()
	}
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	info := s.session(r)
	org, err := s.deps.Orgs.CreateOrganization(ctx, info.UserID, &req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.OrganizationsCreatedTotal.Inc()
	}
	s.recordAudit(ctx, audit.Entry{
		ActorID:        info.UserID,
		OrganizationID: org.ID,
		Action:         audit.ActionOrgCreate,
		ResourceType:   "organization",
		ResourceID:     org.ID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteCreated(w, org)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	organizations, err := s.deps.Orgs.ListOrganizationsForUser(r.Context(), s.session(r).UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, organizations)
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	// Dashboards address organizations by slug; everything else by ID.
	var (
		org *orgs.Organization
		err error
	)
	if r.URL.Query().Get("by") == "slug" {
		org, err = s.deps.Orgs.GetOrganizationBySlug(r.Context(), orgID, s.actor(r))
	} else {
		org, err = s.deps.Orgs.GetOrganization(r.Context(), orgID, s.actor(r))
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) updateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	var req orgs.UpdateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := s.deps.Orgs.UpdateOrganization(ctx, orgID, &req, s.actor(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	org, err := s.deps.Orgs.GetOrganization(ctx, orgID, s.actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordAudit(ctx, audit.Entry{
		ActorID:        s.session(r).UserID,
		OrganizationID: orgID,
		Action:         audit.ActionOrgUpdate,
		ResourceType:   "organization",
		ResourceID:     orgID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, org)
}

func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	ctx := r.Context()
	if err := s.deps.Orgs.DeleteOrganization(ctx, orgID, s.actor(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.OrganizationsDeletedTotal.Inc()
	}
	s.recordAudit(ctx, audit.Entry{
		ActorID:        s.session(r).UserID,
		OrganizationID: orgID,
		Action:         audit.ActionOrgDelete,
		ResourceType:   "organization",
		ResourceID:     orgID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteNoContent(w)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	members, err := s.deps.Orgs.ListMembers(r.Context(), orgID, s.actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	var req struct {
		UserID string     `json:"user_id"`
		Role   roles.Role `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	member, err := s.deps.Orgs.AddMember(ctx, orgID, req.UserID, req.Role, s.actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordMembershipChange("add")
	s.recordAudit(ctx, audit.Entry{
		ActorID:        s.session(r).UserID,
		OrganizationID: orgID,
		Action:         audit.ActionMemberAdd,
		ResourceType:   "member",
		ResourceID:     req.UserID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteCreated(w, member)
}

func (s *Server) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	var req struct {
		Role roles.Role `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := s.deps.Orgs.UpdateMemberRole(ctx, orgID, userID, req.Role, s.actor(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	member, err := s.deps.Orgs.GetMember(ctx, orgID, userID, s.actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordMembershipChange("update_role")
	s.recordAudit(ctx, audit.Entry{
		ActorID:        s.session(r).UserID,
		OrganizationID: orgID,
		Action:         audit.ActionMemberRoleChange,
		ResourceType:   "member",
		ResourceID:     userID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, member)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	ctx := r.Context()
	orgDeleted, err := s.deps.Orgs.RemoveMember(ctx, orgID, userID, s.actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordMembershipChange("remove")
	action := audit.ActionMemberRemove
	if orgDeleted {
		if s.deps.Metrics != nil {
			s.deps.Metrics.OrganizationsDeletedTotal.Inc()
		}
		action = audit.ActionOrgDelete
	}
	s.recordAudit(ctx, audit.Entry{
		ActorID:        s.session(r).UserID,
		OrganizationID: orgID,
		Action:         action,
		ResourceType:   "member",
		ResourceID:     userID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteSuccess(w, map[string]bool{"organization_deleted": orgDeleted})
}

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	var req orgs.CreateInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	invitation, err := s.deps.Orgs.CreateInvitation(ctx, orgID, &req, s.actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordInvitationTransition("pending")
	s.recordAudit(ctx, audit.Entry{
		ActorID:        s.session(r).UserID,
		OrganizationID: orgID,
		Action:         audit.ActionInvitationCreate,
		ResourceType:   "invitation",
		ResourceID:     invitation.ID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteCreated(w, invitation)
}

func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	invitations, err := s.deps.Orgs.ListInvitations(r.Context(), orgID, s.actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, invitations)
}

func (s *Server) cancelInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}
	invitationID, ok := httputil.ParsePathStringOrError(w, r, "invitationID")
	if !ok {
		return
	}

	ctx := r.Context()
	if err := s.deps.Orgs.CancelInvitation(ctx, orgID, invitationID, s.actor(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordInvitationTransition("canceled")
	s.recordAudit(ctx, audit.Entry{
		ActorID:        s.session(r).UserID,
		OrganizationID: orgID,
		Action:         audit.ActionInvitationCancel,
		ResourceType:   "invitation",
		ResourceID:     invitationID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteNoContent(w)
}

// getInvitation is unauthenticated: the recipient follows the emailed link
// before they have an account. The token itself is the credential.
func (s *Server) getInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	invitation, err := s.deps.Orgs.GetInvitationByToken(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, invitation)
}

func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	ctx := r.Context()
	info := s.session(r)
	member, err := s.deps.Orgs.AcceptInvitation(ctx, token, info.UserID, info.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	s.recordInvitationTransition("accepted")
	s.recordMembershipChange("add")
	s.recordAudit(ctx, audit.Entry{
		ActorID:        info.UserID,
		OrganizationID: member.OrganizationID,
		Action:         audit.ActionInvitationAccept,
		ResourceType:   "invitation",
		ResourceID:     member.ID,
		IPAddress:      httputil.ClientIP(r),
	})
	httputil.WriteCreated(w, member)
}

func (s *Server) listOrgAudit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
	if !ok {
		return
	}

	// Membership check; the audit recorder itself has no tenancy rules.
	if _, err := s.deps.Orgs.GetOrganization(r.Context(), orgID, s.actor(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if s.deps.Audit == nil {
		httputil.WriteSuccess(w, []*audit.Entry{})
		return
	}

	limit, offset := httputil.Pagination(r, 50, 200)
	entries, err := s.deps.Audit.ListByOrganization(r.Context(), orgID, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}
