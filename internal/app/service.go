package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"slate/api/internal/auth"
	"slate/api/internal/authpw"
	"slate/api/internal/authz"
	"slate/api/internal/config"
	"slate/api/internal/invite"
	"slate/api/internal/rbac"
	"slate/api/internal/store"
	"slate/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertTeam(ctx context.Context, team store.Team) error
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	ListTeamsForUser(ctx context.Context, userID string) ([]store.TeamSummary, error)
	UpdateTeamName(ctx context.Context, teamID, name string) error
	DeleteTeam(ctx context.Context, teamID string) error
	ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMembership, error)
	UpdateMembershipRole(ctx context.Context, teamID, userID, role string) (bool, error)
	DeleteMembership(ctx context.Context, teamID, userID string) (bool, error)

	InsertProject(ctx context.Context, project store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjectsForTeam(ctx context.Context, teamID string) ([]store.Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]store.Project, error)
	UpdateProjectName(ctx context.Context, projectID, name string) error
	DeleteProject(ctx context.Context, projectID string) error

	GetTreatment(ctx context.Context, projectID string) (store.Treatment, error)
	UpsertTreatment(ctx context.Context, item store.Treatment) error
	GetBusinessDetails(ctx context.Context, projectID string) (store.BusinessDetails, error)
	UpsertBusinessDetails(ctx context.Context, item store.BusinessDetails) error
	EnsureSpecSection(ctx context.Context, kind, id, projectID string) error

	ListOrderedItems(ctx context.Context, kind, projectID string) ([]store.OrderedItem, error)
	InsertOrderedItem(ctx context.Context, kind string, item store.OrderedItem) error
	UpdateOrderedItem(ctx context.Context, kind, projectID, itemID, description string) (bool, error)
	DeleteOrderedItem(ctx context.Context, kind, projectID, itemID string) (bool, error)
	ReorderItems(ctx context.Context, kind, projectID string, ids []string) error

	InsertFeedback(ctx context.Context, item store.FeedbackEntry) error
	ListFeedback(ctx context.Context, projectID string) ([]store.FeedbackEntry, error)
	DeleteFeedback(ctx context.Context, projectID, feedbackID string) (bool, error)

	InsertAsset(ctx context.Context, item store.Asset) error
	GetAsset(ctx context.Context, projectID, assetID string) (store.Asset, error)
	ListAssets(ctx context.Context, projectID string) ([]store.Asset, error)
	DeleteAsset(ctx context.Context, projectID, assetID string) (bool, error)
}

// sessionStore holds refresh tokens. Redis is the preferred backend;
// the Postgres store satisfies the same interface as a fallback.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// blobStore is the object-storage boundary for project assets.
type blobStore interface {
	Upload(ctx context.Context, objectPath string, reader io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, objectPath string) error
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// mailer is implemented by the SMTP email service.
type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(ctx context.Context, to, userName, verificationURL string) error
	SendPasswordResetEmail(ctx context.Context, to, userName, resetURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authz    *authz.Service
	invites  *invite.Service
	progress progressAggregator
	search   searcher
	exporter exporter
	assets   blobStore
	authpw   *authpw.Service
	mailer   mailer
}

type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Authz    *authz.Service
	Invites  *invite.Service
	Progress progressAggregator
	Search   searcher
	Exporter exporter
	Assets   blobStore
	AuthPW   *authpw.Service
	Mailer   mailer
}

func NewService(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		authz:    deps.Authz,
		invites:  deps.Invites,
		progress: deps.Progress,
		search:   deps.Search,
		exporter: deps.Exporter,
		assets:   deps.Assets,
		authpw:   deps.AuthPW,
		mailer:   deps.Mailer,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// sendVerificationEmail delivers the signup verification link without
// blocking the request.
func (s *Service) sendVerificationEmail(email, userName, token string) {
	link := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/verify-email?token=" + token
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EmailTimeout)
		defer cancel()
		if err := s.mailer.SendVerificationEmail(ctx, email, userName, link); err != nil {
			log.Printf("app: verification email to %s failed: %v", email, err)
		}
	}()
}

func (s *Service) sendPasswordResetEmail(email, token string) {
	link := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EmailTimeout)
		defer cancel()
		if err := s.mailer.SendPasswordResetEmail(ctx, email, email, link); err != nil {
			log.Printf("app: password reset email to %s failed: %v", email, err)
		}
	}()
}

// ── Sessions ──

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The Redis backend stores only the user id; fill in the rest.
	if user.Email == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── Teams ──

func (s *Service) CreateTeam(ctx context.Context, name, callerID string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Team name is required", nil)
	}
	team := store.Team{
		ID:          util.NewID("team"),
		Name:        name,
		OwnerUserID: &callerID,
	}
	if err := s.store.InsertTeam(ctx, team); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":   team.ID,
		"name": team.Name,
		"role": string(rbac.RoleOwner),
	}, nil
}

func (s *Service) ListTeams(ctx context.Context, callerID string) ([]map[string]any, error) {
	teams, err := s.store.ListTeamsForUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(teams))
	for _, team := range teams {
		items = append(items, map[string]any{
			"id":   team.ID,
			"name": team.Name,
			"role": team.CallerRole,
		})
	}
	return items, nil
}

func (s *Service) GetTeam(ctx context.Context, teamID, callerID string) (map[string]any, error) {
	if err := s.authz.RequireTeamMember(ctx, teamID, callerID); err != nil {
		return nil, err
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	memberItems := make([]map[string]any, 0, len(members))
	for _, m := range members {
		memberItems = append(memberItems, map[string]any{
			"userId":      m.UserID,
			"displayName": m.DisplayName,
			"email":       m.Email,
			"role":        m.Role,
		})
	}
	return map[string]any{
		"id":      team.ID,
		"name":    team.Name,
		"members": memberItems,
	}, nil
}

func (s *Service) RenameTeam(ctx context.Context, teamID, name, callerID string) (map[string]any, error) {
	if err := s.authz.RequireTeamOwner(ctx, teamID, callerID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Team name is required", nil)
	}
	if err := s.store.UpdateTeamName(ctx, teamID, name); err != nil {
		return nil, err
	}
	return map[string]any{"id": teamID, "name": name}, nil
}

func (s *Service) DeleteTeam(ctx context.Context, teamID, callerID string) error {
	if err := s.authz.RequireTeamOwner(ctx, teamID, callerID); err != nil {
		return err
	}
	if err := s.store.DeleteTeam(ctx, teamID); err != nil {
		if errors.Is(err, store.ErrTeamHasProjects) {
			return domainError(http.StatusConflict, "TEAM_NOT_EMPTY", "Delete or move the team's projects first", nil)
		}
		return err
	}
	return nil
}

func (s *Service) ListTeamMembers(ctx context.Context, teamID, callerID string) ([]map[string]any, error) {
	if err := s.authz.RequireTeamMember(ctx, teamID, callerID); err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, map[string]any{
			"userId":      m.UserID,
			"displayName": m.DisplayName,
			"email":       m.Email,
			"role":        m.Role,
			"joinedAt":    m.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, teamID, memberID, role, callerID string) error {
	if err := s.authz.RequireTeamOwner(ctx, teamID, callerID); err != nil {
		return err
	}
	normalized := rbac.Role(strings.TrimSpace(role))
	if !rbac.Valid(string(normalized)) || !rbac.Assignable(normalized) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Role must be admin or member", nil)
	}
	changed, err := s.store.UpdateMembershipRole(ctx, teamID, memberID, string(normalized))
	if err != nil {
		return err
	}
	if !changed {
		return domainError(http.StatusConflict, "ROLE_UNCHANGED", "The owner's role cannot be changed, and the member must exist", nil)
	}
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, teamID, memberID, callerID string) error {
	if err := s.authz.RequireTeamOwner(ctx, teamID, callerID); err != nil {
		return err
	}
	removed, err := s.store.DeleteMembership(ctx, teamID, memberID)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(http.StatusConflict, "MEMBER_NOT_REMOVED", "The owner cannot be removed, and the member must exist", nil)
	}
	return nil
}

// ── Invitations ──

func (s *Service) CreateInvitation(ctx context.Context, teamID string, session Session, email, role string, expiresInDays int) (map[string]any, error) {
	invitation, outcome, err := s.invites.Create(ctx, invite.CreateInput{
		TeamID:        teamID,
		CallerID:      session.UserID,
		InviterName:   session.UserName,
		InvitedEmail:  email,
		Role:          role,
		ExpiresInDays: expiresInDays,
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Success {
		return map[string]any{"outcome": outcome}, nil
	}
	return map[string]any{
		"outcome": outcome,
		"invitation": map[string]any{
			"id":        invitation.ID,
			"email":     invitation.InvitedUserEmail,
			"role":      invitation.Role,
			"status":    invitation.Status,
			"expiresAt": invitation.ExpiresAt,
		},
	}, nil
}

func (s *Service) ListInvitations(ctx context.Context, teamID, callerID string) ([]map[string]any, error) {
	invitations, err := s.invites.List(ctx, teamID, callerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invitations))
	for _, inv := range invitations {
		items = append(items, map[string]any{
			"id":        inv.ID,
			"email":     inv.InvitedUserEmail,
			"role":      inv.Role,
			"status":    inv.Status,
			"invitedBy": inv.InviterName,
			"createdAt": inv.CreatedAt,
			"expiresAt": inv.ExpiresAt,
		})
	}
	return items, nil
}

func (s *Service) LookupInvitation(ctx context.Context, token string) (*invite.Details, error) {
	return s.invites.LookupByToken(ctx, token)
}

func (s *Service) AcceptInvitation(ctx context.Context, token string, session Session) (invite.Outcome, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return invite.Outcome{}, err
	}
	return s.invites.Accept(ctx, token, user)
}

func (s *Service) DeclineInvitation(ctx context.Context, token string, session Session) (invite.Outcome, error) {
	return s.invites.Decline(ctx, token, session.Email)
}

func (s *Service) RevokeInvitation(ctx context.Context, token string, session Session) (invite.Outcome, error) {
	return s.invites.Revoke(ctx, token, session.UserID)
}
