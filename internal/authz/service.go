package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"slate/api/internal/rbac"
)

var (
	// ErrUnauthorized means the caller has no authenticated identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller is authenticated but lacks access.
	ErrForbidden = errors.New("forbidden")
)

// Store is the membership lookup surface the authorization checks run on.
type Store interface {
	IsTeamMember(ctx context.Context, teamID, userID string) (bool, error)
	GetMembershipRole(ctx context.Context, teamID, userID string) (string, error)
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
	GetProjectRole(ctx context.Context, projectID, userID string) (string, error)
}

// Service answers membership and ownership questions. Every check fails
// closed: a store error or unknown id reads as "no access", never as a
// grant.
type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	if teamID == "" || userID == "" {
		return false, nil
	}
	ok, err := s.store.IsTeamMember(ctx, teamID, userID)
	if err != nil {
		return false, fmt.Errorf("team membership check: %w", err)
	}
	return ok, nil
}

func (s *Service) IsTeamOwner(ctx context.Context, teamID, userID string) (bool, error) {
	if teamID == "" || userID == "" {
		return false, nil
	}
	role, err := s.store.GetMembershipRole(ctx, teamID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("team owner check: %w", err)
	}
	return rbac.Role(role) == rbac.RoleOwner, nil
}

func (s *Service) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	if projectID == "" || userID == "" {
		return false, nil
	}
	ok, err := s.store.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("project membership check: %w", err)
	}
	return ok, nil
}

func (s *Service) IsProjectOwner(ctx context.Context, projectID, userID string) (bool, error) {
	if projectID == "" || userID == "" {
		return false, nil
	}
	role, err := s.store.GetProjectRole(ctx, projectID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("project owner check: %w", err)
	}
	return rbac.Role(role) == rbac.RoleOwner, nil
}

// TeamRole returns the caller's role in the team, or ErrForbidden when
// there is no membership.
func (s *Service) TeamRole(ctx context.Context, teamID, userID string) (rbac.Role, error) {
	if teamID == "" || userID == "" {
		return "", ErrForbidden
	}
	role, err := s.store.GetMembershipRole(ctx, teamID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrForbidden
	}
	if err != nil {
		return "", fmt.Errorf("team role lookup: %w", err)
	}
	return rbac.Role(role), nil
}

// RequireTeamMember returns ErrForbidden unless the user belongs to the
// team.
func (s *Service) RequireTeamMember(ctx context.Context, teamID, userID string) error {
	ok, err := s.IsTeamMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// RequireTeamOwner returns ErrForbidden unless the user holds the owner
// role in the team.
func (s *Service) RequireTeamOwner(ctx context.Context, teamID, userID string) error {
	ok, err := s.IsTeamOwner(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// RequireProjectMember returns ErrForbidden unless the user belongs to
// the project's owning team.
func (s *Service) RequireProjectMember(ctx context.Context, projectID, userID string) error {
	ok, err := s.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// RequireProjectOwner returns ErrForbidden unless the user owns the
// project's owning team.
func (s *Service) RequireProjectOwner(ctx context.Context, projectID, userID string) error {
	ok, err := s.IsProjectOwner(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// RequireTeamAction checks the caller's team role against the action
// table. Missing membership and insufficient role both read as
// ErrForbidden.
func (s *Service) RequireTeamAction(ctx context.Context, teamID, userID string, action rbac.Action) error {
	role, err := s.TeamRole(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !rbac.Can(rbac.Normalize(string(role)), action) {
		return ErrForbidden
	}
	return nil
}
