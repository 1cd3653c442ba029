// Package invite owns the invitation state machine: a token moves from
// pending to exactly one of accepted, declined, revoked or expired, and
// never leaves a terminal state.
package invite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"slate/api/internal/authz"
	"slate/api/internal/rbac"
	"slate/api/internal/store"
	"slate/api/internal/util"
)

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
	StatusRevoked  = "revoked"
	StatusExpired  = "expired"
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidRole  = errors.New("invalid invitation role")
)

// Outcome is a business result, not a fault: expired, wrong-user and
// already-processed are expected conditions that need user-facing text,
// so they travel as values instead of errors.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TeamID  string `json:"teamId,omitempty"`
}

// Details is the unauthenticated landing-page view of an invitation. It
// exposes nothing beyond the one team the token belongs to.
type Details struct {
	TeamName     string    `json:"teamName"`
	InviterName  string    `json:"inviterName"`
	InvitedEmail string    `json:"invitedEmail"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	IsTeamMember(ctx context.Context, teamID, userID string) (bool, error)
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	InsertInvitation(ctx context.Context, invitation store.TeamInvitation) error
	GetInvitationByToken(ctx context.Context, token string) (store.TeamInvitation, error)
	ListTeamInvitations(ctx context.Context, teamID string) ([]store.TeamInvitation, error)
	MarkInvitationStatus(ctx context.Context, invitationID, status string) error
	InvitationTransact(ctx context.Context, fn func(tx store.InvitationTx) error) error
}

// Mailer delivers the invitation link out of band. Failure to send never
// rolls back invitation creation.
type Mailer interface {
	SendInvitation(ctx context.Context, toAddress, inviteLink, teamName, inviterName, role string) error
}

type Service struct {
	store        Store
	authz        *authz.Service
	mailer       Mailer
	appBaseURL   string
	expiryDays   int
	emailTimeout time.Duration
	now          func() time.Time
}

func New(dataStore Store, authzService *authz.Service, mailer Mailer, appBaseURL string, expiryDays int, emailTimeout time.Duration) *Service {
	if expiryDays <= 0 {
		expiryDays = 7
	}
	if emailTimeout <= 0 {
		emailTimeout = 10 * time.Second
	}
	return &Service{
		store:        dataStore,
		authz:        authzService,
		mailer:       mailer,
		appBaseURL:   strings.TrimRight(appBaseURL, "/"),
		expiryDays:   expiryDays,
		emailTimeout: emailTimeout,
		now:          time.Now,
	}
}

type CreateInput struct {
	TeamID        string
	CallerID      string
	InviterName   string
	InvitedEmail  string
	Role          string
	ExpiresInDays int
}

// Create records a pending invitation and sends the invite link. The
// email send is bounded by its own timeout and degrades: a failed send
// still returns the created invitation, flagged in the outcome message.
func (s *Service) Create(ctx context.Context, input CreateInput) (store.TeamInvitation, Outcome, error) {
	if err := s.authz.RequireTeamOwner(ctx, input.TeamID, input.CallerID); err != nil {
		return store.TeamInvitation{}, Outcome{}, err
	}

	email := strings.ToLower(strings.TrimSpace(input.InvitedEmail))
	if email == "" || !strings.Contains(email, "@") {
		return store.TeamInvitation{}, Outcome{}, ErrInvalidEmail
	}
	role := rbac.Role(strings.TrimSpace(input.Role))
	if role == "" {
		role = rbac.RoleMember
	}
	if !rbac.Valid(string(role)) || !rbac.Assignable(role) {
		return store.TeamInvitation{}, Outcome{}, ErrInvalidRole
	}

	if user, err := s.store.GetUserByEmail(ctx, email); err == nil {
		member, err := s.store.IsTeamMember(ctx, input.TeamID, user.ID)
		if err != nil {
			return store.TeamInvitation{}, Outcome{}, err
		}
		if member {
			return store.TeamInvitation{}, Outcome{
				Success: false,
				Message: "That user is already a member of this team.",
				TeamID:  input.TeamID,
			}, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.TeamInvitation{}, Outcome{}, err
	}

	days := input.ExpiresInDays
	if days <= 0 {
		days = s.expiryDays
	}
	invitation := store.TeamInvitation{
		ID:               util.NewID("inv"),
		TeamID:           input.TeamID,
		InvitedByUserID:  input.CallerID,
		InvitedUserEmail: email,
		Role:             string(role),
		Status:           StatusPending,
		Token:            util.NewToken(),
		ExpiresAt:        s.now().Add(time.Duration(days) * 24 * time.Hour),
	}
	if err := s.store.InsertInvitation(ctx, invitation); err != nil {
		return store.TeamInvitation{}, Outcome{}, err
	}

	team, err := s.store.GetTeam(ctx, input.TeamID)
	if err != nil {
		return store.TeamInvitation{}, Outcome{}, err
	}

	outcome := Outcome{Success: true, Message: "Invitation sent.", TeamID: input.TeamID}
	link := s.appBaseURL + "/accept-invite?token=" + invitation.Token
	sendCtx, cancel := context.WithTimeout(ctx, s.emailTimeout)
	defer cancel()
	if err := s.mailer.SendInvitation(sendCtx, email, link, team.Name, input.InviterName, string(role)); err != nil {
		log.Printf("invite: email to %s failed: %v", email, err)
		outcome.Message = "Invitation created, but the email could not be delivered."
	}
	return invitation, outcome, nil
}

// LookupByToken backs the unauthenticated landing page. Unknown or
// malformed tokens return nil with no error. A pending invitation past
// its expiry is marked expired here, lazily.
func (s *Service) LookupByToken(ctx context.Context, token string) (*Details, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	invitation, err := s.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup invitation: %w", err)
	}

	status := invitation.Status
	if status == StatusPending && s.now().After(invitation.ExpiresAt) {
		status = StatusExpired
		if err := s.store.MarkInvitationStatus(ctx, invitation.ID, StatusExpired); err != nil {
			log.Printf("invite: lazy expiry of %s failed: %v", invitation.ID, err)
		}
	}
	return &Details{
		TeamName:     invitation.TeamName,
		InviterName:  invitation.InviterName,
		InvitedEmail: invitation.InvitedUserEmail,
		Role:         invitation.Role,
		Status:       status,
		ExpiresAt:    invitation.ExpiresAt,
	}, nil
}

// List returns a team's invitations, newest first. Owner only.
func (s *Service) List(ctx context.Context, teamID, callerID string) ([]store.TeamInvitation, error) {
	if err := s.authz.RequireTeamOwner(ctx, teamID, callerID); err != nil {
		return nil, err
	}
	return s.store.ListTeamInvitations(ctx, teamID)
}

// decision is the pure verdict for one accept or decline attempt; apply
// happens inside the surrounding transaction.
type decision struct {
	outcome    Outcome
	markStatus string // status to write, empty means leave untouched
	join       bool   // upsert the membership row
}

// decideAccept evaluates an accept attempt against the locked invitation
// row. It touches no storage, which keeps every branch directly testable.
func decideAccept(invitation store.TeamInvitation, userEmail string, alreadyMember bool, now time.Time) decision {
	if !strings.EqualFold(strings.TrimSpace(userEmail), invitation.InvitedUserEmail) {
		return decision{outcome: Outcome{
			Success: false,
			Message: "This invitation was sent to a different email address.",
		}}
	}
	switch invitation.Status {
	case StatusAccepted:
		if alreadyMember {
			return decision{outcome: Outcome{
				Success: true,
				Message: "You are already a member of this team.",
				TeamID:  invitation.TeamID,
			}}
		}
		return decision{outcome: Outcome{
			Success: false,
			Message: "This invitation has already been accepted.",
		}}
	case StatusDeclined:
		return decision{outcome: Outcome{Success: false, Message: "This invitation was declined."}}
	case StatusRevoked:
		return decision{outcome: Outcome{Success: false, Message: "This invitation has been revoked."}}
	case StatusExpired:
		return decision{outcome: Outcome{Success: false, Message: "This invitation has expired."}}
	case StatusPending:
		if now.After(invitation.ExpiresAt) {
			return decision{
				outcome:    Outcome{Success: false, Message: "This invitation has expired."},
				markStatus: StatusExpired,
			}
		}
		return decision{
			outcome:    Outcome{Success: true, Message: "Invitation accepted.", TeamID: invitation.TeamID},
			markStatus: StatusAccepted,
			join:       true,
		}
	default:
		return decision{outcome: Outcome{Success: false, Message: "This invitation is no longer valid."}}
	}
}

// Accept runs the membership insert and the status transition inside one
// transaction, against a row lock taken on the invitation. Two racing
// accepts serialize on the lock: the first one wins, the second observes
// accepted and reports the business failure.
func (s *Service) Accept(ctx context.Context, token string, user store.User) (Outcome, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Outcome{Success: false, Message: "Invitation not found."}, nil
	}

	var outcome Outcome
	err := s.store.InvitationTransact(ctx, func(tx store.InvitationTx) error {
		invitation, err := tx.GetInvitationForUpdate(ctx, token)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = Outcome{Success: false, Message: "Invitation not found."}
			return nil
		}
		if err != nil {
			return fmt.Errorf("load invitation: %w", err)
		}

		alreadyMember, err := tx.IsTeamMember(ctx, invitation.TeamID, user.ID)
		if err != nil {
			return err
		}

		verdict := decideAccept(invitation, user.Email, alreadyMember, s.now())
		outcome = verdict.outcome

		if verdict.join {
			if err := tx.UpsertMembership(ctx, invitation.TeamID, user.ID, invitation.Role); err != nil {
				return err
			}
			if err := tx.MarkInvitationAccepted(ctx, invitation.ID, user.ID); err != nil {
				return err
			}
			return nil
		}
		if verdict.markStatus != "" {
			return tx.MarkInvitationStatus(ctx, invitation.ID, verdict.markStatus)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// decideDecline mirrors decideAccept for the decline transition.
// Re-declining an already-declined invitation reports success.
func decideDecline(invitation store.TeamInvitation, callerEmail string, now time.Time) decision {
	if !strings.EqualFold(strings.TrimSpace(callerEmail), invitation.InvitedUserEmail) {
		return decision{outcome: Outcome{
			Success: false,
			Message: "This invitation was sent to a different email address.",
		}}
	}
	switch invitation.Status {
	case StatusDeclined:
		return decision{outcome: Outcome{Success: true, Message: "This invitation was already declined."}}
	case StatusAccepted:
		return decision{outcome: Outcome{Success: false, Message: "This invitation has already been accepted."}}
	case StatusRevoked:
		return decision{outcome: Outcome{Success: false, Message: "This invitation has been revoked."}}
	case StatusExpired:
		return decision{outcome: Outcome{Success: false, Message: "This invitation has expired."}}
	case StatusPending:
		if now.After(invitation.ExpiresAt) {
			return decision{
				outcome:    Outcome{Success: false, Message: "This invitation has expired."},
				markStatus: StatusExpired,
			}
		}
		return decision{
			outcome:    Outcome{Success: true, Message: "Invitation declined."},
			markStatus: StatusDeclined,
		}
	default:
		return decision{outcome: Outcome{Success: false, Message: "This invitation is no longer valid."}}
	}
}

func (s *Service) Decline(ctx context.Context, token, callerEmail string) (Outcome, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Outcome{Success: false, Message: "Invitation not found."}, nil
	}

	var outcome Outcome
	err := s.store.InvitationTransact(ctx, func(tx store.InvitationTx) error {
		invitation, err := tx.GetInvitationForUpdate(ctx, token)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = Outcome{Success: false, Message: "Invitation not found."}
			return nil
		}
		if err != nil {
			return fmt.Errorf("load invitation: %w", err)
		}

		verdict := decideDecline(invitation, callerEmail, s.now())
		outcome = verdict.outcome
		if verdict.markStatus != "" {
			return tx.MarkInvitationStatus(ctx, invitation.ID, verdict.markStatus)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// Revoke withdraws a pending invitation. Only the team owner may revoke;
// revoking an already-revoked invitation reports success.
func (s *Service) Revoke(ctx context.Context, token, callerID string) (Outcome, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Outcome{Success: false, Message: "Invitation not found."}, nil
	}
	invitation, err := s.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return Outcome{Success: false, Message: "Invitation not found."}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup invitation: %w", err)
	}
	if err := s.authz.RequireTeamOwner(ctx, invitation.TeamID, callerID); err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	err = s.store.InvitationTransact(ctx, func(tx store.InvitationTx) error {
		locked, err := tx.GetInvitationForUpdate(ctx, token)
		if err != nil {
			return fmt.Errorf("load invitation: %w", err)
		}
		switch locked.Status {
		case StatusRevoked:
			outcome = Outcome{Success: true, Message: "This invitation was already revoked."}
			return nil
		case StatusPending:
			outcome = Outcome{Success: true, Message: "Invitation revoked."}
			return tx.MarkInvitationStatus(ctx, locked.ID, StatusRevoked)
		default:
			outcome = Outcome{
				Success: false,
				Message: fmt.Sprintf("This invitation is already %s.", locked.Status),
			}
			return nil
		}
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}
