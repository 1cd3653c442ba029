package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTeamHasProjects is returned when deleting a team that still owns
// projects; the FK on projects.owner_team_id is RESTRICT.
var ErrTeamHasProjects = errors.New("team still owns projects")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, NULLIF($6, ''), $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE email=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- Refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- Teams ----

// InsertTeam creates the team and its owner membership in one transaction
// so a team can never exist without an owner row.
func (s *PostgresStore) InsertTeam(ctx context.Context, team Team) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert team: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teams (id, name, owner_user_id)
		VALUES ($1, $2, $3)
	`, team.ID, team.Name, team.OwnerUserID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert team: %w", err)
	}
	if team.OwnerUserID != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_memberships (team_id, user_id, role)
			VALUES ($1, $2, 'owner')
			ON CONFLICT (team_id, user_id) DO UPDATE SET role='owner'
		`, team.ID, *team.OwnerUserID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert owner membership: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert team: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_user_id, created_at, updated_at
		FROM teams WHERE id=$1
	`, teamID).Scan(&team.ID, &team.Name, &team.OwnerUserID, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s *PostgresStore) ListTeamsForUser(ctx context.Context, userID string) ([]TeamSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.owner_user_id, t.created_at, t.updated_at, tm.role
		FROM team_memberships tm
		JOIN teams t ON t.id = tm.team_id
		WHERE tm.user_id=$1
		ORDER BY t.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list teams for user: %w", err)
	}
	defer rows.Close()

	items := make([]TeamSummary, 0)
	for rows.Next() {
		var item TeamSummary
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerUserID, &item.CreatedAt, &item.UpdatedAt, &item.CallerRole); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTeamName(ctx context.Context, teamID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE teams SET name=$2, updated_at=NOW() WHERE id=$1
	`, teamID, name)
	if err != nil {
		return fmt.Errorf("update team name: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTeam(ctx context.Context, teamID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id=$1`, teamID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrTeamHasProjects
		}
		return fmt.Errorf("delete team: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.team_id, tm.user_id, tm.role, tm.created_at, u.display_name, u.email
		FROM team_memberships tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id=$1
		ORDER BY tm.created_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMembership, 0)
	for rows.Next() {
		var item TeamMembership
		if err := rows.Scan(&item.TeamID, &item.UserID, &item.Role, &item.CreatedAt, &item.DisplayName, &item.Email); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM team_memberships WHERE team_id=$1 AND user_id=$2)
	`, teamID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetMembershipRole(ctx context.Context, teamID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM team_memberships WHERE team_id=$1 AND user_id=$2
	`, teamID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *PostgresStore) UpdateMembershipRole(ctx context.Context, teamID, userID, role string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE team_memberships SET role=$3
		WHERE team_id=$1 AND user_id=$2 AND role <> 'owner'
	`, teamID, userID, role)
	if err != nil {
		return false, fmt.Errorf("update membership role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update membership role rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, teamID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM team_memberships
		WHERE team_id=$1 AND user_id=$2 AND role <> 'owner'
	`, teamID, userID)
	if err != nil {
		return false, fmt.Errorf("delete membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete membership rows: %w", err)
	}
	return affected > 0, nil
}

// ---- Invitations ----

func (s *PostgresStore) InsertInvitation(ctx context.Context, invitation TeamInvitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_invitations (id, team_id, invited_by_user_id, invited_user_email, role, status, token, expires_at)
		VALUES ($1, $2, $3, LOWER($4), $5, 'pending', $6, $7)
	`, invitation.ID, invitation.TeamID, invitation.InvitedByUserID, invitation.InvitedUserEmail,
		invitation.Role, invitation.Token, invitation.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvitationByToken(ctx context.Context, token string) (TeamInvitation, error) {
	var item TeamInvitation
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.team_id, i.invited_by_user_id, i.invited_user_email, i.role, i.status,
			i.token, i.created_at, i.expires_at, i.accepted_at, i.accepted_by_user_id,
			t.name, COALESCE(u.display_name, '')
		FROM team_invitations i
		JOIN teams t ON t.id = i.team_id
		LEFT JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.token=$1
	`, token).Scan(&item.ID, &item.TeamID, &item.InvitedByUserID, &item.InvitedUserEmail, &item.Role,
		&item.Status, &item.Token, &item.CreatedAt, &item.ExpiresAt, &item.AcceptedAt,
		&item.AcceptedByUserID, &item.TeamName, &item.InviterName)
	if err != nil {
		return TeamInvitation{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTeamInvitations(ctx context.Context, teamID string) ([]TeamInvitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.team_id, i.invited_by_user_id, i.invited_user_email, i.role, i.status,
			i.token, i.created_at, i.expires_at, i.accepted_at, i.accepted_by_user_id,
			COALESCE(u.display_name, '')
		FROM team_invitations i
		LEFT JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.team_id=$1
		ORDER BY i.created_at DESC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]TeamInvitation, 0)
	for rows.Next() {
		var item TeamInvitation
		if err := rows.Scan(&item.ID, &item.TeamID, &item.InvitedByUserID, &item.InvitedUserEmail,
			&item.Role, &item.Status, &item.Token, &item.CreatedAt, &item.ExpiresAt,
			&item.AcceptedAt, &item.AcceptedByUserID, &item.InviterName); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

// MarkInvitationStatus sets the status outside any transaction; used for
// lazy expiry during read-only lookups.
func (s *PostgresStore) MarkInvitationStatus(ctx context.Context, invitationID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE team_invitations SET status=$2 WHERE id=$1 AND status='pending'
	`, invitationID, status)
	if err != nil {
		return fmt.Errorf("mark invitation %s: %w", status, err)
	}
	return nil
}

// InvitationTx is the unit of work available inside an invitation
// transaction. The row returned by GetInvitationForUpdate stays locked
// until the transaction ends, so two concurrent accepts serialize here.
type InvitationTx interface {
	GetInvitationForUpdate(ctx context.Context, token string) (TeamInvitation, error)
	MarkInvitationStatus(ctx context.Context, invitationID, status string) error
	MarkInvitationAccepted(ctx context.Context, invitationID, userID string) error
	UpsertMembership(ctx context.Context, teamID, userID, role string) error
	IsTeamMember(ctx context.Context, teamID, userID string) (bool, error)
}

// InvitationTransact runs fn inside a single transaction; any error rolls
// the whole unit back.
func (s *PostgresStore) InvitationTransact(ctx context.Context, fn func(tx InvitationTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin invitation tx: %w", err)
	}
	if err := fn(&invitationTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit invitation tx: %w", err)
	}
	return nil
}

type invitationTx struct {
	tx *sql.Tx
}

func (t *invitationTx) GetInvitationForUpdate(ctx context.Context, token string) (TeamInvitation, error) {
	var item TeamInvitation
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, team_id, invited_by_user_id, invited_user_email, role, status, token, created_at, expires_at
		FROM team_invitations
		WHERE token=$1
		FOR UPDATE
	`, token).Scan(&item.ID, &item.TeamID, &item.InvitedByUserID, &item.InvitedUserEmail,
		&item.Role, &item.Status, &item.Token, &item.CreatedAt, &item.ExpiresAt)
	if err != nil {
		return TeamInvitation{}, err
	}
	return item, nil
}

func (t *invitationTx) MarkInvitationStatus(ctx context.Context, invitationID, status string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE team_invitations SET status=$2 WHERE id=$1
	`, invitationID, status)
	if err != nil {
		return fmt.Errorf("mark invitation %s: %w", status, err)
	}
	return nil
}

func (t *invitationTx) MarkInvitationAccepted(ctx context.Context, invitationID, userID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE team_invitations
		SET status='accepted', accepted_at=NOW(), accepted_by_user_id=$2
		WHERE id=$1
	`, invitationID, userID)
	if err != nil {
		return fmt.Errorf("mark invitation accepted: %w", err)
	}
	return nil
}

func (t *invitationTx) UpsertMembership(ctx context.Context, teamID, userID, role string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO team_memberships (team_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, teamID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (t *invitationTx) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM team_memberships WHERE team_id=$1 AND user_id=$2)
	`, teamID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}
