package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"slate/api/internal/store"
)

// fakeStore is the in-memory stand-in for PostgresStore shared by the
// app tests. It implements every interface the service constellation
// needs: data store, session store, authorization reads, invitation
// transactions and progress probes.
type fakeStore struct {
	mu sync.Mutex

	pingErr error

	users       map[string]store.User                  // by id
	teams       map[string]store.Team                  // by id
	memberships map[string]map[string]string           // teamID -> userID -> role
	invitations map[string]store.TeamInvitation        // by token
	projects    map[string]store.Project               // by id
	treatments  map[string]store.Treatment             // by projectID
	business    map[string]store.BusinessDetails       // by projectID
	specs       map[string]map[string]bool             // kind -> projectID
	ordered     map[string]map[string][]store.OrderedItem // kind -> projectID -> items
	feedback    map[string][]store.FeedbackEntry       // by projectID
	assets      map[string][]store.Asset               // by projectID
	refresh     map[string]string                      // tokenHash -> userID
	resets      map[string]string                      // token -> userID
	usedResets  map[string]bool
	revokedJTIs map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		teams:       map[string]store.Team{},
		memberships: map[string]map[string]string{},
		invitations: map[string]store.TeamInvitation{},
		projects:    map[string]store.Project{},
		treatments:  map[string]store.Treatment{},
		business:    map[string]store.BusinessDetails{},
		specs:       map[string]map[string]bool{},
		ordered:     map[string]map[string][]store.OrderedItem{},
		feedback:    map[string][]store.FeedbackEntry{},
		assets:      map[string][]store.Asset{},
		refresh:     map[string]string{},
		resets:      map[string]string{},
		usedResets:  map[string]bool{},
		revokedJTIs: map[string]bool{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

// ── Users ──

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return errors.New("invalid or expired verification token")
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok || f.usedResets[token] {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usedResets[token] = true
	return nil
}

// ── Tokens and refresh sessions ──

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTIs[jti], nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	userID, ok := f.refresh[tokenHash]
	f.mu.Unlock()
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.GetUserByID(ctx, userID)
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

// ── Teams and memberships ──

func (f *fakeStore) InsertTeam(ctx context.Context, team store.Team) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams[team.ID] = team
	if team.OwnerUserID != nil {
		f.memberships[team.ID] = map[string]string{*team.OwnerUserID: "owner"}
	}
	return nil
}

func (f *fakeStore) GetTeam(ctx context.Context, teamID string) (store.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	team, ok := f.teams[teamID]
	if !ok {
		return store.Team{}, sql.ErrNoRows
	}
	return team, nil
}

func (f *fakeStore) ListTeamsForUser(ctx context.Context, userID string) ([]store.TeamSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var summaries []store.TeamSummary
	for teamID, members := range f.memberships {
		if role, ok := members[userID]; ok {
			summaries = append(summaries, store.TeamSummary{Team: f.teams[teamID], CallerRole: role})
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}

func (f *fakeStore) UpdateTeamName(ctx context.Context, teamID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	team, ok := f.teams[teamID]
	if !ok {
		return sql.ErrNoRows
	}
	team.Name = name
	f.teams[teamID] = team
	return nil
}

func (f *fakeStore) DeleteTeam(ctx context.Context, teamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, project := range f.projects {
		if project.OwnerTeamID == teamID {
			return store.ErrTeamHasProjects
		}
	}
	delete(f.teams, teamID)
	delete(f.memberships, teamID)
	return nil
}

func (f *fakeStore) ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []store.TeamMembership
	for userID, role := range f.memberships[teamID] {
		user := f.users[userID]
		members = append(members, store.TeamMembership{
			TeamID:      teamID,
			UserID:      userID,
			Role:        role,
			DisplayName: user.DisplayName,
			Email:       user.Email,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}

func (f *fakeStore) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.memberships[teamID][userID]
	return ok, nil
}

func (f *fakeStore) GetMembershipRole(ctx context.Context, teamID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.memberships[teamID][userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return role, nil
}

func (f *fakeStore) UpdateMembershipRole(ctx context.Context, teamID, userID, role string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.memberships[teamID][userID]
	if !ok || current == "owner" {
		return false, nil
	}
	f.memberships[teamID][userID] = role
	return true, nil
}

func (f *fakeStore) DeleteMembership(ctx context.Context, teamID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.memberships[teamID][userID]
	if !ok || current == "owner" {
		return false, nil
	}
	delete(f.memberships[teamID], userID)
	return true, nil
}

// ── Invitations ──

func (f *fakeStore) InsertInvitation(ctx context.Context, invitation store.TeamInvitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if team, ok := f.teams[invitation.TeamID]; ok {
		invitation.TeamName = team.Name
	}
	if inviter, ok := f.users[invitation.InvitedByUserID]; ok {
		invitation.InviterName = inviter.DisplayName
	}
	f.invitations[invitation.Token] = invitation
	return nil
}

func (f *fakeStore) GetInvitationByToken(ctx context.Context, token string) (store.TeamInvitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invitation, ok := f.invitations[token]
	if !ok {
		return store.TeamInvitation{}, sql.ErrNoRows
	}
	return invitation, nil
}

func (f *fakeStore) ListTeamInvitations(ctx context.Context, teamID string) ([]store.TeamInvitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.TeamInvitation
	for _, invitation := range f.invitations {
		if invitation.TeamID == teamID {
			items = append(items, invitation)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) MarkInvitationStatus(ctx context.Context, invitationID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, invitation := range f.invitations {
		if invitation.ID == invitationID && invitation.Status == "pending" {
			invitation.Status = status
			f.invitations[token] = invitation
		}
	}
	return nil
}

type fakeInvitationTx struct {
	f *fakeStore
}

func (t *fakeInvitationTx) GetInvitationForUpdate(ctx context.Context, token string) (store.TeamInvitation, error) {
	invitation, ok := t.f.invitations[token]
	if !ok {
		return store.TeamInvitation{}, sql.ErrNoRows
	}
	return invitation, nil
}

func (t *fakeInvitationTx) MarkInvitationStatus(ctx context.Context, invitationID, status string) error {
	for token, invitation := range t.f.invitations {
		if invitation.ID == invitationID && invitation.Status == "pending" {
			invitation.Status = status
			t.f.invitations[token] = invitation
		}
	}
	return nil
}

func (t *fakeInvitationTx) MarkInvitationAccepted(ctx context.Context, invitationID, userID string) error {
	now := time.Now()
	for token, invitation := range t.f.invitations {
		if invitation.ID == invitationID && invitation.Status == "pending" {
			invitation.Status = "accepted"
			invitation.AcceptedAt = &now
			invitation.AcceptedByUserID = &userID
			t.f.invitations[token] = invitation
		}
	}
	return nil
}

func (t *fakeInvitationTx) UpsertMembership(ctx context.Context, teamID, userID, role string) error {
	if t.f.memberships[teamID] == nil {
		t.f.memberships[teamID] = map[string]string{}
	}
	if _, ok := t.f.memberships[teamID][userID]; !ok {
		t.f.memberships[teamID][userID] = role
	}
	return nil
}

func (t *fakeInvitationTx) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	_, ok := t.f.memberships[teamID][userID]
	return ok, nil
}

// InvitationTransact holds the store lock for the whole callback,
// mirroring the row lock the real store takes.
func (f *fakeStore) InvitationTransact(ctx context.Context, fn func(tx store.InvitationTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(&fakeInvitationTx{f: f})
}

// ── Projects ──

func (f *fakeStore) InsertProject(ctx context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if team, ok := f.teams[project.OwnerTeamID]; ok {
		project.TeamName = team.Name
	}
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (f *fakeStore) ListProjectsForTeam(ctx context.Context, teamID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Project
	for _, project := range f.projects {
		if project.OwnerTeamID == teamID {
			items = append(items, project)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) ListProjectsForUser(ctx context.Context, userID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Project
	for _, project := range f.projects {
		if _, ok := f.memberships[project.OwnerTeamID][userID]; ok {
			items = append(items, project)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) UpdateProjectName(ctx context.Context, projectID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	project.Name = name
	f.projects[projectID] = project
	return nil
}

func (f *fakeStore) DeleteProject(ctx context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, projectID)
	return nil
}

func (f *fakeStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return false, nil
	}
	_, member := f.memberships[project.OwnerTeamID][userID]
	return member, nil
}

func (f *fakeStore) GetProjectRole(ctx context.Context, projectID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return "", sql.ErrNoRows
	}
	role, member := f.memberships[project.OwnerTeamID][userID]
	if !member {
		return "", sql.ErrNoRows
	}
	return role, nil
}

// ── Sub-documents ──

func (f *fakeStore) GetTreatment(ctx context.Context, projectID string) (store.Treatment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	treatment, ok := f.treatments[projectID]
	if !ok {
		return store.Treatment{}, sql.ErrNoRows
	}
	return treatment, nil
}

func (f *fakeStore) UpsertTreatment(ctx context.Context, item store.Treatment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.treatments[item.ProjectID] = item
	return nil
}

func (f *fakeStore) GetBusinessDetails(ctx context.Context, projectID string) (store.BusinessDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	details, ok := f.business[projectID]
	if !ok {
		return store.BusinessDetails{}, sql.ErrNoRows
	}
	return details, nil
}

func (f *fakeStore) UpsertBusinessDetails(ctx context.Context, item store.BusinessDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.business[item.ProjectID] = item
	return nil
}

func (f *fakeStore) EnsureSpecSection(ctx context.Context, kind, id, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.specs[kind] == nil {
		f.specs[kind] = map[string]bool{}
	}
	f.specs[kind][projectID] = true
	return nil
}

func (f *fakeStore) HasSpecSection(ctx context.Context, kind, projectID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[kind][projectID], nil
}

// ── Ordered items ──

func (f *fakeStore) ListOrderedItems(ctx context.Context, kind, projectID string) ([]store.OrderedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := append([]store.OrderedItem(nil), f.ordered[kind][projectID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].OrderIndex < items[j].OrderIndex })
	return items, nil
}

func (f *fakeStore) InsertOrderedItem(ctx context.Context, kind string, item store.OrderedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ordered[kind] == nil {
		f.ordered[kind] = map[string][]store.OrderedItem{}
	}
	item.OrderIndex = len(f.ordered[kind][item.ProjectID]) + 1
	f.ordered[kind][item.ProjectID] = append(f.ordered[kind][item.ProjectID], item)
	return nil
}

func (f *fakeStore) UpdateOrderedItem(ctx context.Context, kind, projectID, itemID, description string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.ordered[kind][projectID]
	for i := range items {
		if items[i].ID == itemID {
			items[i].Description = description
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteOrderedItem(ctx context.Context, kind, projectID, itemID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.ordered[kind][projectID]
	for i := range items {
		if items[i].ID == itemID {
			f.ordered[kind][projectID] = append(items[:i], items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ReorderItems(ctx context.Context, kind, projectID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.ordered[kind][projectID]
	position := map[string]int{}
	for index, id := range ids {
		position[id] = index + 1
	}
	for i := range items {
		if p, ok := position[items[i].ID]; ok {
			items[i].OrderIndex = p
		}
	}
	return nil
}

func (f *fakeStore) CountOrderedItems(ctx context.Context, kind, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ordered[kind][projectID]), nil
}

// ── Feedback ──

func (f *fakeStore) InsertFeedback(ctx context.Context, item store.FeedbackEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.LoggedAt = time.Now()
	f.feedback[item.ProjectID] = append(f.feedback[item.ProjectID], item)
	return nil
}

func (f *fakeStore) ListFeedback(ctx context.Context, projectID string) ([]store.FeedbackEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.FeedbackEntry(nil), f.feedback[projectID]...), nil
}

func (f *fakeStore) DeleteFeedback(ctx context.Context, projectID, feedbackID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.feedback[projectID]
	for i := range entries {
		if entries[i].ID == feedbackID {
			f.feedback[projectID] = append(entries[:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountFeedback(ctx context.Context, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feedback[projectID]), nil
}

// ── Assets ──

func (f *fakeStore) InsertAsset(ctx context.Context, item store.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[item.ProjectID] = append(f.assets[item.ProjectID], item)
	return nil
}

func (f *fakeStore) GetAsset(ctx context.Context, projectID, assetID string) (store.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, asset := range f.assets[projectID] {
		if asset.ID == assetID {
			return asset, nil
		}
	}
	return store.Asset{}, sql.ErrNoRows
}

func (f *fakeStore) ListAssets(ctx context.Context, projectID string) ([]store.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Asset(nil), f.assets[projectID]...), nil
}

func (f *fakeStore) DeleteAsset(ctx context.Context, projectID, assetID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.assets[projectID]
	for i := range items {
		if items[i].ID == assetID {
			f.assets[projectID] = append(items[:i], items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
