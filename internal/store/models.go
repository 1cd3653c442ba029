package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Team struct {
	ID          string
	Name        string
	OwnerUserID *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type TeamMembership struct {
	TeamID    string
	UserID    string
	Role      string
	CreatedAt time.Time
	// Joined fields for member listings
	DisplayName string
	Email       string
}

// TeamSummary is a team row joined with the caller's role, used for the
// dashboard team list.
type TeamSummary struct {
	Team
	CallerRole string
}

type TeamInvitation struct {
	ID               string
	TeamID           string
	InvitedByUserID  string
	InvitedUserEmail string
	Role             string
	Status           string
	Token            string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	AcceptedAt       *time.Time
	AcceptedByUserID *string
	// Joined fields
	TeamName    string
	InviterName string
}

type Project struct {
	ID          string
	Name        string
	OwnerTeamID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined field
	TeamName string
}

type Treatment struct {
	ID                       string
	ProjectID                string
	Tagline                  string
	Synopsis                 string
	BackstoryContext         string
	CharacterizationAttitude string
	UpdatedAt                time.Time
}

type BusinessDetails struct {
	ID                string
	ProjectID         string
	GoalsUser         string
	GoalsCreative     string
	GoalsEconomic     string
	SuccessIndicators string
	TargetAudience    string
	UserNeed          string
	BusinessModels    string
	UpdatedAt         time.Time
}

// OrderedItem backs both plot points and user scenarios: short ordered
// text entries keyed by project.
type OrderedItem struct {
	ID          string
	ProjectID   string
	Description string
	OrderIndex  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type FeedbackEntry struct {
	ID                    string
	ProjectID             string
	SharedItemDescription string
	PlatformSource        string
	FeedbackReceived      string
	LoggedByUserID        *string
	LoggedAt              time.Time
}

type Asset struct {
	ID               string
	ProjectID        string
	FileName         string
	FilePath         string
	FileType         string
	AssetCategory    string
	SizeBytes        int64
	UploadedByUserID *string
	CreatedAt        time.Time
}
