package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slate/api/internal/store"
)

// Store is the data access the exporter needs.
type Store interface {
	GetProject(ctx context.Context, id string) (store.Project, error)
	GetTreatment(ctx context.Context, projectID string) (store.Treatment, error)
	GetBusinessDetails(ctx context.Context, projectID string) (store.BusinessDetails, error)
	ListOrderedItems(ctx context.Context, kind, projectID string) ([]store.OrderedItem, error)
	ListFeedback(ctx context.Context, projectID string) ([]store.FeedbackEntry, error)
}

// Service assembles a project brief and renders it.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates an export service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Export generates a project brief in the requested format. Sections the
// project has not filled in yet are simply left out of the brief.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	data := TemplateData{
		ProjectName: project.Name,
		TeamName:    project.TeamName,
		GeneratedAt: s.now(),
	}

	treatment, err := s.store.GetTreatment(ctx, req.ProjectID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get treatment: %w", err)
	}
	data.Tagline = treatment.Tagline
	data.Synopsis = treatment.Synopsis
	data.Backstory = treatment.BackstoryContext
	data.Characters = treatment.CharacterizationAttitude

	business, err := s.store.GetBusinessDetails(ctx, req.ProjectID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get business details: %w", err)
	}
	data.GoalsUser = business.GoalsUser
	data.GoalsCreative = business.GoalsCreative
	data.GoalsEconomic = business.GoalsEconomic
	data.SuccessIndicators = business.SuccessIndicators
	data.TargetAudience = business.TargetAudience
	data.UserNeed = business.UserNeed
	data.BusinessModels = business.BusinessModels

	plotPoints, err := s.store.ListOrderedItems(ctx, "plot_points", req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list plot points: %w", err)
	}
	for _, item := range plotPoints {
		data.PlotPoints = append(data.PlotPoints, item.Description)
	}

	scenarios, err := s.store.ListOrderedItems(ctx, "user_scenarios", req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list user scenarios: %w", err)
	}
	for _, item := range scenarios {
		data.UserScenarios = append(data.UserScenarios, item.Description)
	}

	if req.IncludeFeedback {
		entries, err := s.store.ListFeedback(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list feedback: %w", err)
		}
		for _, entry := range entries {
			data.Feedback = append(data.Feedback, TemplateFeedback{
				SharedItem: entry.SharedItemDescription,
				Platform:   entry.PlatformSource,
				Feedback:   entry.FeedbackReceived,
				LoggedAt:   entry.LoggedAt,
			})
		}
	}

	html, err := RenderBriefHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, project.Name)
	case FormatDOCX:
		return exportDOCX(html, project.Name)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
