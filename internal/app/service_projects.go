package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"slate/api/internal/assets"
	"slate/api/internal/export"
	"slate/api/internal/progress"
	"slate/api/internal/search"
	"slate/api/internal/store"
	"slate/api/internal/util"
)

type progressAggregator interface {
	ComputeSectionStatus(ctx context.Context, projectID string) progress.SectionStatus
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexProject(p search.ProjectRecord)
	IndexTreatment(t search.TreatmentRecord)
	IndexFeedback(f search.FeedbackRecord)
	DeleteProject(id string)
	DeleteFeedback(id string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// orderedKinds maps URL segments to the whitelisted storage kinds.
var orderedKinds = map[string]string{
	"plot-points":    "plot_points",
	"user-scenarios": "user_scenarios",
}

var specKinds = map[string]bool{
	"design":     true,
	"functional": true,
	"tech":       true,
}

// ── Projects ──

func (s *Service) CreateProject(ctx context.Context, teamID, name, callerID string) (map[string]any, error) {
	if err := s.authz.RequireTeamMember(ctx, teamID, callerID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Project name is required", nil)
	}
	project := store.Project{
		ID:          util.NewID("proj"),
		Name:        name,
		OwnerTeamID: teamID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{ID: project.ID, Name: project.Name, TeamID: teamID})
	}
	return map[string]any{
		"id":     project.ID,
		"name":   project.Name,
		"teamId": project.OwnerTeamID,
	}, nil
}

func (s *Service) ListProjects(ctx context.Context, callerID, teamID string) ([]map[string]any, error) {
	var projects []store.Project
	var err error
	if teamID != "" {
		if authErr := s.authz.RequireTeamMember(ctx, teamID, callerID); authErr != nil {
			return nil, authErr
		}
		projects, err = s.store.ListProjectsForTeam(ctx, teamID)
	} else {
		projects, err = s.store.ListProjectsForUser(ctx, callerID)
	}
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, map[string]any{
			"id":        project.ID,
			"name":      project.Name,
			"teamId":    project.OwnerTeamID,
			"teamName":  project.TeamName,
			"updatedAt": project.UpdatedAt,
		})
	}
	return items, nil
}

// requireProject loads the project and checks membership. A project that
// does not exist is 404; one the caller cannot see is 403.
func (s *Service) requireProject(ctx context.Context, projectID, callerID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
	}
	if err != nil {
		return store.Project{}, err
	}
	if err := s.authz.RequireProjectMember(ctx, projectID, callerID); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, projectID, callerID string) (map[string]any, error) {
	project, err := s.requireProject(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        project.ID,
		"name":      project.Name,
		"teamId":    project.OwnerTeamID,
		"teamName":  project.TeamName,
		"createdAt": project.CreatedAt,
		"updatedAt": project.UpdatedAt,
	}, nil
}

func (s *Service) RenameProject(ctx context.Context, projectID, name, callerID string) (map[string]any, error) {
	project, err := s.requireProject(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Project name is required", nil)
	}
	if err := s.store.UpdateProjectName(ctx, projectID, name); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{ID: projectID, Name: name, TeamID: project.OwnerTeamID})
	}
	return map[string]any{"id": projectID, "name": name}, nil
}

func (s *Service) DeleteProject(ctx context.Context, projectID, callerID string) error {
	if _, err := s.store.GetProject(ctx, projectID); errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
	} else if err != nil {
		return err
	}
	if err := s.authz.RequireProjectOwner(ctx, projectID, callerID); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

// ProjectStatus returns the section-completeness snapshot for the
// project dashboard.
func (s *Service) ProjectStatus(ctx context.Context, projectID, callerID string) (progress.SectionStatus, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return progress.SectionStatus{}, err
	}
	return s.progress.ComputeSectionStatus(ctx, projectID), nil
}

// ── Treatment and business details ──

var treatmentFields = map[string]bool{
	"tagline":                  true,
	"synopsis":                 true,
	"backstoryContext":         true,
	"characterizationAttitude": true,
}

var businessFields = map[string]bool{
	"goalsUser":         true,
	"goalsCreative":     true,
	"goalsEconomic":     true,
	"successIndicators": true,
	"targetAudience":    true,
	"userNeed":          true,
	"businessModels":    true,
}

func unknownFields(fields map[string]string, allowed map[string]bool) []string {
	var unknown []string
	for name := range fields {
		if !allowed[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func (s *Service) GetTreatment(ctx context.Context, projectID, callerID string) (map[string]any, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	treatment, err := s.store.GetTreatment(ctx, projectID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return map[string]any{
		"tagline":                  treatment.Tagline,
		"synopsis":                 treatment.Synopsis,
		"backstoryContext":         treatment.BackstoryContext,
		"characterizationAttitude": treatment.CharacterizationAttitude,
	}, nil
}

// SaveTreatment applies a field-wise update: only the submitted fields
// change, and unknown field names are rejected.
func (s *Service) SaveTreatment(ctx context.Context, projectID, callerID string, fields map[string]string) (map[string]any, error) {
	project, err := s.requireProject(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}
	if unknown := unknownFields(fields, treatmentFields); len(unknown) > 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown treatment fields", unknown)
	}

	treatment, err := s.store.GetTreatment(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		treatment = store.Treatment{ID: util.NewID("trt"), ProjectID: projectID}
	} else if err != nil {
		return nil, err
	}

	if value, ok := fields["tagline"]; ok {
		treatment.Tagline = value
	}
	if value, ok := fields["synopsis"]; ok {
		treatment.Synopsis = value
	}
	if value, ok := fields["backstoryContext"]; ok {
		treatment.BackstoryContext = value
	}
	if value, ok := fields["characterizationAttitude"]; ok {
		treatment.CharacterizationAttitude = value
	}

	if err := s.store.UpsertTreatment(ctx, treatment); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexTreatment(search.TreatmentRecord{
			ID:         treatment.ID,
			ProjectID:  projectID,
			TeamID:     project.OwnerTeamID,
			Tagline:    treatment.Tagline,
			Synopsis:   treatment.Synopsis,
			Backstory:  treatment.BackstoryContext,
			Characters: treatment.CharacterizationAttitude,
		})
	}
	return map[string]any{
		"tagline":                  treatment.Tagline,
		"synopsis":                 treatment.Synopsis,
		"backstoryContext":         treatment.BackstoryContext,
		"characterizationAttitude": treatment.CharacterizationAttitude,
	}, nil
}

func (s *Service) GetBusinessDetails(ctx context.Context, projectID, callerID string) (map[string]any, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	details, err := s.store.GetBusinessDetails(ctx, projectID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return businessPayload(details), nil
}

func (s *Service) SaveBusinessDetails(ctx context.Context, projectID, callerID string, fields map[string]string) (map[string]any, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	if unknown := unknownFields(fields, businessFields); len(unknown) > 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown business fields", unknown)
	}

	details, err := s.store.GetBusinessDetails(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		details = store.BusinessDetails{ID: util.NewID("biz"), ProjectID: projectID}
	} else if err != nil {
		return nil, err
	}

	if value, ok := fields["goalsUser"]; ok {
		details.GoalsUser = value
	}
	if value, ok := fields["goalsCreative"]; ok {
		details.GoalsCreative = value
	}
	if value, ok := fields["goalsEconomic"]; ok {
		details.GoalsEconomic = value
	}
	if value, ok := fields["successIndicators"]; ok {
		details.SuccessIndicators = value
	}
	if value, ok := fields["targetAudience"]; ok {
		details.TargetAudience = value
	}
	if value, ok := fields["userNeed"]; ok {
		details.UserNeed = value
	}
	if value, ok := fields["businessModels"]; ok {
		details.BusinessModels = value
	}

	if err := s.store.UpsertBusinessDetails(ctx, details); err != nil {
		return nil, err
	}
	return businessPayload(details), nil
}

func businessPayload(details store.BusinessDetails) map[string]any {
	return map[string]any{
		"goalsUser":         details.GoalsUser,
		"goalsCreative":     details.GoalsCreative,
		"goalsEconomic":     details.GoalsEconomic,
		"successIndicators": details.SuccessIndicators,
		"targetAudience":    details.TargetAudience,
		"userNeed":          details.UserNeed,
		"businessModels":    details.BusinessModels,
	}
}

// MarkSpecSection flags a design/functional/tech spec as started.
func (s *Service) MarkSpecSection(ctx context.Context, projectID, kind, callerID string) error {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return err
	}
	if !specKinds[kind] {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Spec kind must be design, functional or tech", nil)
	}
	return s.store.EnsureSpecSection(ctx, kind, util.NewID("spec"), projectID)
}

// ── Ordered items (plot points, user scenarios) ──

func (s *Service) ListOrderedItems(ctx context.Context, projectID, kind, callerID string) ([]map[string]any, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	items, err := s.store.ListOrderedItems(ctx, kind, projectID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"id":          item.ID,
			"description": item.Description,
			"orderIndex":  item.OrderIndex,
		})
	}
	return payload, nil
}

func (s *Service) AddOrderedItem(ctx context.Context, projectID, kind, description, callerID string) (map[string]any, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Description is required", nil)
	}
	item := store.OrderedItem{
		ID:          util.NewID("itm"),
		ProjectID:   projectID,
		Description: description,
	}
	if err := s.store.InsertOrderedItem(ctx, kind, item); err != nil {
		return nil, err
	}
	return map[string]any{"id": item.ID, "description": item.Description}, nil
}

func (s *Service) UpdateOrderedItem(ctx context.Context, projectID, kind, itemID, description, callerID string) error {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Description is required", nil)
	}
	updated, err := s.store.UpdateOrderedItem(ctx, kind, projectID, itemID, description)
	if err != nil {
		return err
	}
	if !updated {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Item not found", nil)
	}
	return nil
}

func (s *Service) DeleteOrderedItem(ctx context.Context, projectID, kind, itemID, callerID string) error {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteOrderedItem(ctx, kind, projectID, itemID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Item not found", nil)
	}
	return nil
}

func (s *Service) ReorderItems(ctx context.Context, projectID, kind string, ids []string, callerID string) error {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return err
	}
	if len(ids) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ids must not be empty", nil)
	}
	return s.store.ReorderItems(ctx, kind, projectID, ids)
}

// ── Feedback log ──

func (s *Service) AddFeedback(ctx context.Context, projectID, callerID, sharedItem, platform, feedback string) (map[string]any, error) {
	project, err := s.requireProject(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}
	sharedItem = strings.TrimSpace(sharedItem)
	if sharedItem == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Shared item description is required", nil)
	}
	entry := store.FeedbackEntry{
		ID:                    util.NewID("fbk"),
		ProjectID:             projectID,
		SharedItemDescription: sharedItem,
		PlatformSource:        strings.TrimSpace(platform),
		FeedbackReceived:      strings.TrimSpace(feedback),
		LoggedByUserID:        &callerID,
	}
	if err := s.store.InsertFeedback(ctx, entry); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexFeedback(search.FeedbackRecord{
			ID:         entry.ID,
			ProjectID:  projectID,
			TeamID:     project.OwnerTeamID,
			SharedItem: entry.SharedItemDescription,
			Feedback:   entry.FeedbackReceived,
			Platform:   entry.PlatformSource,
		})
	}
	return map[string]any{"id": entry.ID}, nil
}

func (s *Service) ListFeedback(ctx context.Context, projectID, callerID string) ([]map[string]any, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListFeedback(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"id":         entry.ID,
			"sharedItem": entry.SharedItemDescription,
			"platform":   entry.PlatformSource,
			"feedback":   entry.FeedbackReceived,
			"loggedAt":   entry.LoggedAt,
		})
	}
	return items, nil
}

func (s *Service) DeleteFeedback(ctx context.Context, projectID, feedbackID, callerID string) error {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteFeedback(ctx, projectID, feedbackID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Feedback entry not found", nil)
	}
	if s.search != nil {
		s.search.DeleteFeedback(feedbackID)
	}
	return nil
}

// ── Assets ──

func (s *Service) UploadAsset(ctx context.Context, projectID, callerID, fileName, contentType, category string, size int64, reader io.Reader) (map[string]any, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	if s.assets == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Asset storage is not configured", nil)
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "File name is required", nil)
	}

	asset := store.Asset{
		ID:               util.NewID("ast"),
		ProjectID:        projectID,
		FileName:         fileName,
		FileType:         contentType,
		AssetCategory:    strings.TrimSpace(category),
		SizeBytes:        size,
		UploadedByUserID: &callerID,
	}
	asset.FilePath = assets.ObjectPath(projectID, asset.ID, fileName)

	if err := s.assets.Upload(ctx, asset.FilePath, reader, size, contentType); err != nil {
		return nil, err
	}
	if err := s.store.InsertAsset(ctx, asset); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       asset.ID,
		"fileName": asset.FileName,
		"category": asset.AssetCategory,
		"size":     asset.SizeBytes,
	}, nil
}

// ListAssets returns asset metadata with a signed download URL per
// asset. A signing failure degrades to a null url, never an error.
func (s *Service) ListAssets(ctx context.Context, projectID, callerID string) ([]map[string]any, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	items, err := s.store.ListAssets(ctx, projectID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, asset := range items {
		var url any
		if s.assets != nil {
			signed, err := s.assets.SignedURL(ctx, asset.FilePath, 15*time.Minute)
			if err != nil {
				log.Printf("app: sign url for asset %s: %v", asset.ID, err)
			} else {
				url = signed
			}
		}
		payload = append(payload, map[string]any{
			"id":         asset.ID,
			"fileName":   asset.FileName,
			"fileType":   asset.FileType,
			"category":   asset.AssetCategory,
			"size":       asset.SizeBytes,
			"uploadedAt": asset.CreatedAt,
			"url":        url,
		})
	}
	return payload, nil
}

func (s *Service) DeleteAsset(ctx context.Context, projectID, assetID, callerID string) error {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return err
	}
	asset, err := s.store.GetAsset(ctx, projectID, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Asset not found", nil)
	}
	if err != nil {
		return err
	}
	if s.assets != nil {
		if err := s.assets.Delete(ctx, asset.FilePath); err != nil {
			log.Printf("app: delete blob %s: %v", asset.FilePath, err)
		}
	}
	deleted, err := s.store.DeleteAsset(ctx, projectID, assetID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Asset not found", nil)
	}
	return nil
}

// ── Search ──

func (s *Service) Search(ctx context.Context, session Session, text, filterType string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	teams, err := s.store.ListTeamsForUser(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	teamIDs := make([]string, 0, len(teams))
	for _, team := range teams {
		teamIDs = append(teamIDs, team.ID)
	}
	return s.search.Search(search.Query{
		Text:       text,
		FilterType: search.ResultType(filterType),
		UserID:     session.UserID,
		TeamIDs:    teamIDs,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

// ── Export ──

func (s *Service) ExportProject(ctx context.Context, projectID, callerID string, format export.Format, includeFeedback bool) (*export.Result, error) {
	if _, err := s.requireProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		ProjectID:       projectID,
		Format:          format,
		IncludeFeedback: includeFeedback,
	})
}
