package store

import (
	"context"
	"fmt"
)

// ---- Projects ----

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, owner_team_id)
		VALUES ($1, $2, $3)
	`, project.ID, project.Name, project.OwnerTeamID)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.owner_team_id, p.created_at, p.updated_at, t.name
		FROM projects p
		JOIN teams t ON t.id = p.owner_team_id
		WHERE p.id=$1
	`, projectID).Scan(&project.ID, &project.Name, &project.OwnerTeamID,
		&project.CreatedAt, &project.UpdatedAt, &project.TeamName)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

func (s *PostgresStore) ListProjectsForTeam(ctx context.Context, teamID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_team_id, created_at, updated_at
		FROM projects WHERE owner_team_id=$1
		ORDER BY created_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerTeamID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.owner_team_id, p.created_at, p.updated_at, t.name
		FROM projects p
		JOIN teams t ON t.id = p.owner_team_id
		JOIN team_memberships tm ON tm.team_id = p.owner_team_id
		WHERE tm.user_id=$1
		ORDER BY p.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects for user: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerTeamID, &item.CreatedAt, &item.UpdatedAt, &item.TeamName); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProjectName(ctx context.Context, projectID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name=$2, updated_at=NOW() WHERE id=$1
	`, projectID, name)
	if err != nil {
		return fmt.Errorf("update project name: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// IsProjectMember resolves membership through the owning team; a project
// in a team the user does not belong to reads the same as no project.
func (s *PostgresStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM projects p
			JOIN team_memberships tm ON tm.team_id = p.owner_team_id
			WHERE p.id=$1 AND tm.user_id=$2
		)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check project membership: %w", err)
	}
	return exists, nil
}

// GetProjectRole returns the user's role in the project's owning team.
// sql.ErrNoRows means no membership (or no such project).
func (s *PostgresStore) GetProjectRole(ctx context.Context, projectID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT tm.role
		FROM projects p
		JOIN team_memberships tm ON tm.team_id = p.owner_team_id
		WHERE p.id=$1 AND tm.user_id=$2
	`, projectID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

// ---- Treatment ----

func (s *PostgresStore) GetTreatment(ctx context.Context, projectID string) (Treatment, error) {
	var item Treatment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, COALESCE(tagline, ''), COALESCE(synopsis, ''),
			COALESCE(backstory_context, ''), COALESCE(characterization_attitude, ''), updated_at
		FROM project_treatments WHERE project_id=$1
	`, projectID).Scan(&item.ID, &item.ProjectID, &item.Tagline, &item.Synopsis,
		&item.BackstoryContext, &item.CharacterizationAttitude, &item.UpdatedAt)
	if err != nil {
		return Treatment{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpsertTreatment(ctx context.Context, item Treatment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_treatments (id, project_id, tagline, synopsis, backstory_context, characterization_attitude)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id) DO UPDATE SET
			tagline=EXCLUDED.tagline,
			synopsis=EXCLUDED.synopsis,
			backstory_context=EXCLUDED.backstory_context,
			characterization_attitude=EXCLUDED.characterization_attitude,
			updated_at=NOW()
	`, item.ID, item.ProjectID, item.Tagline, item.Synopsis, item.BackstoryContext, item.CharacterizationAttitude)
	if err != nil {
		return fmt.Errorf("upsert treatment: %w", err)
	}
	return nil
}

// ---- Business details ----

func (s *PostgresStore) GetBusinessDetails(ctx context.Context, projectID string) (BusinessDetails, error) {
	var item BusinessDetails
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, COALESCE(goals_user, ''), COALESCE(goals_creative, ''),
			COALESCE(goals_economic, ''), COALESCE(success_indicators, ''),
			COALESCE(target_audience, ''), COALESCE(user_need, ''), COALESCE(business_models, ''), updated_at
		FROM project_business_details WHERE project_id=$1
	`, projectID).Scan(&item.ID, &item.ProjectID, &item.GoalsUser, &item.GoalsCreative,
		&item.GoalsEconomic, &item.SuccessIndicators, &item.TargetAudience,
		&item.UserNeed, &item.BusinessModels, &item.UpdatedAt)
	if err != nil {
		return BusinessDetails{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpsertBusinessDetails(ctx context.Context, item BusinessDetails) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_business_details (id, project_id, goals_user, goals_creative, goals_economic,
			success_indicators, target_audience, user_need, business_models)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id) DO UPDATE SET
			goals_user=EXCLUDED.goals_user,
			goals_creative=EXCLUDED.goals_creative,
			goals_economic=EXCLUDED.goals_economic,
			success_indicators=EXCLUDED.success_indicators,
			target_audience=EXCLUDED.target_audience,
			user_need=EXCLUDED.user_need,
			business_models=EXCLUDED.business_models,
			updated_at=NOW()
	`, item.ID, item.ProjectID, item.GoalsUser, item.GoalsCreative, item.GoalsEconomic,
		item.SuccessIndicators, item.TargetAudience, item.UserNeed, item.BusinessModels)
	if err != nil {
		return fmt.Errorf("upsert business details: %w", err)
	}
	return nil
}

// ---- Spec marker tables ----

// specTables whitelists the 1:1 marker tables so the table name can be
// interpolated safely.
var specTables = map[string]string{
	"design":     "project_design_specs",
	"functional": "project_functional_specs",
	"tech":       "project_tech_specs",
}

func (s *PostgresStore) EnsureSpecSection(ctx context.Context, kind, id, projectID string) error {
	table, ok := specTables[kind]
	if !ok {
		return fmt.Errorf("unknown spec section %q", kind)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, project_id) VALUES ($1, $2)
		ON CONFLICT (project_id) DO NOTHING
	`, table), id, projectID)
	if err != nil {
		return fmt.Errorf("ensure %s spec: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) HasSpecSection(ctx context.Context, kind, projectID string) (bool, error) {
	table, ok := specTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown spec section %q", kind)
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE project_id=$1)`, table),
		projectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s spec: %w", kind, err)
	}
	return exists, nil
}

// ---- Ordered items (plot points, user scenarios) ----

// orderedTables whitelists the two ordered-item tables.
var orderedTables = map[string]string{
	"plot_points":    "project_plot_points",
	"user_scenarios": "project_user_scenarios",
}

func (s *PostgresStore) ListOrderedItems(ctx context.Context, kind, projectID string) ([]OrderedItem, error) {
	table, ok := orderedTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown ordered item kind %q", kind)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, project_id, description, order_index, created_at, updated_at
		FROM %s WHERE project_id=$1
		ORDER BY order_index ASC, created_at ASC
	`, table), projectID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	items := make([]OrderedItem, 0)
	for rows.Next() {
		var item OrderedItem
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Description, &item.OrderIndex, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return items, nil
}

func (s *PostgresStore) InsertOrderedItem(ctx context.Context, kind string, item OrderedItem) error {
	table, ok := orderedTables[kind]
	if !ok {
		return fmt.Errorf("unknown ordered item kind %q", kind)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, project_id, description, order_index)
		VALUES ($1, $2, $3, COALESCE((SELECT MAX(order_index)+1 FROM %s WHERE project_id=$2), 0))
	`, table, table), item.ID, item.ProjectID, item.Description)
	if err != nil {
		return fmt.Errorf("insert %s: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrderedItem(ctx context.Context, kind, projectID, itemID, description string) (bool, error) {
	table, ok := orderedTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown ordered item kind %q", kind)
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET description=$3, updated_at=NOW()
		WHERE id=$2 AND project_id=$1
	`, table), projectID, itemID, description)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update %s rows: %w", kind, err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteOrderedItem(ctx context.Context, kind, projectID, itemID string) (bool, error) {
	table, ok := orderedTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown ordered item kind %q", kind)
	}
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id=$2 AND project_id=$1`, table),
		projectID, itemID)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s rows: %w", kind, err)
	}
	return affected > 0, nil
}

// ReorderItems rewrites order_index for the given id sequence inside one
// transaction; ids not belonging to the project are ignored by the WHERE.
func (s *PostgresStore) ReorderItems(ctx context.Context, kind, projectID string, ids []string) error {
	table, ok := orderedTables[kind]
	if !ok {
		return fmt.Errorf("unknown ordered item kind %q", kind)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET order_index=$3, updated_at=NOW()
			WHERE id=$2 AND project_id=$1
		`, table), projectID, id, i); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder %s: %w", kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountOrderedItems(ctx context.Context, kind, projectID string) (int, error) {
	table, ok := orderedTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown ordered item kind %q", kind)
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE project_id=$1`, table),
		projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return count, nil
}

// ---- Feedback log ----

func (s *PostgresStore) InsertFeedback(ctx context.Context, item FeedbackEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_feedback_log (id, project_id, shared_item_description, platform_source, feedback_received, logged_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ProjectID, item.SharedItemDescription, item.PlatformSource, item.FeedbackReceived, item.LoggedByUserID)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedback(ctx context.Context, projectID string) ([]FeedbackEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, shared_item_description, platform_source, feedback_received, logged_by_user_id, logged_at
		FROM project_feedback_log WHERE project_id=$1
		ORDER BY logged_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	items := make([]FeedbackEntry, 0)
	for rows.Next() {
		var item FeedbackEntry
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.SharedItemDescription,
			&item.PlatformSource, &item.FeedbackReceived, &item.LoggedByUserID, &item.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteFeedback(ctx context.Context, projectID, feedbackID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM project_feedback_log WHERE id=$2 AND project_id=$1`,
		projectID, feedbackID)
	if err != nil {
		return false, fmt.Errorf("delete feedback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete feedback rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountFeedback(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM project_feedback_log WHERE project_id=$1`,
		projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return count, nil
}

// ---- Assets ----

func (s *PostgresStore) InsertAsset(ctx context.Context, item Asset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_assets (id, project_id, file_name, file_path, file_type, asset_category, size_bytes, uploaded_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.ProjectID, item.FileName, item.FilePath, item.FileType,
		item.AssetCategory, item.SizeBytes, item.UploadedByUserID)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, projectID, assetID string) (Asset, error) {
	var item Asset
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, file_name, file_path, COALESCE(file_type, ''),
			COALESCE(asset_category, 'other'), COALESCE(size_bytes, 0), uploaded_by_user_id, created_at
		FROM project_assets WHERE id=$2 AND project_id=$1
	`, projectID, assetID).Scan(&item.ID, &item.ProjectID, &item.FileName, &item.FilePath,
		&item.FileType, &item.AssetCategory, &item.SizeBytes, &item.UploadedByUserID, &item.CreatedAt)
	if err != nil {
		return Asset{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context, projectID string) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, file_name, file_path, COALESCE(file_type, ''),
			COALESCE(asset_category, 'other'), COALESCE(size_bytes, 0), uploaded_by_user_id, created_at
		FROM project_assets WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	items := make([]Asset, 0)
	for rows.Next() {
		var item Asset
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.FileName, &item.FilePath,
			&item.FileType, &item.AssetCategory, &item.SizeBytes, &item.UploadedByUserID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAsset(ctx context.Context, projectID, assetID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM project_assets WHERE id=$2 AND project_id=$1`,
		projectID, assetID)
	if err != nil {
		return false, fmt.Errorf("delete asset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete asset rows: %w", err)
	}
	return affected > 0, nil
}
