package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements search over PostgreSQL full-text search as a
// fallback. Tenancy comes from joining team_memberships on the caller,
// so a user only ever matches rows in their own teams.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects, treatments and the
// feedback log using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.UserID == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.UserID}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				''::text AS snippet,
				p.id AS project_id, p.owner_team_id,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			JOIN team_memberships tm ON tm.team_id = p.owner_team_id AND tm.user_id = $2
			WHERE p.fts @@ %s`, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultTreatment {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'treatment'::text AS type, t.id, coalesce(t.tagline, '') AS title,
				ts_headline('english', coalesce(t.synopsis, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.project_id, p.owner_team_id,
				ts_rank(t.fts, %s) AS rank
			FROM project_treatments t
			JOIN projects p ON p.id = t.project_id
			JOIN team_memberships tm ON tm.team_id = p.owner_team_id AND tm.user_id = $2
			WHERE t.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultFeedback {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'feedback'::text AS type, fl.id, fl.shared_item_description AS title,
				ts_headline('english', coalesce(fl.feedback_received, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				fl.project_id, p.owner_team_id,
				ts_rank(fl.fts, %s) AS rank
			FROM project_feedback_log fl
			JOIN projects p ON p.id = fl.project_id
			JOIN team_memberships tm ON tm.team_id = p.owner_team_id AND tm.user_id = $2
			WHERE fl.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, owner_team_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.TeamID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TreatmentRecord, []FeedbackRecord, error) {
	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, owner_team_id
		FROM projects
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var record ProjectRecord
		if err := projectRows.Scan(&record.ID, &record.Name, &record.TeamID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, record)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	treatmentRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.project_id, p.owner_team_id,
			coalesce(t.tagline, ''), coalesce(t.synopsis, ''),
			coalesce(t.backstory_context, ''), coalesce(t.characterization_attitude, '')
		FROM project_treatments t
		JOIN projects p ON p.id = t.project_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load treatments: %w", err)
	}
	defer treatmentRows.Close()

	treatments := make([]TreatmentRecord, 0)
	for treatmentRows.Next() {
		var record TreatmentRecord
		if err := treatmentRows.Scan(&record.ID, &record.ProjectID, &record.TeamID,
			&record.Tagline, &record.Synopsis, &record.Backstory, &record.Characters); err != nil {
			return nil, nil, nil, fmt.Errorf("scan treatment: %w", err)
		}
		treatments = append(treatments, record)
	}
	if err := treatmentRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate treatments: %w", err)
	}

	feedbackRows, err := p.db.QueryContext(ctx, `
		SELECT fl.id, fl.project_id, p.owner_team_id,
			fl.shared_item_description, fl.feedback_received, fl.platform_source
		FROM project_feedback_log fl
		JOIN projects p ON p.id = fl.project_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load feedback: %w", err)
	}
	defer feedbackRows.Close()

	entries := make([]FeedbackRecord, 0)
	for feedbackRows.Next() {
		var record FeedbackRecord
		if err := feedbackRows.Scan(&record.ID, &record.ProjectID, &record.TeamID,
			&record.SharedItem, &record.Feedback, &record.Platform); err != nil {
			return nil, nil, nil, fmt.Errorf("scan feedback: %w", err)
		}
		entries = append(entries, record)
	}
	if err := feedbackRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate feedback: %w", err)
	}

	return projects, treatments, entries, nil
}
