package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxProjects   = "slate_projects"
	idxTreatments = "slate_treatments"
	idxFeedback   = "slate_feedback"
)

// Meili is the primary search tier.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The
// caller proceeds without it when the initial connection fails; the
// health loop picks it back up.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxProjects,
			primaryKey: "id",
			filterable: []string{"teamId"},
			searchable: []string{"name"},
		},
		{
			uid:        idxTreatments,
			primaryKey: "id",
			filterable: []string{"teamId", "projectId"},
			searchable: []string{"tagline", "synopsis", "backstory", "characters"},
		},
		{
			uid:        idxFeedback,
			primaryKey: "id",
			filterable: []string{"teamId", "projectId", "platform"},
			searchable: []string{"sharedItem", "feedback"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// teamFilter restricts every query to the caller's teams. An empty team
// list matches nothing; a user with no memberships sees no results.
func teamFilter(teamIDs []string) string {
	if len(teamIDs) == 0 {
		return `teamId = "__none__"`
	}
	quoted := make([]string, len(teamIDs))
	for i, id := range teamIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return "teamId IN [" + strings.Join(quoted, ", ") + "]"
}

// Search queries all three indexes (or a filtered subset) and merges
// results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxProjects, ResultProject},
		{idxTreatments, ResultTreatment},
		{idxFeedback, ResultFeedback},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
			Filter:                []string{teamFilter(q.TeamIDs)},
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxProjects:
		return ResultProject
	case idxTreatments:
		return ResultTreatment
	case idxFeedback:
		return ResultFeedback
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.ProjectID = decodeString(hit, "projectId")
	r.TeamID = decodeString(hit, "teamId")

	switch rtyp {
	case ResultProject:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.ProjectID = r.ID // project's own ID
	case ResultTreatment:
		r.Title = firstNonBlank(decodeFormattedString(hit, "tagline"), decodeString(hit, "tagline"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "synopsis"), decodeString(hit, "synopsis"))
	case ResultFeedback:
		r.Title = firstNonBlank(decodeFormattedString(hit, "sharedItem"), decodeString(hit, "sharedItem"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "feedback"), decodeString(hit, "feedback"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexProject adds or updates a project in the search index.
func (m *Meili) IndexProject(p ProjectRecord) error {
	_, err := m.client.Index(idxProjects).AddDocuments([]ProjectRecord{p}, nil)
	return err
}

// IndexTreatment adds or updates a treatment in the search index.
func (m *Meili) IndexTreatment(t TreatmentRecord) error {
	_, err := m.client.Index(idxTreatments).AddDocuments([]TreatmentRecord{t}, nil)
	return err
}

// IndexFeedback adds or updates a feedback entry in the search index.
func (m *Meili) IndexFeedback(f FeedbackRecord) error {
	_, err := m.client.Index(idxFeedback).AddDocuments([]FeedbackRecord{f}, nil)
	return err
}

// DeleteProject removes a project from the search index.
func (m *Meili) DeleteProject(id string) error {
	_, err := m.client.Index(idxProjects).DeleteDocument(id, nil)
	return err
}

// DeleteFeedback removes a feedback entry from the search index.
func (m *Meili) DeleteFeedback(id string) error {
	_, err := m.client.Index(idxFeedback).DeleteDocument(id, nil)
	return err
}

// IndexProjects bulk-indexes projects.
func (m *Meili) IndexProjects(projects []ProjectRecord) error {
	if len(projects) == 0 {
		return nil
	}
	_, err := m.client.Index(idxProjects).AddDocuments(projects, nil)
	return err
}

// IndexTreatments bulk-indexes treatments.
func (m *Meili) IndexTreatments(treatments []TreatmentRecord) error {
	if len(treatments) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTreatments).AddDocuments(treatments, nil)
	return err
}

// IndexFeedbackEntries bulk-indexes feedback records.
func (m *Meili) IndexFeedbackEntries(entries []FeedbackRecord) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxFeedback).AddDocuments(entries, nil)
	return err
}
