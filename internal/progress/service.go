// Package progress derives a per-project section-completeness snapshot
// from the document tables. It drives progressive unlocking of project
// sub-pages and is strictly read-only.
package progress

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"sync"

	"slate/api/internal/store"
)

type Store interface {
	GetTreatment(ctx context.Context, projectID string) (store.Treatment, error)
	GetBusinessDetails(ctx context.Context, projectID string) (store.BusinessDetails, error)
	HasSpecSection(ctx context.Context, kind, projectID string) (bool, error)
	CountOrderedItems(ctx context.Context, kind, projectID string) (int, error)
	CountFeedback(ctx context.Context, projectID string) (int, error)
}

type TreatmentStatus struct {
	HasTagline    bool `json:"hasTagline"`
	HasSynopsis   bool `json:"hasSynopsis"`
	HasBackstory  bool `json:"hasBackstory"`
	HasCharacters bool `json:"hasCharacters"`
	IsStarted     bool `json:"isStarted"`
}

type BusinessStatus struct {
	HasGoals      bool `json:"hasGoals"`
	HasIndicators bool `json:"hasIndicators"`
	HasAudience   bool `json:"hasAudience"`
	HasUserNeed   bool `json:"hasUserNeed"`
	HasModels     bool `json:"hasModels"`
	IsStarted     bool `json:"isStarted"`
}

type CountStatus struct {
	Count     int  `json:"count"`
	IsStarted bool `json:"isStarted"`
}

type SectionFlag struct {
	IsStarted bool `json:"isStarted"`
}

// SectionStatus is the snapshot returned to the project overview. Every
// field defaults to "not started"; a failed probe never blocks the rest.
type SectionStatus struct {
	Treatment     TreatmentStatus `json:"treatment"`
	Business      BusinessStatus  `json:"business"`
	Design        SectionFlag     `json:"design"`
	Functional    SectionFlag     `json:"functional"`
	Technology    SectionFlag     `json:"technology"`
	PlotPoints    CountStatus     `json:"plotPoints"`
	UserScenarios CountStatus     `json:"userScenarios"`
	Feedback      CountStatus     `json:"feedback"`
}

type Service struct {
	store Store
}

func New(dataStore Store) *Service {
	return &Service{store: dataStore}
}

// hasText treats whitespace-only content as empty.
func hasText(value string) bool {
	return strings.TrimSpace(value) != ""
}

// ComputeSectionStatus fans the probes out concurrently; they are
// independent reads with no ordering requirement. A probe failure is
// logged and reads as section-not-started.
func (s *Service) ComputeSectionStatus(ctx context.Context, projectID string) SectionStatus {
	var status SectionStatus
	var wg sync.WaitGroup

	probe := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, sql.ErrNoRows) {
				log.Printf("progress: %s probe for %s failed: %v", name, projectID, err)
			}
		}()
	}

	probe("treatment", func() error {
		treatment, err := s.store.GetTreatment(ctx, projectID)
		if err != nil {
			return err
		}
		status.Treatment = TreatmentStatus{
			HasTagline:    hasText(treatment.Tagline),
			HasSynopsis:   hasText(treatment.Synopsis),
			HasBackstory:  hasText(treatment.BackstoryContext),
			HasCharacters: hasText(treatment.CharacterizationAttitude),
		}
		status.Treatment.IsStarted = status.Treatment.HasTagline || status.Treatment.HasSynopsis ||
			status.Treatment.HasBackstory || status.Treatment.HasCharacters
		return nil
	})

	probe("business", func() error {
		business, err := s.store.GetBusinessDetails(ctx, projectID)
		if err != nil {
			return err
		}
		status.Business = BusinessStatus{
			HasGoals:      hasText(business.GoalsUser) || hasText(business.GoalsCreative) || hasText(business.GoalsEconomic),
			HasIndicators: hasText(business.SuccessIndicators),
			HasAudience:   hasText(business.TargetAudience),
			HasUserNeed:   hasText(business.UserNeed),
			HasModels:     hasText(business.BusinessModels),
		}
		status.Business.IsStarted = status.Business.HasGoals || status.Business.HasIndicators ||
			status.Business.HasAudience || status.Business.HasUserNeed || status.Business.HasModels
		return nil
	})

	probe("design", func() error {
		started, err := s.store.HasSpecSection(ctx, "design", projectID)
		if err != nil {
			return err
		}
		status.Design.IsStarted = started
		return nil
	})

	probe("functional", func() error {
		started, err := s.store.HasSpecSection(ctx, "functional", projectID)
		if err != nil {
			return err
		}
		status.Functional.IsStarted = started
		return nil
	})

	probe("technology", func() error {
		started, err := s.store.HasSpecSection(ctx, "tech", projectID)
		if err != nil {
			return err
		}
		status.Technology.IsStarted = started
		return nil
	})

	probe("plot points", func() error {
		count, err := s.store.CountOrderedItems(ctx, "plot_points", projectID)
		if err != nil {
			return err
		}
		status.PlotPoints = CountStatus{Count: count, IsStarted: count > 0}
		return nil
	})

	probe("user scenarios", func() error {
		count, err := s.store.CountOrderedItems(ctx, "user_scenarios", projectID)
		if err != nil {
			return err
		}
		status.UserScenarios = CountStatus{Count: count, IsStarted: count > 0}
		return nil
	})

	probe("feedback", func() error {
		count, err := s.store.CountFeedback(ctx, projectID)
		if err != nil {
			return err
		}
		status.Feedback = CountStatus{Count: count, IsStarted: count > 0}
		return nil
	})

	wg.Wait()
	return status
}
