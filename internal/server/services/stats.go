package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/repomanager"
)

// StatsService reads progress counters. It takes no locks.
type StatsService struct {
	runner      dbx.Runner
	repomanager repomanager.RepositoryManager
}

func NewStatsService(runner dbx.Runner, m repomanager.RepositoryManager) *StatsService {
	return &StatsService{runner: runner, repomanager: m}
}

func (s *StatsService) ContributorStats(ctx context.Context, contributorID string) (*models.ContributorStats, error) {
	c, err := s.repomanager.Contributors(s.runner.DB()).GetByID(ctx, contributorID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("error loading contributor: %w", err)
	}
	st, err := s.repomanager.Stats(s.runner.DB()).ContributorStats(ctx, c.ID, c.CurrentBatchID)
	if err != nil {
		return nil, fmt.Errorf("error reading stats: %w", err)
	}
	return st, nil
}

func (s *StatsService) LanguageStats(ctx context.Context) ([]models.LanguageStats, error) {
	st, err := s.repomanager.Stats(s.runner.DB()).LanguageStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading language stats: %w", err)
	}
	return st, nil
}
