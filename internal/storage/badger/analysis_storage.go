package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/aditus/internal/models"
)

// ErrAnalysisNotFound is returned when no record exists for an ID
var ErrAnalysisNotFound = errors.New("analysis not found")

// AnalysisStorage persists RegionalAnalysis records in badgerhold. Errored
// analyses survive broker restarts here until the user deletes them;
// completed ones keep their storage keys.
type AnalysisStorage struct {
	store *badgerhold.Store
}

// NewAnalysisStorage wraps a badgerhold store
func NewAnalysisStorage(store *badgerhold.Store) *AnalysisStorage {
	return &AnalysisStorage{store: store}
}

// SaveAnalysis inserts or replaces a record
func (s *AnalysisStorage) SaveAnalysis(_ context.Context, analysis *models.RegionalAnalysis) error {
	analysis.UpdatedAt = time.Now()
	if err := s.store.Upsert(analysis.ID, analysis); err != nil {
		return fmt.Errorf("save analysis %s: %w", analysis.ID, err)
	}
	return nil
}

// GetAnalysis fetches one record by ID
func (s *AnalysisStorage) GetAnalysis(_ context.Context, id string) (*models.RegionalAnalysis, error) {
	var analysis models.RegionalAnalysis
	if err := s.store.Get(id, &analysis); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAnalysisNotFound, id)
		}
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}
	return &analysis, nil
}

// ListAnalyses returns all records, newest first
func (s *AnalysisStorage) ListAnalyses(_ context.Context) ([]*models.RegionalAnalysis, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()

	var records []models.RegionalAnalysis
	if err := s.store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}

	analyses := make([]*models.RegionalAnalysis, len(records))
	for i := range records {
		analyses[i] = &records[i]
	}
	return analyses, nil
}

// UpdateStatus updates a record's status and, when provided, its errors and
// storage keys
func (s *AnalysisStorage) UpdateStatus(ctx context.Context, id, status string, errs []string, storageKeys []string) error {
	analysis, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}
	analysis.Status = status
	if errs != nil {
		analysis.Errors = errs
	}
	if storageKeys != nil {
		analysis.StorageKeys = storageKeys
	}
	return s.SaveAnalysis(ctx, analysis)
}

// DeleteAnalysis removes a record
func (s *AnalysisStorage) DeleteAnalysis(_ context.Context, id string) error {
	if err := s.store.Delete(id, &models.RegionalAnalysis{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("delete analysis %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying store
func (s *AnalysisStorage) Close() error {
	return s.store.Close()
}
