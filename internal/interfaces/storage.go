package interfaces

import (
	"context"

	"github.com/ternarybob/aditus/internal/models"
)

// FileStorage moves finished output artifacts into durable storage.
// MoveIntoStorage is synchronous; the local file is consumed (moved, not
// copied) on success.
type FileStorage interface {
	MoveIntoStorage(key string, localPath string) error
}

// AnalysisStorage persists regional analysis records so errored jobs remain
// listable across broker restarts.
type AnalysisStorage interface {
	SaveAnalysis(ctx context.Context, analysis *models.RegionalAnalysis) error
	GetAnalysis(ctx context.Context, id string) (*models.RegionalAnalysis, error)
	ListAnalyses(ctx context.Context) ([]*models.RegionalAnalysis, error)
	UpdateStatus(ctx context.Context, id, status string, errors []string, storageKeys []string) error
	DeleteAnalysis(ctx context.Context, id string) error
	Close() error
}
