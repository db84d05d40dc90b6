package interfaces

import (
	"context"

	"github.com/ternarybob/aditus/internal/models"
)

// WorkerLauncher provisions compute for a worker category. Launch is
// asynchronous and best-effort: it must never block the broker, and no
// acknowledgement is expected. The broker applies its own caps and cooldowns
// before calling.
type WorkerLauncher interface {
	Launch(ctx context.Context, category models.WorkerCategory, tags map[string]string, nOnDemand, nSpot int) error
}
