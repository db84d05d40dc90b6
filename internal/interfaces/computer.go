package interfaces

import (
	"context"

	"github.com/ternarybob/aditus/internal/models"
)

// TaskComputer executes one regional task and produces its result message.
// Implementations own network loading and routing; the propagation kernel in
// internal/worker provides the glue from routing output to a result.
// Computation failures are reported through the result's Error field, not the
// returned error, so they reach the broker; the error return is reserved for
// conditions where no result could be produced at all.
type TaskComputer interface {
	Compute(ctx context.Context, task models.RegionalTask) (*models.RegionalWorkResult, error)
}
