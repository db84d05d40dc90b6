package launcher

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/models"
)

// Noop is the launcher used in offline mode and in deployments where fleet
// capacity is managed externally. It records the request and does nothing.
type Noop struct {
	Logger arbor.ILogger
}

// Launch logs and discards the request
func (l *Noop) Launch(_ context.Context, category models.WorkerCategory, _ map[string]string, nOnDemand, nSpot int) error {
	l.Logger.Info().
		Str("category", category.String()).
		Int("on_demand", nOnDemand).
		Int("spot", nSpot).
		Msg("Worker launch requested (no-op launcher)")
	return nil
}

// LocalExec spawns worker processes on the broker's own machine. It exists
// for single-machine clusters and integration testing; cloud fleets sit
// behind their own WorkerLauncher implementations outside this repository.
type LocalExec struct {
	WorkerBinary string
	BrokerURL    string
	Logger       arbor.ILogger
}

// Launch starts nOnDemand+nSpot detached worker processes for the category.
// Best-effort by contract: spawn failures are logged, never returned as
// launch failures for individual processes.
func (l *LocalExec) Launch(_ context.Context, category models.WorkerCategory, _ map[string]string, nOnDemand, nSpot int) error {
	total := nOnDemand + nSpot
	if total <= 0 {
		return nil
	}
	if l.WorkerBinary == "" {
		return fmt.Errorf("no worker binary configured")
	}

	started := 0
	for i := 0; i < total; i++ {
		cmd := exec.Command(l.WorkerBinary,
			"-broker", l.BrokerURL,
			"-graph", category.GraphID,
		)
		if err := cmd.Start(); err != nil {
			l.Logger.Error().
				Err(err).
				Str("binary", l.WorkerBinary).
				Msg("Failed to spawn worker process")
			continue
		}
		pid := cmd.Process.Pid
		started++
		// Reap the child when it exits so spawned workers never zombify
		go cmd.Wait()
		l.Logger.Debug().Int("pid", pid).Msg("Worker process spawned")
	}

	l.Logger.Info().
		Str("category", category.String()).
		Int("requested", total).
		Int("started", started).
		Msg("Local workers spawned")
	return nil
}
