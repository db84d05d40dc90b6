package assembler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/grid"
	"github.com/ternarybob/aditus/internal/models"
)

// ErrMalformedResult marks a result whose value shapes do not match the job
// contract. Malformed results are dropped before touching the output files.
var ErrMalformedResult = errors.New("malformed work result")

// MultiOriginAssembler owns the output buffers for one regional job. It maps
// (jobID, taskID) to fixed byte offsets in pre-sized raw grid files, so
// results may arrive out of order, concurrently, or more than once without
// corrupting the output. On the final expected origin it delta-encodes the
// raw files into their stored form and hands the artifacts back.
type MultiOriginAssembler struct {
	mu sync.Mutex

	jobID    string
	template models.RegionalTask

	nTasksTotal  int
	written      []bool
	writtenCount int

	// accessWriters[s] is the accessibility grid for destination set s
	accessWriters []*grid.Writer
	// timesWriter holds per-origin travel time vectors when the job records times
	timesWriter *grid.Writer

	scratchDir string
	tempPaths  []string
	finalized  bool
	terminated bool

	logger arbor.ILogger
}

// New creates the assembler and pre-sizes its output files so random-offset
// writes are safe from the first result.
func New(jobID string, template models.RegionalTask, scratchDir string, logger arbor.ILogger) (*MultiOriginAssembler, error) {
	a := &MultiOriginAssembler{
		jobID:       jobID,
		template:    template,
		nTasksTotal: template.NTasksTotal(),
		written:     make([]bool, template.NTasksTotal()),
		scratchDir:  scratchDir,
		logger:      logger,
	}

	header := grid.Header{
		Zoom:   int32(template.Zoom),
		West:   int32(template.West),
		North:  int32(template.North),
		Width:  int32(template.Width),
		Height: int32(template.Height),
	}

	if template.RecordAccessibility {
		for _, key := range template.DestinationKeys {
			h := header
			h.NValues = int32(len(template.Percentiles))
			path := filepath.Join(scratchDir, fmt.Sprintf("%s_%s_access.raw", jobID, key))
			w, err := grid.NewWriter(path, h)
			if err != nil {
				a.Terminate()
				return nil, fmt.Errorf("create accessibility buffer for %s: %w", key, err)
			}
			a.accessWriters = append(a.accessWriters, w)
			a.tempPaths = append(a.tempPaths, path)
		}
	}

	if template.RecordTimes {
		h := header
		h.NValues = int32(len(template.Percentiles) * template.NDestinations)
		path := filepath.Join(scratchDir, fmt.Sprintf("%s_times.raw", jobID))
		w, err := grid.NewWriter(path, h)
		if err != nil {
			a.Terminate()
			return nil, fmt.Errorf("create travel time buffer: %w", err)
		}
		a.timesWriter = w
		a.tempPaths = append(a.tempPaths, path)
	}

	return a, nil
}

// HandleMessage validates a result's shape and writes its values at the
// offsets determined by the task ID. Duplicate task IDs are no-ops; the
// redelivered copy carries identical bytes by contract. Returns complete=true
// once every origin has been written.
func (a *MultiOriginAssembler) HandleMessage(result *models.RegionalWorkResult) (bool, error) {
	if err := a.validateShape(result); err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized || a.terminated {
		return a.finalized, nil
	}
	if result.TaskID < 0 || result.TaskID >= a.nTasksTotal {
		return false, fmt.Errorf("%w: task id %d outside [0,%d)", ErrMalformedResult, result.TaskID, a.nTasksTotal)
	}
	if a.written[result.TaskID] {
		return a.writtenCount == a.nTasksTotal, nil
	}

	for s, w := range a.accessWriters {
		values := make([]int32, len(a.template.Percentiles))
		for p := range a.template.Percentiles {
			values[p] = result.AccessibilityValues[s][p][0]
		}
		if err := w.WriteOriginValues(result.TaskID, values); err != nil {
			return false, fmt.Errorf("accessibility write: %w", err)
		}
	}

	if a.timesWriter != nil {
		flat := make([]int32, 0, len(a.template.Percentiles)*a.template.NDestinations)
		for p := range a.template.Percentiles {
			flat = append(flat, result.TravelTimeValues[p]...)
		}
		if err := a.timesWriter.WriteOriginValues(result.TaskID, flat); err != nil {
			return false, fmt.Errorf("travel time write: %w", err)
		}
	}

	a.written[result.TaskID] = true
	a.writtenCount++
	return a.writtenCount == a.nTasksTotal, nil
}

// validateShape checks the result's value dimensions against the job
// contract before any bytes reach the output files.
func (a *MultiOriginAssembler) validateShape(result *models.RegionalWorkResult) error {
	nPercentiles := len(a.template.Percentiles)

	if a.template.RecordAccessibility {
		if len(result.AccessibilityValues) != len(a.template.DestinationKeys) {
			return fmt.Errorf("%w: %d destination sets, contract has %d",
				ErrMalformedResult, len(result.AccessibilityValues), len(a.template.DestinationKeys))
		}
		for s, perSet := range result.AccessibilityValues {
			if len(perSet) != nPercentiles {
				return fmt.Errorf("%w: destination set %d has %d percentiles, contract has %d",
					ErrMalformedResult, s, len(perSet), nPercentiles)
			}
			for p, perPercentile := range perSet {
				if len(perPercentile) != 1 {
					return fmt.Errorf("%w: destination set %d percentile %d has %d cutoffs, contract has 1",
						ErrMalformedResult, s, p, len(perPercentile))
				}
			}
		}
	}

	if a.template.RecordTimes {
		if len(result.TravelTimeValues) != nPercentiles {
			return fmt.Errorf("%w: %d percentile rows, contract has %d",
				ErrMalformedResult, len(result.TravelTimeValues), nPercentiles)
		}
		for p, row := range result.TravelTimeValues {
			if len(row) != a.template.NDestinations {
				return fmt.Errorf("%w: percentile %d has %d destinations, contract has %d",
					ErrMalformedResult, p, len(row), a.template.NDestinations)
			}
		}
	}

	return nil
}

// Finalize flushes the raw buffers, delta-encodes them into their stored
// form, and returns the storage-key to local-file map. The raw files are
// removed; the encoded files belong to the caller until moved into storage.
func (a *MultiOriginAssembler) Finalize() (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return nil, fmt.Errorf("assembler for job %s already finalized", a.jobID)
	}
	if a.writtenCount != a.nTasksTotal {
		return nil, fmt.Errorf("finalize with %d of %d origins written", a.writtenCount, a.nTasksTotal)
	}

	artifacts := make(map[string]string)

	encode := func(w *grid.Writer, key string) error {
		if err := w.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", key, err)
		}
		rawPath := w.Path()
		if err := w.Close(); err != nil {
			return fmt.Errorf("close %s: %w", key, err)
		}
		outPath := filepath.Join(a.scratchDir, key)
		if err := grid.EncodeDeltas(rawPath, outPath); err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		os.Remove(rawPath)
		artifacts[key] = outPath
		return nil
	}

	for s, w := range a.accessWriters {
		key := fmt.Sprintf("%s_%s.access", a.jobID, a.template.DestinationKeys[s])
		if err := encode(w, key); err != nil {
			return nil, err
		}
	}
	if a.timesWriter != nil {
		key := fmt.Sprintf("%s_times.access", a.jobID)
		if err := encode(a.timesWriter, key); err != nil {
			return nil, err
		}
	}

	a.finalized = true
	a.logger.Info().
		Str("job_id", a.jobID).
		Int("artifacts", len(artifacts)).
		Msg("Assembler finalized")
	return artifacts, nil
}

// Terminate closes handles and deletes temporary files. Used on job deletion
// and on constructor failure; safe to call more than once.
func (a *MultiOriginAssembler) Terminate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.terminated {
		return
	}
	a.terminated = true

	for _, w := range a.accessWriters {
		w.Close()
	}
	if a.timesWriter != nil {
		a.timesWriter.Close()
	}
	for _, path := range a.tempPaths {
		os.Remove(path)
	}
}
