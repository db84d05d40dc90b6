package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/aditus/internal/interfaces"
	"github.com/ternarybob/aditus/internal/models"
)

// ClientOptions configures a worker poll client
type ClientOptions struct {
	BrokerURL          string
	Category           models.WorkerCategory
	PollInterval       time.Duration
	MaxConcurrent      int
	SinglePointCapable bool
}

// Client is the worker side of the short-poll protocol: declare a category,
// pull up to a batch of tasks, compute them on a bounded pool, and POST one
// result per origin. The poll doubles as the worker's heartbeat.
type Client struct {
	workerID string
	opts     ClientOptions
	computer interfaces.TaskComputer
	http     *http.Client
	limiter  *rate.Limiter
	logger   arbor.ILogger

	tasksInFlight atomic.Int64
}

// NewClient creates a poll client
func NewClient(opts ClientOptions, computer interfaces.TaskComputer, logger arbor.ILogger) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = runtime.NumCPU()
	}
	return &Client{
		workerID: uuid.New().String(),
		opts:     opts,
		computer: computer,
		http:     &http.Client{Timeout: 30 * time.Second},
		// The broker tolerates ~1 poll/s per worker; the limiter holds that
		// floor even when polls return instantly
		limiter: rate.NewLimiter(rate.Every(opts.PollInterval), 1),
		logger:  logger,
	}
}

// WorkerID returns the client's stable identity
func (c *Client) WorkerID() string { return c.workerID }

// Run polls until the context is canceled
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info().
		Str("worker_id", c.workerID).
		Str("broker_url", c.opts.BrokerURL).
		Str("category", c.opts.Category.String()).
		Int("max_concurrent", c.opts.MaxConcurrent).
		Msg("Worker poll loop starting")

	sem := make(chan struct{}, c.opts.MaxConcurrent)

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		tasks, err := c.poll()
		if err != nil {
			c.logger.Warn().Err(err).Msg("Poll failed - retrying")
			continue
		}
		if len(tasks) == 0 {
			continue
		}

		for _, task := range tasks {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			c.tasksInFlight.Add(1)
			go func(task models.RegionalTask) {
				defer func() {
					c.tasksInFlight.Add(-1)
					<-sem
				}()
				c.computeAndReport(ctx, task)
			}(task)
		}
	}
}

// poll sends the worker's status and decodes the returned task batch
func (c *Client) poll() ([]models.RegionalTask, error) {
	status := c.buildStatus()
	body, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("marshal worker status: %w", err)
	}

	resp, err := c.http.Post(c.opts.BrokerURL+"/api/poll", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("poll broker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	var tasks []models.RegionalTask
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, fmt.Errorf("decode task batch: %w", err)
	}
	return tasks, nil
}

// computeAndReport runs one task and uploads its result. Tasks are
// idempotent: a redelivered task recomputes and uploads identical content.
func (c *Client) computeAndReport(ctx context.Context, task models.RegionalTask) {
	start := time.Now()
	result, err := c.computer.Compute(ctx, task)
	if err != nil {
		result = &models.RegionalWorkResult{
			JobID:  task.JobID,
			TaskID: task.TaskID,
			Error:  err.Error(),
		}
	}

	c.logger.Debug().
		Str("job_id", task.JobID).
		Int("task_id", task.TaskID).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Bool("errored", result.Error != "").
		Msg("Task computed")

	if err := c.report(result); err != nil {
		// The broker redelivers after the deadline; dropping here is safe
		c.logger.Warn().
			Err(err).
			Str("job_id", task.JobID).
			Int("task_id", task.TaskID).
			Msg("Result upload failed - task will be redelivered")
	}
}

// report POSTs one result message
func (c *Client) report(result *models.RegionalWorkResult) error {
	body, err := result.ToJSON()
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.opts.BrokerURL+"/api/results", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("results endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// buildStatus snapshots the worker's state for the poll body
func (c *Client) buildStatus() models.WorkerStatus {
	inFlight := int(c.tasksInFlight.Load())
	maxRequested := c.opts.MaxConcurrent*2 - inFlight
	if maxRequested < 0 {
		maxRequested = 0
	}

	hostname, _ := os.Hostname()
	return models.WorkerStatus{
		WorkerID:           c.workerID,
		Category:           c.opts.Category,
		MaxTasksRequested:  maxRequested,
		TasksInFlight:      inFlight,
		SinglePointCapable: c.opts.SinglePointCapable,
		Hostname:           hostname,
		IPAddress:          localAddress(),
		TotalCores:         runtime.NumCPU(),
	}
}

// localAddress returns the interface address a broker could dial back on
func localAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
