package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	opt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		logger:    log.With("component", "job_client"),
	}
}

// Close closes the client connections.
func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// EnqueueBlobPurge queues deletion of paths. A purge already pending for the
// same target is left as is.
func (c *Client) EnqueueBlobPurge(ctx context.Context, evidenceID shared.ID, paths []string, wholeBundle bool) error {
	if len(paths) == 0 && !wholeBundle {
		return nil
	}
	_, err := c.enqueuePurge(ctx, BlobPurgePayload{
		EvidenceID:  evidenceID.String(),
		Paths:       paths,
		WholeBundle: wholeBundle,
	})
	return err
}

// RequeueBlobPurge queues a whole-bundle purge for the sweeper. It reports
// false when a purge for the bundle is still pending, scheduled or running.
func (c *Client) RequeueBlobPurge(ctx context.Context, evidenceID shared.ID, paths []string) (bool, error) {
	return c.enqueuePurge(ctx, BlobPurgePayload{
		EvidenceID:  evidenceID.String(),
		Paths:       paths,
		WholeBundle: true,
	})
}

// enqueuePurge enqueues payload under its task ID. A conflicting task that
// is archived (retries exhausted) or completed still holds the ID, so it is
// deleted and the purge enqueued again.
func (c *Client) enqueuePurge(ctx context.Context, payload BlobPurgePayload) (bool, error) {
	task, err := NewBlobPurgeTask(payload)
	if err != nil {
		return false, fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		retry, rerr := c.releaseFinished(payload.taskID())
		if rerr != nil {
			return false, rerr
		}
		if !retry {
			c.logger.Debug("blob purge already queued", "evidence_id", payload.EvidenceID)
			return false, nil
		}
		info, err = c.client.EnqueueContext(ctx, task)
	}
	if err != nil {
		return false, fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("blob purge queued",
		"task_id", info.ID,
		"evidence_id", payload.EvidenceID,
		"paths", len(payload.Paths),
		"queue", info.Queue,
	)
	return true, nil
}

// releaseFinished frees taskID when the task holding it will never run
// again. It reports whether the caller should enqueue again.
func (c *Client) releaseFinished(taskID string) (bool, error) {
	info, err := c.inspector.GetTaskInfo(queueMaintenance, taskID)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		// Finished and removed between the two calls.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect purge task %s: %w", taskID, err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := c.inspector.DeleteTask(queueMaintenance, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return false, fmt.Errorf("release purge task %s: %w", taskID, err)
		}
		c.logger.Info("released finished purge task", "task_id", taskID, "state", info.State.String())
		return true, nil
	default:
		return false, nil
	}
}
