package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/shared"
)

// TypeBlobPurge removes evidence blobs after a soft delete or file removal.
const TypeBlobPurge = "evidence:purge_blobs"

const (
	queueMaintenance = "maintenance"
	purgeMaxRetry    = 5
	purgeTimeout     = 2 * time.Minute
)

// BlobPurgePayload names the objects to delete. WholeBundle marks the bundle
// purged once its objects are gone.
type BlobPurgePayload struct {
	EvidenceID  string   `json:"evidence_id"`
	Paths       []string `json:"paths"`
	WholeBundle bool     `json:"whole_bundle"`
}

// taskID keeps at most one pending purge per bundle, or per removed file.
func (p BlobPurgePayload) taskID() string {
	if p.WholeBundle {
		return "purge:" + p.EvidenceID
	}
	return "purge:" + p.EvidenceID + ":" + strings.Join(p.Paths, ",")
}

// NewBlobPurgeTask creates a blob purge task on the maintenance queue.
func NewBlobPurgeTask(payload BlobPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal blob purge payload: %w", err)
	}
	return asynq.NewTask(TypeBlobPurge, data,
		asynq.MaxRetry(purgeMaxRetry),
		asynq.Timeout(purgeTimeout),
		asynq.Queue(queueMaintenance),
		asynq.TaskID(payload.taskID()),
	), nil
}

// BlobDeleter removes objects from blob storage. Missing objects are not an
// error.
type BlobDeleter interface {
	Delete(ctx context.Context, keys ...string) error
}

// PurgeMarker records that a bundle's blobs are gone.
type PurgeMarker interface {
	MarkPurged(ctx context.Context, id shared.ID, at time.Time) error
}

// BlobPurgeHandler handles TypeBlobPurge tasks.
type BlobPurgeHandler struct {
	blobs   BlobDeleter
	marker  PurgeMarker
	log     *slog.Logger
	nowFunc func() time.Time
}

// NewBlobPurgeHandler creates a blob purge handler.
func NewBlobPurgeHandler(blobs BlobDeleter, marker PurgeMarker, log *slog.Logger) *BlobPurgeHandler {
	return &BlobPurgeHandler{
		blobs:   blobs,
		marker:  marker,
		log:     log,
		nowFunc: time.Now,
	}
}

// HandleBlobPurge deletes the payload's objects. Returning an error makes
// asynq retry the task.
func (h *BlobPurgeHandler) HandleBlobPurge(ctx context.Context, t *asynq.Task) error {
	var payload BlobPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.Error("failed to unmarshal blob purge payload", "error", err)
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	id, err := shared.IDFromString(payload.EvidenceID)
	if err != nil {
		h.log.Error("invalid evidence_id", "error", err, "evidence_id", payload.EvidenceID)
		return fmt.Errorf("invalid evidence_id: %w: %w", err, asynq.SkipRetry)
	}

	if err := h.blobs.Delete(ctx, payload.Paths...); err != nil {
		h.log.Warn("blob purge failed, will retry",
			"evidence_id", payload.EvidenceID,
			"paths", len(payload.Paths),
			"error", err,
		)
		return err
	}

	if payload.WholeBundle {
		err := h.marker.MarkPurged(ctx, id, h.nowFunc().UTC())
		// A retry after a successful mark finds nothing pending.
		if err != nil && !errors.Is(err, evidence.ErrEvidenceNotFound) {
			return fmt.Errorf("mark purged: %w", err)
		}
	}

	h.log.Info("evidence blobs purged",
		"evidence_id", payload.EvidenceID,
		"paths", len(payload.Paths),
		"whole_bundle", payload.WholeBundle,
	)
	return nil
}

// RegisterHandlers registers the purge handler with the asynq server mux.
func (h *BlobPurgeHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeBlobPurge, h.HandleBlobPurge)
}
