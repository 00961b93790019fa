package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/storage"
	"github.com/your-org/facecheck/internal/upload"
	"github.com/your-org/facecheck/pkg/dto"
)

// ObjectStager holds enrollment images until a worker picks them up.
type ObjectStager interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	PurgeStaged(ctx context.Context, taskID string) error
}

type TaskPublisher interface {
	PublishEnrollment(ctx context.Context, task models.EnrollmentTask) error
}

// EnrollmentHandler queues enrollments for cmd/worker.
type EnrollmentHandler struct {
	identities  gallery.IdentityDirectory
	objects     ObjectStager
	tasks       TaskPublisher
	maxBatch    int
	maxFileSize int64
}

func NewEnrollmentHandler(identities gallery.IdentityDirectory, objects ObjectStager, tasks TaskPublisher, maxBatch int, maxFileSize int64) *EnrollmentHandler {
	return &EnrollmentHandler{
		identities:  identities,
		objects:     objects,
		tasks:       tasks,
		maxBatch:    maxBatch,
		maxFileSize: maxFileSize,
	}
}

// Create stages the "image" parts in object storage and publishes an
// EnrollmentTask. Staged objects are purged if publishing fails.
func (h *EnrollmentHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	identityID := strings.TrimSpace(c.PostForm("identity_id"))
	if identityID == "" {
		badRequest(c, "identity_id is required")
		return
	}

	files, err := imageParts(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.maxBatch > 0 && len(files) > h.maxBatch {
		respondError(c, fmt.Errorf("%w: got %d, limit %d", gallery.ErrBatchTooLarge, len(files), h.maxBatch))
		return
	}

	if _, err := h.identities.GetIdentity(ctx, identityID); err != nil {
		respondError(c, err)
		return
	}

	task := models.EnrollmentTask{
		TaskID:     uuid.NewString(),
		IdentityID: identityID,
		ObjectKeys: make([]string, 0, len(files)),
		CreatedAt:  time.Now().UTC(),
	}

	for i, fh := range files {
		if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
			h.purge(ctx, task.TaskID)
			respondError(c, fmt.Errorf("%s: %w", fh.Filename, upload.ErrTooLarge))
			return
		}
		data, err := readPart(fh)
		if err != nil {
			h.purge(ctx, task.TaskID)
			respondError(c, err)
			return
		}
		key := storage.StagedKey(task.TaskID, i, filepath.Ext(fh.Filename))
		if err := h.objects.PutObject(ctx, key, data, fh.Header.Get("Content-Type")); err != nil {
			h.purge(ctx, task.TaskID)
			respondError(c, err)
			return
		}
		task.ObjectKeys = append(task.ObjectKeys, key)
	}

	if err := h.tasks.PublishEnrollment(ctx, task); err != nil {
		h.purge(ctx, task.TaskID)
		respondError(c, err)
		return
	}

	slog.Info("enrollment queued", "task_id", task.TaskID, "identity_id", identityID, "images", len(task.ObjectKeys))
	c.JSON(http.StatusAccepted, dto.EnrollmentQueuedResponse{
		TaskID:     task.TaskID,
		IdentityID: identityID,
		Images:     len(task.ObjectKeys),
		Status:     "queued",
		CreatedAt:  task.CreatedAt,
	})
}

func (h *EnrollmentHandler) purge(ctx context.Context, taskID string) {
	if err := h.objects.PurgeStaged(context.WithoutCancel(ctx), taskID); err != nil {
		slog.Warn("purge staged enrollment", "task_id", taskID, "error", err)
	}
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}
