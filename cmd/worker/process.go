package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/upload"
)

type enroller interface {
	Enroll(ctx context.Context, identityID string, images []upload.Image) (gallery.EnrollResult, error)
}

type eventPublisher interface {
	PublishEvent(ctx context.Context, ev models.CheckinEvent) error
}

// processor runs staged enrollment tasks.
type processor struct {
	enroller enroller
	objects  upload.ObjectStore
	events   eventPublisher
	now      func() time.Time
}

// handle enrolls the task's staged objects and reports the outcome on the
// EVENTS stream. Enroll deletes the staged objects on every path, so a
// failed task cannot be retried and is always acknowledged.
func (p *processor) handle(ctx context.Context, task models.EnrollmentTask) error {
	images := upload.StagedObjects(p.objects, task.ObjectKeys)
	res, err := p.enroller.Enroll(ctx, task.IdentityID, images)

	result := models.EnrollmentResult{
		TaskID:     task.TaskID,
		IdentityID: task.IdentityID,
		Accepted:   res.Accepted,
		Rejected:   res.Rejected,
	}
	if err != nil {
		result.Error = err.Error()
		slog.Error("enrollment task failed", "task_id", task.TaskID, "identity_id", task.IdentityID, "error", err)
	} else {
		slog.Info("enrollment task done",
			"task_id", task.TaskID,
			"identity_id", task.IdentityID,
			"accepted", res.Accepted,
			"rejected", res.Rejected,
			"queued_for", p.now().Sub(task.CreatedAt).String(),
		)
	}

	ev := models.CheckinEvent{
		Type:       models.EventEnrollmentFinished,
		IdentityID: task.IdentityID,
		Timestamp:  p.now().UTC(),
		Enrollment: &result,
	}
	if err := p.events.PublishEvent(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("publish enrollment result", "task_id", task.TaskID, "error", err)
	}
	return nil
}
