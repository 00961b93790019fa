// Package checkin records attendance for holders of an activity-scoped
// credential who pass the presence check.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facecheck/internal/credential"
	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
	"github.com/your-org/facecheck/internal/presence"
)

var (
	ErrActivityNotFound   = errors.New("activity not found")
	ErrAttendanceNotFound = errors.New("attendance record not found")

	// ErrConflict is returned when attendance was already recorded.
	ErrConflict = errors.New("attendance already recorded")
)

type ActivityDirectory interface {
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
}

type AttendanceStore interface {
	CreateAttendance(ctx context.Context, rec *models.AttendanceRecord) error
	// GetAttendance returns ErrAttendanceNotFound for an unknown id.
	GetAttendance(ctx context.Context, id string) (*models.AttendanceRecord, error)
	ListAttendance(ctx context.Context, identityID string, limit int) ([]models.AttendanceRecord, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.CheckinEvent) error
}

// Request carries what the client reports about where it is.
type Request struct {
	ActivityID string
	Location   *models.GeoPoint
	// ClientIP is the address the request arrived from.
	ClientIP string
	// ReportedTrustedNetwork is the client's own claim; see presence.WithClientFlag.
	ReportedTrustedNetwork bool
}

const defaultHistoryLimit = 100

type Service struct {
	activities ActivityDirectory
	attendance AttendanceStore
	presence   *presence.Validator
	events     EventPublisher
	now        func() time.Time
}

// NewService builds the attendance service. events may be nil.
func NewService(activities ActivityDirectory, attendance AttendanceStore, validator *presence.Validator, events EventPublisher) *Service {
	return &Service{
		activities: activities,
		attendance: attendance,
		presence:   validator,
		events:     events,
		now:        time.Now,
	}
}

// MarkAttendance consumes an activity-scoped credential and records the
// holder as present.
func (s *Service) MarkAttendance(ctx context.Context, claims credential.Claims, req Request) (*models.AttendanceRecord, error) {
	activityID := strings.TrimSpace(req.ActivityID)
	if activityID == "" {
		activityID = claims.ActivityID
	}
	if claims.Tier != credential.TierActivityScoped {
		return nil, fmt.Errorf("%w: activity-scoped credential required", credential.ErrUnauthorized)
	}
	if claims.ActivityID != activityID {
		return nil, fmt.Errorf("%w: credential is scoped to another activity", credential.ErrUnauthorized)
	}

	activity, err := s.activities.GetActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("get activity %s: %w", activityID, err)
	}

	trusted := s.presence.OnTrustedNetwork(req.ClientIP, req.ReportedTrustedNetwork)
	if err := s.presence.Validate(trusted, req.Location, activity.Geofences); err != nil {
		observability.AttendanceWrites.WithLabelValues("presence_denied").Inc()
		return nil, err
	}

	rec := &models.AttendanceRecord{
		ID:           uuid.NewString(),
		IdentityID:   claims.IdentityID,
		ActivityID:   activityID,
		ActivityName: activity.Name,
		ActivityDate: activity.Date,
		Status:       models.AttendancePresent,
		Timestamp:    s.now().UTC(),
		CreatedBy:    claims.IdentityID,
	}
	if err := s.attendance.CreateAttendance(ctx, rec); err != nil {
		if errors.Is(err, ErrConflict) {
			observability.AttendanceWrites.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		observability.AttendanceWrites.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create attendance: %w", err)
	}
	observability.AttendanceWrites.WithLabelValues("recorded").Inc()

	slog.Info("attendance recorded",
		"identity_id", rec.IdentityID,
		"activity_id", rec.ActivityID,
		"trusted_network", trusted,
	)
	s.publish(ctx, models.CheckinEvent{
		Type:       models.EventAttendanceRecorded,
		IdentityID: rec.IdentityID,
		ActivityID: rec.ActivityID,
		Timestamp:  rec.Timestamp,
		Attendance: rec,
	})
	return rec, nil
}

// History lists an identity's attendance, newest first.
func (s *Service) History(ctx context.Context, identityID string) ([]models.AttendanceRecord, error) {
	records, err := s.attendance.ListAttendance(ctx, identityID, defaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}

// Get returns one of the identity's attendance records. Records of other
// identities are reported as not found.
func (s *Service) Get(ctx context.Context, identityID, id string) (*models.AttendanceRecord, error) {
	rec, err := s.attendance.GetAttendance(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAttendanceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	if rec.IdentityID != identityID {
		return nil, fmt.Errorf("attendance %s: %w", id, ErrAttendanceNotFound)
	}
	return rec, nil
}

func (s *Service) publish(ctx context.Context, ev models.CheckinEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("publish checkin event", "type", ev.Type, "identity_id", ev.IdentityID, "error", err)
	}
}
