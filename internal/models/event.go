package models

import "time"

// EnrollmentTask is the message published to NATS for worker processing.
type EnrollmentTask struct {
	TaskID     string    `json:"task_id"`
	IdentityID string    `json:"identity_id"`
	ObjectKeys []string  `json:"object_keys"` // MinIO keys of the staged images
	CreatedAt  time.Time `json:"created_at"`
}

// EnrollmentResult is the outcome of an EnrollmentTask.
type EnrollmentResult struct {
	TaskID     string `json:"task_id"`
	IdentityID string `json:"identity_id"`
	Accepted   int    `json:"accepted"`
	Rejected   int    `json:"rejected"`
	Error      string `json:"error,omitempty"`
}

type CheckinEventType string

const (
	EventAttendanceRecorded CheckinEventType = "attendance_recorded"
	EventEnrollmentFinished CheckinEventType = "enrollment_finished"
)

// CheckinEvent is published on the EVENTS stream and relayed to WebSocket clients.
type CheckinEvent struct {
	Type       CheckinEventType  `json:"type"`
	IdentityID string            `json:"identity_id"`
	ActivityID string            `json:"activity_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Attendance *AttendanceRecord `json:"attendance,omitempty"`
	Enrollment *EnrollmentResult `json:"enrollment,omitempty"`
}
