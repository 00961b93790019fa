package dto

import "time"

// EnrollmentQueuedResponse acknowledges an asynchronous enrollment. The
// outcome arrives later as an enrollment_finished event.
type EnrollmentQueuedResponse struct {
	TaskID     string    `json:"task_id"`
	IdentityID string    `json:"identity_id"`
	Images     int       `json:"images"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
