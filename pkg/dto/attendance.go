package dto

import "time"

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// MarkAttendanceRequest is the body of POST /v1/attendance. ActivityID may
// be omitted, in which case the credential's activity is used.
type MarkAttendanceRequest struct {
	ActivityID       string    `json:"activity_id"`
	Location         *Location `json:"location,omitempty"`
	OnTrustedNetwork bool      `json:"on_trusted_network"`
}

type AttendanceResponse struct {
	ID         string           `json:"id"`
	IdentityID string           `json:"identity_id"`
	ActivityID string           `json:"activity_id"`
	Activity   *ActivitySummary `json:"activity,omitempty"`
	Status     string           `json:"status"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ActivitySummary is the activity a record belongs to.
type ActivitySummary struct {
	Name string     `json:"name"`
	Date *time.Time `json:"date,omitempty"`
}

type AttendanceHistoryResponse struct {
	History []AttendanceResponse `json:"history"`
	Total   int                  `json:"total"`
}
