package dto

import "time"

// CredentialResponse is returned when a face check issues a credential.
type CredentialResponse struct {
	Token       string    `json:"token"`
	TokenType   string    `json:"token_type"`
	Tier        string    `json:"tier"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name,omitempty"`
	ActivityID  string    `json:"activity_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Distance    float64   `json:"distance"`
}

// EnrollResponse summarizes a synchronous enrollment.
type EnrollResponse struct {
	IdentityID  string `json:"identity_id"`
	Accepted    int    `json:"accepted"`
	Rejected    int    `json:"rejected"`
	Descriptors int    `json:"descriptors"`
}

type GalleryCountResponse struct {
	IdentityID  string `json:"identity_id"`
	Descriptors int    `json:"descriptors"`
}
