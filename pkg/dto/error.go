package dto

// ErrorResponse is the body of every non-2xx API response. Code is stable
// across releases; Error is for humans.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}
