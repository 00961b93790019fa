package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facecheck/internal/checkin"
	"github.com/your-org/facecheck/internal/credential"
	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/presence"
	"github.com/your-org/facecheck/internal/upload"
	"github.com/your-org/facecheck/pkg/dto"
)

const codeInternal = "internal"

// errorCodes is checked in order; the first match wins.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{gallery.ErrNoFaceDetected, http.StatusUnprocessableEntity, "no_face_detected"},
	{models.ErrMultipleFaces, http.StatusUnprocessableEntity, "multiple_faces"},
	{gallery.ErrExtractionTimeout, http.StatusGatewayTimeout, "timeout"},
	{credential.ErrNoFaceRecognized, http.StatusUnauthorized, "no_face_recognized"},
	{credential.ErrIdentityMismatch, http.StatusForbidden, "identity_mismatch"},
	{credential.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{presence.ErrLocationRequired, http.StatusBadRequest, "location_required"},
	{presence.ErrNoLocationConfigured, http.StatusBadRequest, "no_location_configured"},
	{presence.ErrOutsideGeofence, http.StatusForbidden, "outside_geofence"},
	{gallery.ErrIdentityNotFound, http.StatusNotFound, "not_found"},
	{checkin.ErrActivityNotFound, http.StatusNotFound, "not_found"},
	{checkin.ErrAttendanceNotFound, http.StatusNotFound, "not_found"},
	{credential.ErrLegacyDisabled, http.StatusNotFound, "not_found"},
	{checkin.ErrConflict, http.StatusConflict, "conflict"},
	{credential.ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{gallery.ErrBatchTooLarge, http.StatusBadRequest, "bad_request"},
	{gallery.ErrNoImages, http.StatusBadRequest, "bad_request"},
	{upload.ErrTooLarge, http.StatusBadRequest, "bad_request"},
	{models.ErrUndecodable, http.StatusBadRequest, "bad_request"},
}

// Classify maps a domain error to its HTTP status and stable code.
func Classify(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, codeInternal
}

// respondError writes the error body and aborts. Internal errors are logged
// and their text is not exposed.
func respondError(c *gin.Context, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if code == codeInternal {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Code: code, Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Code: "bad_request", Error: msg})
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Code: "unauthorized", Error: "credential required"})
}
