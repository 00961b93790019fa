package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facecheck/internal/auth"
	"github.com/your-org/facecheck/internal/checkin"
	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/pkg/dto"
)

type AttendanceHandler struct {
	service *checkin.Service
}

func NewAttendanceHandler(service *checkin.Service) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// Mark consumes the caller's activity-scoped credential.
func (h *AttendanceHandler) Mark(c *gin.Context) {
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req dto.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	in := checkin.Request{
		ActivityID:             req.ActivityID,
		ClientIP:               c.ClientIP(),
		ReportedTrustedNetwork: req.OnTrustedNetwork,
	}
	if req.Location != nil {
		in.Location = &models.GeoPoint{Lat: req.Location.Lat, Lon: req.Location.Lon}
	}

	rec, err := h.service.MarkAttendance(c.Request.Context(), *claims, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attendanceResponse(*rec))
}

// History lists the caller's own attendance, newest first.
func (h *AttendanceHandler) History(c *gin.Context) {
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	records, err := h.service.History(c.Request.Context(), claims.IdentityID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.AttendanceResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, attendanceResponse(r))
	}
	c.JSON(http.StatusOK, dto.AttendanceHistoryResponse{History: resp, Total: len(resp)})
}

// Get returns one of the caller's own attendance records.
func (h *AttendanceHandler) Get(c *gin.Context) {
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	rec, err := h.service.Get(c.Request.Context(), claims.IdentityID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, attendanceResponse(*rec))
}

func attendanceResponse(r models.AttendanceRecord) dto.AttendanceResponse {
	resp := dto.AttendanceResponse{
		ID:         r.ID,
		IdentityID: r.IdentityID,
		ActivityID: r.ActivityID,
		Status:     string(r.Status),
		Timestamp:  r.Timestamp,
	}
	if r.ActivityName != "" || !r.ActivityDate.IsZero() {
		resp.Activity = &dto.ActivitySummary{Name: r.ActivityName}
		if !r.ActivityDate.IsZero() {
			date := r.ActivityDate
			resp.Activity.Date = &date
		}
	}
	return resp
}
