package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facecheck/internal/auth"
	"github.com/your-org/facecheck/internal/credential"
	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/upload"
	"github.com/your-org/facecheck/pkg/dto"
)

type FaceHandler struct {
	machine  *credential.Machine
	enroller *gallery.Enroller
	gallery  *gallery.Gallery
	spool    *upload.Spool
}

func NewFaceHandler(machine *credential.Machine, enroller *gallery.Enroller, g *gallery.Gallery, spool *upload.Spool) *FaceHandler {
	return &FaceHandler{machine: machine, enroller: enroller, gallery: g, spool: spool}
}

// Verify exchanges the caller's session credential and a live image for an
// activity-scoped credential.
func (h *FaceHandler) Verify(c *gin.Context) {
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	img, err := h.readImage(c)
	if err != nil {
		respondError(c, err)
		return
	}

	grant, err := h.machine.VerifyAndScopeClaims(c.Request.Context(), *claims, img, c.PostForm("activity_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, credentialResponse(grant))
}

// Identify issues a short-lived face-verified credential to whoever is in
// the image. Disabled unless credentials.legacy_face_verified is set.
func (h *FaceHandler) Identify(c *gin.Context) {
	img, err := h.readImage(c)
	if err != nil {
		respondError(c, err)
		return
	}

	grant, err := h.machine.Identify(c.Request.Context(), img)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, credentialResponse(grant))
}

// Train enrolls the session holder's own face images.
func (h *FaceHandler) Train(c *gin.Context) {
	claims, ok := auth.FromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}
	enroll(c, h.enroller, h.gallery, h.spool, claims.IdentityID)
}

// readImage spools the single "image" part, reads it and removes it again.
func (h *FaceHandler) readImage(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("%w: image file required", credential.ErrBadRequest)
	}
	tmp, err := h.spool.Save(fh)
	if err != nil {
		return nil, err
	}
	defer upload.DiscardAll(context.WithoutCancel(c.Request.Context()), []upload.Image{tmp})
	return tmp.Bytes(c.Request.Context())
}

func credentialResponse(g credential.Grant) dto.CredentialResponse {
	return dto.CredentialResponse{
		Token:       g.Token,
		TokenType:   "Bearer",
		Tier:        string(g.Claims.Tier),
		IdentityID:  g.Claims.IdentityID,
		DisplayName: g.Claims.DisplayName,
		ActivityID:  g.Claims.ActivityID,
		ExpiresAt:   g.Claims.ExpiresAt,
		Distance:    g.Match.Distance,
	}
}

// enroll runs a synchronous enrollment of every "image" part for identityID.
func enroll(c *gin.Context, enroller *gallery.Enroller, g *gallery.Gallery, spool *upload.Spool, identityID string) {
	files, err := imageParts(c)
	if err != nil {
		respondError(c, err)
		return
	}
	images, err := spool.SaveAll(files)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := enroller.Enroll(c.Request.Context(), identityID, images)
	if err != nil {
		respondError(c, err)
		return
	}

	total, err := g.Count(c.Request.Context(), identityID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Accepted == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, dto.EnrollResponse{
		IdentityID:  identityID,
		Accepted:    res.Accepted,
		Rejected:    res.Rejected,
		Descriptors: total,
	})
}
