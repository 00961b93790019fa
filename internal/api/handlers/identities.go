package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/upload"
	"github.com/your-org/facecheck/pkg/dto"
)

// IdentityHandler serves the admin gallery routes.
type IdentityHandler struct {
	enroller *gallery.Enroller
	gallery  *gallery.Gallery
	spool    *upload.Spool
}

func NewIdentityHandler(enroller *gallery.Enroller, g *gallery.Gallery, spool *upload.Spool) *IdentityHandler {
	return &IdentityHandler{enroller: enroller, gallery: g, spool: spool}
}

// AddFaces enrolls the uploaded images for the identity in the path.
func (h *IdentityHandler) AddFaces(c *gin.Context) {
	enroll(c, h.enroller, h.gallery, h.spool, c.Param("id"))
}

func (h *IdentityHandler) GalleryCount(c *gin.Context) {
	id := c.Param("id")
	n, err := h.gallery.Count(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.GalleryCountResponse{IdentityID: id, Descriptors: n})
}

// imageParts returns the "image" parts of a multipart request.
func imageParts(c *gin.Context) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("%w: multipart form required", gallery.ErrNoImages)
	}
	files := form.File["image"]
	if len(files) == 0 {
		return nil, gallery.ErrNoImages
	}
	return files, nil
}
