package api

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facecheck/internal/api/handlers"
	"github.com/your-org/facecheck/internal/api/ws"
	"github.com/your-org/facecheck/internal/auth"
	"github.com/your-org/facecheck/internal/checkin"
	"github.com/your-org/facecheck/internal/credential"
	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/upload"
)

type RouterConfig struct {
	APIKey         string
	TrustedProxies []string

	Machine    *credential.Machine
	Gallery    *gallery.Gallery
	Enroller   *gallery.Enroller
	Identities gallery.IdentityDirectory
	Checkin    *checkin.Service
	Spool      *upload.Spool

	// Objects and Tasks enable asynchronous enrollment. Leave either nil to
	// disable POST /v1/enrollments.
	Objects     handlers.ObjectStager
	Tasks       handlers.TaskPublisher
	MaxBatch    int
	MaxFileSize int64

	Checks map[string]handlers.Check
	Hub    *ws.Hub
}

func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	issuer := cfg.Machine.Issuer()
	session := auth.BearerMiddleware(issuer, credential.TierSession)
	scoped := auth.BearerMiddleware(issuer, credential.TierActivityScoped)
	anyTier := auth.BearerMiddleware(issuer, credential.TierSession, credential.TierActivityScoped)

	// Face checks
	faceH := handlers.NewFaceHandler(cfg.Machine, cfg.Enroller, cfg.Gallery, cfg.Spool)
	v1.POST("/face/verify", session, faceH.Verify)
	v1.POST("/face/identify", faceH.Identify)
	v1.POST("/face/train", session, faceH.Train)

	// Attendance
	attendanceH := handlers.NewAttendanceHandler(cfg.Checkin)
	v1.POST("/attendance", scoped, attendanceH.Mark)
	v1.GET("/attendance/me", anyTier, attendanceH.History)
	v1.GET("/attendance/:id", anyTier, attendanceH.Get)

	// Admin
	admin := v1.Group("")
	admin.Use(auth.APIKeyMiddleware(cfg.APIKey))

	identityH := handlers.NewIdentityHandler(cfg.Enroller, cfg.Gallery, cfg.Spool)
	admin.POST("/identities/:id/faces", identityH.AddFaces)
	admin.GET("/identities/:id/gallery", identityH.GalleryCount)

	if cfg.Objects != nil && cfg.Tasks != nil {
		enrollH := handlers.NewEnrollmentHandler(cfg.Identities, cfg.Objects, cfg.Tasks, cfg.MaxBatch, cfg.MaxFileSize)
		admin.POST("/enrollments", enrollH.Create)
	}

	if cfg.Hub != nil {
		admin.GET("/ws", cfg.Hub.HandleWS)
	}

	return r, nil
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", "X-API-Key")
	return c
}
