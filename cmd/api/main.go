package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noesis/internal/attendance"
	"noesis/internal/auth"
	"noesis/internal/checkin"
	"noesis/internal/cloudinary"
	"noesis/internal/config"
	"noesis/internal/geo"
	"noesis/internal/httpmiddleware"
	"noesis/internal/qrtoken"
	"noesis/internal/queue"
	"noesis/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var tokenStore qrtoken.Store
	if cfg.TokenStore == "redis" {
		tokenStore = qrtoken.NewRedisStore(redisClient.Client, "qr")
	} else {
		tokenStore = qrtoken.NewMemoryStore()
	}
	issuer := qrtoken.NewIssuer(tokenStore)
	verifier := checkin.NewVerifier(issuer)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "noesis:checkins")
	}

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	var photos attendance.PhotoUploader
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		photos = cdnClient
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	repo := attendance.NewRepository(db.Client)
	att := attendance.NewService(repo, verifier, photos, q)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := att.RegisterDevice(c.Request.Context(), req.DeviceID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.DeviceID, auth.RoleDevice, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = repo.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Lecturer tokens are provisioned with a shared key; disabled unless
	// LECTURER_PROVISION_KEY is set.
	r.POST("/v1/lecturers/register", func(c *gin.Context) {
		var req struct {
			LecturerID   string `json:"lecturer_id" binding:"required"`
			ProvisionKey string `json:"provision_key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if cfg.LecturerProvisionKey == "" || req.ProvisionKey != cfg.LecturerProvisionKey {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid provision key"})
			return
		}

		tokens, err := auth.Issue(req.LecturerID, auth.RoleLecturer, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// QR code management is the lecturer's job; a device token must not be
	// able to rotate or kill a session's codes.
	qrGroup := authGroup.Group("", auth.RequireRole(auth.RoleLecturer))

	// Issue or rotate the displayed QR code for a session. Rotation never
	// invalidates earlier codes before their own expiry.
	qrGroup.POST("/sessions/:id/qr", func(c *gin.Context) {
		var req struct {
			TTLMinutes int `json:"ttl_minutes"`
		}
		_ = c.ShouldBindJSON(&req)
		ttl := cfg.QRTokenTTL
		if req.TTLMinutes > 0 {
			ttl = time.Duration(req.TTLMinutes) * time.Minute
		}

		token, err := issuer.Rotate(c.Request.Context(), c.Param("id"), ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		img, err := qrtoken.Render(token, cfg.QRImageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"token":        token,
			"image_base64": base64.StdEncoding.EncodeToString(img),
		})
	})

	qrGroup.GET("/sessions/:id/qr", func(c *gin.Context) {
		token, ok, err := issuer.LookupActive(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token lookup failed"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active token for session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	qrGroup.GET("/sessions/:id/qr/image", func(c *gin.Context) {
		token, ok, err := issuer.LookupActive(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token lookup failed"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active token for session"})
			return
		}
		img, err := qrtoken.Render(token, cfg.QRImageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", img)
	})

	qrGroup.DELETE("/qr/:tokenId", func(c *gin.Context) {
		removed, err := issuer.Deactivate(c.Request.Context(), c.Param("tokenId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deactivate failed"})
			return
		}
		if !removed {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not active"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/checkins", func(c *gin.Context) {
		var req struct {
			SessionID string        `json:"session_id" binding:"required"`
			StudentID string        `json:"student_id" binding:"required"`
			QRPayload string        `json:"qr_payload"`
			Location  *geo.GeoPoint `json:"location"`
			Photo     string        `json:"photo"` // base64 data URL, optional
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claim := checkin.Claim{
			SessionID:      req.SessionID,
			StudentID:      req.StudentID,
			ScannedPayload: req.QRPayload,
			Location:       req.Location,
		}
		if req.Photo != "" {
			photo, err := decodeDataURL(req.Photo)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "photo must be a base64 data URL"})
				return
			}
			claim.Photo = photo
		}

		rec, verdict, err := att.CheckIn(c.Request.Context(), claim)
		switch {
		case errors.Is(err, attendance.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		case errors.Is(err, attendance.ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "session closed"})
			return
		case err != nil:
			log.Printf("checkin failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkin failed"})
			return
		}

		if !verdict.Accepted {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"verdict": verdict})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"verdict": verdict, "record": rec})
	})

	authGroup.GET("/sessions/:id/records", func(c *gin.Context) {
		records, err := repo.ListRecords(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// decodeDataURL accepts "data:image/jpeg;base64,..." or bare base64.
func decodeDataURL(data string) ([]byte, error) {
	if i := strings.IndexByte(data, ','); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
