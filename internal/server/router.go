package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/dominotes/internal/auth"
	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "dominotes_request_id"
	actionHeader        = "x-action"
)

var (
	errMissingNotesService = errors.New("notes service dependency required")
	errMissingCredentials  = errors.New("credential service dependency required")
	errMissingSessions     = errors.New("session manager dependency required")
)

// CredentialService verifies and stores the owner's PIN.
type CredentialService interface {
	HasPin(ctx context.Context) (bool, error)
	SetupPin(ctx context.Context, pin string) error
	VerifyPin(ctx context.Context, pin string) error
}

// SessionManager mints and checks the session cookie.
type SessionManager interface {
	IssueToken() (string, int64, error)
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

type Dependencies struct {
	NotesService   *notes.Service
	Credentials    CredentialService
	Sessions       SessionManager
	Realtime       *RealtimeDispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
	SecureCookies  bool
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.Credentials == nil {
		return nil, errMissingCredentials
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		notesService:  deps.NotesService,
		credentials:   deps.Credentials,
		sessions:      deps.Sessions,
		realtime:      realtime,
		logger:        logger,
		secureCookies: deps.SecureCookies,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/api/auth/pin", handler.handlePin)
	router.POST("/api/auth/logout", handler.handleLogout)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PUT("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.GET("/folders", handler.handleListFolders)
	protected.POST("/folders", handler.handleCreateFolder)
	protected.GET("/folders/:id", handler.handleGetFolder)
	protected.PUT("/folders/:id", handler.handleUpdateFolder)
	protected.DELETE("/folders/:id", handler.handleDeleteFolder)
	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	notesService  *notes.Service
	credentials   CredentialService
	sessions      SessionManager
	realtime      *RealtimeDispatcher
	logger        *zap.Logger
	secureCookies bool
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if _, err := h.sessions.ValidateRequest(c.Request); err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
			h.logger.Debug("session validation failed", zap.Error(err))
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

func (h *httpHandler) isAuthenticated(r *http.Request) bool {
	_, err := h.sessions.ValidateRequest(r)
	return err == nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", actionHeader, requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		// Credentialed requests cannot use "*", so echo the caller's origin instead.
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			generated, err := uuid.NewV7()
			if err != nil {
				generated = uuid.New()
			}
			requestID = generated.String()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request completed", fields...)
			return
		}
		logger.Debug("request completed", fields...)
	}
}
