package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/config"
	"github.com/stemsi/examcore/internal/handler"
	"github.com/stemsi/examcore/internal/middleware"
	"github.com/stemsi/examcore/internal/response"
	"github.com/stemsi/examcore/internal/service"
)

// paperMaxAge is how long a browser may reuse a fetched exam paper.
const paperMaxAge = 60

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Participant *handler.ParticipantHandler
	Grader      *handler.GraderHandler
	Media       *handler.MediaHandler
	WS          *handler.WSHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// answerLimiter throttles answer writes per participant.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	answerLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(response.AccessLog(log))

	router.GET("/health", handlers.System.Health)

	// ─── 1. Participant Group (JWT + role) ─────────────────────────────
	participantAPI := router.Group("/api/v1/participant")
	participantAPI.Use(
		middleware.RequireIdentity(authService),
		middleware.RequireRole(service.RoleParticipant),
	)
	{
		participantAPI.POST("/exams/:exam_id/session", handlers.Participant.OpenSession)
		participantAPI.GET("/sessions/:session_id", middleware.NoStore(), handlers.Participant.GetState)
		participantAPI.GET("/sessions/:session_id/paper",
			middleware.CacheControl(paperMaxAge),
			middleware.Brotli(),
			handlers.Participant.GetPaper,
		)
		participantAPI.PUT("/sessions/:session_id/answers/:question_id",
			answerLimiter.Middleware(),
			handlers.Participant.RecordAnswer,
		)
		participantAPI.POST("/sessions/:session_id/answers/:question_id/file",
			answerLimiter.Middleware(),
			handlers.Media.UploadAnswerFile,
		)
		participantAPI.GET("/sessions/:session_id/answers/:question_id/file",
			middleware.NoStore(),
			handlers.Media.DownloadAnswerFile,
		)
		participantAPI.POST("/sessions/:session_id/submit", handlers.Participant.Submit)
	}

	// ─── 2. WebSocket Group (WS auth) ──────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSIdentity(authService),
		middleware.RequireRole(service.RoleParticipant),
	)
	{
		ws.GET("/participant/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Grader Group (JWT + role) ──────────────────────────────────
	graderAPI := router.Group("/api/v1/grader")
	graderAPI.Use(
		middleware.RequireIdentity(authService),
		middleware.RequireRole(service.RoleGrader),
		middleware.NoStore(),
	)
	{
		graderAPI.GET("/exams/:exam_id/sessions", middleware.Brotli(), handlers.Grader.ListSessions)
		graderAPI.GET("/exams/:exam_id/participants/:participant_ref/session", middleware.Brotli(), handlers.Grader.GetSession)
		graderAPI.PUT("/sessions/:session_id/grades/:question_id", handlers.Grader.ApplyManualGrade)
		graderAPI.POST("/sessions/:session_id/recompute", handlers.Grader.Recompute)
		graderAPI.GET("/sessions/:session_id/answers/:question_id/file", handlers.Media.DownloadAnswerFile)
	}

	return router
}
