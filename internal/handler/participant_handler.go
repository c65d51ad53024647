package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/middleware"
	"github.com/stemsi/examcore/internal/model"
	"github.com/stemsi/examcore/internal/response"
	"github.com/stemsi/examcore/internal/service"
	"github.com/stemsi/examcore/internal/validator"
)

// ParticipantHandler handles participant-facing endpoints (open, answer, submit).
type ParticipantHandler struct {
	sessionService *service.ExamSessionService
	answerService  *service.AnswerService
	gradingService *service.GradingService
	examService    *service.ExamService
	log            zerolog.Logger
}

// NewParticipantHandler creates a new ParticipantHandler.
func NewParticipantHandler(
	sessionService *service.ExamSessionService,
	answerService *service.AnswerService,
	gradingService *service.GradingService,
	examService *service.ExamService,
	log zerolog.Logger,
) *ParticipantHandler {
	return &ParticipantHandler{
		sessionService: sessionService,
		answerService:  answerService,
		gradingService: gradingService,
		examService:    examService,
		log:            log.With().Str("component", "participant_handler").Logger(),
	}
}

// OpenSession godoc
// POST /api/v1/participant/exams/:exam_id/session
// Creates the participant's session or resumes the one in progress.
func (h *ParticipantHandler) OpenSession(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	view, err := h.sessionService.OpenOrResume(c.Request.Context(), ident, examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"session": view})
}

// GetState godoc
// GET /api/v1/participant/sessions/:session_id
// Returns answers recorded so far and the remaining time.
func (h *ParticipantHandler) GetState(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	view, err := h.sessionService.GetState(c.Request.Context(), ident, sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// GetPaper godoc
// GET /api/v1/participant/sessions/:session_id/paper
// Returns the questions of the session's exam without answer keys.
func (h *ParticipantHandler) GetPaper(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	paper, err := h.examService.GetPaper(c.Request.Context(), ident, sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}

// RecordAnswer godoc
// PUT /api/v1/participant/sessions/:session_id/answers/:question_id
// Accepts one answer edit. Persistence happens asynchronously.
func (h *ParticipantHandler) RecordAnswer(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}
	questionID, ok := paramUUID(c, "question_id")
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	outcome, err := h.answerService.RecordAnswer(c.Request.Context(), ident, sessionID, questionID, req.Value)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{
		"question_id": questionID,
		"changed":     outcome == model.BufferStored,
	})
}

// Submit godoc
// POST /api/v1/participant/sessions/:session_id/submit
// Submits the session. Whether it counts as auto-submitted is decided by the server clock.
func (h *ParticipantHandler) Submit(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	var req model.SubmitSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answers, err := model.ParseAnswers(req.Answers)
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"answers": err.Error()})
		return
	}

	result, err := h.gradingService.Submit(c.Request.Context(), ident, sessionID, answers, req.AutoSubmit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}
