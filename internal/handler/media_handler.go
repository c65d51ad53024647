package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/middleware"
	"github.com/stemsi/examcore/internal/response"
	"github.com/stemsi/examcore/internal/service"
)

// multipartOverhead is allowed on top of the file size limit for form boundaries and headers.
const multipartOverhead = 1 << 20

// MediaHandler handles answer file uploads and downloads.
type MediaHandler struct {
	answerService  *service.AnswerService
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(answerService *service.AnswerService, maxUploadBytes int64, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		answerService:  answerService,
		maxUploadBytes: maxUploadBytes,
		log:            log.With().Str("component", "media_handler").Logger(),
	}
}

// UploadAnswerFile godoc
// POST /api/v1/participant/sessions/:session_id/answers/:question_id/file
// Stores the uploaded file and records its reference as the answer.
func (h *MediaHandler) UploadAnswerFile(c *gin.Context) {
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

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		return
	}

	ref, err := h.answerService.RecordFile(c.Request.Context(), ident, sessionID, questionID, service.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	ref.URL = c.Request.URL.Path
	response.Success(c, http.StatusAccepted, gin.H{"question_id": questionID, "file": ref})
}

// DownloadAnswerFile godoc
// GET /api/v1/participant/sessions/:session_id/answers/:question_id/file
// GET /api/v1/grader/sessions/:session_id/answers/:question_id/file
// Streams the file recorded as the answer after the session's owner or tenant is checked.
func (h *MediaHandler) DownloadAnswerFile(c *gin.Context) {
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

	f, err := h.answerService.OpenAnswerFile(c.Request.Context(), ident, sessionID, questionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", "attachment")
	http.ServeContent(c.Writer, c.Request, "", time.Time{}, f)
}
