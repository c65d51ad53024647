package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/middleware"
	"github.com/stemsi/examcore/internal/model"
	"github.com/stemsi/examcore/internal/response"
	"github.com/stemsi/examcore/internal/service"
	ws "github.com/stemsi/examcore/internal/websocket"
)

const (
	// countdownSlack keeps the forced submission strictly after the deadline.
	countdownSlack = 250 * time.Millisecond
	forceTimeout   = 15 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a running session: autosave edits in, deadline events out.
type WSHandler struct {
	answerService  *service.AnswerService
	gradingService *service.GradingService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(answerService *service.AnswerService, gradingService *service.GradingService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		answerService:  answerService,
		gradingService: gradingService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/participant/sessions/:session_id/stream
// Binds the connection to one session. When the deadline passes while connected the
// session is force-submitted and the client receives time_expired.
func (h *WSHandler) SessionStream(c *gin.Context) {
	ident, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}

	// Resolve before upgrading so failures get a proper HTTP status.
	attempt, err := h.answerService.Bind(c.Request.Context(), ident, sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !attempt.Session.Open() {
		respondError(c, h.log, service.ErrAlreadySubmitted)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	peer := ws.NewPeer(conn)
	defer peer.Close("")

	wsLog := h.log.With().
		Str("session_id", sessionID.String()).
		Str("participant_ref", ident.Subject).
		Logger()
	wsLog.Info().Time("deadline", attempt.Deadline).Msg("Participant connected")

	now := time.Now()
	peer.WriteTyped(ws.ReadyResponse{
		Event:            ws.EventReady,
		SessionID:        sessionID.String(),
		Deadline:         attempt.Deadline,
		ServerTime:       now,
		RemainingSeconds: service.Remaining(attempt.Deadline, now).Seconds(),
	})

	countdown := h.arm(peer, wsLog, attempt)
	defer func() { countdown.Cancel() }()

	ctx := c.Request.Context()
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, peer, wsLog, attempt, &msg)
		case ws.ActionSubmit:
			if !countdown.Cancel() {
				// The deadline won; the forced submission owns the connection now.
				<-countdown.Done()
				return
			}
			if h.handleSubmit(ctx, peer, wsLog, ident, sessionID, &msg) {
				peer.Close("submitted")
				return
			}
			countdown = h.arm(peer, wsLog, attempt)
		case ws.ActionPing:
			peer.WriteTyped(ws.PongResponse{
				Event:            ws.EventPong,
				RemainingSeconds: service.Remaining(attempt.Deadline, time.Now()).Seconds(),
			})
		default:
			peer.WriteError(string(response.ErrValidation), "unknown action: "+string(msg.Action))
		}
	}
}

// arm starts the server-side deadline for this connection.
func (h *WSHandler) arm(peer *ws.Peer, wsLog zerolog.Logger, attempt *service.Attempt) *service.Countdown {
	d := service.Remaining(attempt.Deadline, time.Now()) + countdownSlack
	return service.StartCountdown(d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), forceTimeout)
		defer cancel()

		res, err := h.gradingService.ForceSubmit(ctx, attempt.Session.ID)
		switch {
		case errors.Is(err, service.ErrAlreadySubmitted):
			wsLog.Debug().Msg("Deadline reached after submission")
		case err != nil:
			wsLog.Error().Err(err).Msg("Forced submission failed")
			peer.WriteError(string(response.ErrInternal), "forced submission failed")
		default:
			wsLog.Info().Msg("Deadline reached, session force-submitted")
			peer.WriteTyped(submittedResponse(ws.EventTimeExpired, res))
		}
		peer.Close("time expired")
	})
}

func (h *WSHandler) handleAutosave(ctx context.Context, peer *ws.Peer, wsLog zerolog.Logger, attempt *service.Attempt, msg *ws.RequestPayload) {
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		peer.WriteError(string(response.ErrInvalidID), "invalid question_id")
		return
	}

	outcome, err := h.answerService.Record(ctx, attempt, questionID, msg.Value)
	if err != nil {
		writeError(peer, wsLog, err)
		return
	}

	peer.WriteTyped(ws.SavedResponse{
		Event:      ws.EventSaved,
		QuestionID: msg.QuestionID,
		Changed:    outcome == model.BufferStored,
	})
}

// handleSubmit reports whether the session is closed afterwards.
func (h *WSHandler) handleSubmit(ctx context.Context, peer *ws.Peer, wsLog zerolog.Logger, ident service.Identity, sessionID uuid.UUID, msg *ws.RequestPayload) bool {
	answers, err := model.ParseAnswers(msg.Answers)
	if err != nil {
		peer.WriteError(string(response.ErrValidation), err.Error())
		return false
	}

	res, err := h.gradingService.Submit(ctx, ident, sessionID, answers, msg.AutoSubmit)
	if err != nil {
		writeError(peer, wsLog, err)
		return errors.Is(err, service.ErrAlreadySubmitted)
	}

	wsLog.Info().
		Float64("score", res.Scorecard.Score).
		Bool("auto_submitted", res.Session.AutoSubmitted).
		Msg("Session submitted")
	peer.WriteTyped(submittedResponse(ws.EventSubmitted, res))
	return true
}

func submittedResponse(event ws.Event, res *service.SubmissionResult) ws.SubmittedResponse {
	out := ws.SubmittedResponse{
		Event:         event,
		Status:        string(res.Session.Status),
		AutoSubmitted: res.Session.AutoSubmitted,
		Score:         res.Scorecard.Score,
		TotalPoints:   res.Scorecard.TotalPoints,
		PendingManual: len(res.Scorecard.Pending),
	}
	if res.Session.SubmittedAt != nil {
		out.SubmittedAt = *res.Session.SubmittedAt
	}
	return out
}

func writeError(peer *ws.Peer, log zerolog.Logger, err error) {
	var de *service.Error
	if errors.As(err, &de) {
		peer.WriteError(de.Code, de.Msg)
		return
	}
	log.Error().Err(err).Msg("Stream action failed")
	peer.WriteError(string(response.ErrInternal), response.GetMessage(response.ErrInternal))
}
