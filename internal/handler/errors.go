package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/response"
	"github.com/stemsi/examcore/internal/service"
)

// respondError maps domain errors to their HTTP status and code. Anything else is
// logged and reported as an internal error.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	var de *service.Error
	if errors.As(err, &de) {
		response.FailWithMessage(c, statusForKind(de.Kind), response.ErrCode(de.Code), de.Msg)
		return
	}

	log.Error().Err(err).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Msg("Request failed")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}

func statusForKind(k service.Kind) int {
	switch k {
	case service.KindValidation, service.KindDataIntegrity:
		return http.StatusUnprocessableEntity
	case service.KindState:
		return http.StatusConflict
	case service.KindWindow:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// paramUUID parses a UUID path parameter, writing a 400 on failure.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
