package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/logger"
)

// errorResponse represents a standardized error response
type errorResponse struct {
	Error errorDetail `json:"error"`
}

// errorDetail contains error information
type errorDetail struct {
	Code    domain.ErrorKind `json:"code"`
	Message string           `json:"message"`
	Details string           `json:"details,omitempty"`
}

// statusForKind maps domain error kinds to transport status codes. The core
// never decides these; this is the only place the translation lives.
var statusForKind = map[domain.ErrorKind]int{
	domain.KindValidation:        http.StatusBadRequest,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindConflict:          http.StatusConflict,
	domain.KindLimitExceeded:     http.StatusForbidden,
	domain.KindRateLimited:       http.StatusTooManyRequests,
	domain.KindInvalidTransition: http.StatusConflict,
	domain.KindInfra:             http.StatusInternalServerError,
}

// respondDomainError translates a failure from the relay core into a
// machine-readable response. Rate-limit refusals carry backoff headers;
// infra failures are logged and surface no internal detail.
func respondDomainError(c *gin.Context, err error) {
	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		c.Header("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(rle.Remaining()))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(rle.ResetAt.Unix(), 10))
		c.JSON(http.StatusTooManyRequests, errorResponse{
			Error: errorDetail{
				Code:    domain.KindRateLimited,
				Message: rle.Error(),
			},
		})
		return
	}

	kind := domain.KindOf(err)
	status := statusForKind[kind]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	message := "Internal server error"
	if kind != domain.KindInfra {
		var de *domain.Error
		if errors.As(err, &de) {
			message = de.Message
		} else {
			message = err.Error()
		}
	} else {
		logger.Error(err, zap.String("path", c.Request.URL.Path))
	}

	c.JSON(status, errorResponse{
		Error: errorDetail{
			Code:    kind,
			Message: message,
		},
	})
}

// respondBadRequest sends a 400 Bad Request response
func respondBadRequest(c *gin.Context, message string, details ...string) {
	response := errorResponse{
		Error: errorDetail{
			Code:    domain.KindValidation,
			Message: message,
		},
	}
	if len(details) > 0 {
		response.Error.Details = details[0]
	}
	c.JSON(http.StatusBadRequest, response)
}

// respondNotFound sends a 404 Not Found response
func respondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, errorResponse{
		Error: errorDetail{
			Code:    domain.KindNotFound,
			Message: message,
		},
	})
}
