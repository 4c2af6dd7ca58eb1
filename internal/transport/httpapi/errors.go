package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

// Виды ошибок транспортного уровня, которых нет в доменной таксономии.
const (
	kindUnauthorized = "Unauthorized"
	kindRateLimited  = "RateLimited"
	kindInternal     = "Internal"
)

var errUnauthorized = errors.New("authentication required")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor переводит вид доменной ошибки в HTTP-статус.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrConflict:
		return http.StatusConflict
	case domain.ErrInvalidOperation:
		return http.StatusBadRequest
	case domain.ErrExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// respondError пишет тело ошибки. Внутренние причины только логируются.
func respondError(c *gin.Context, logger *log.Entry, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
		abortWith(c, status, kindInternal, "internal server error")
		return
	}
	abortWith(c, status, domain.KindName(err), strings.ReplaceAll(err.Error(), "\n", "; "))
}

func respondBadRequest(c *gin.Context, err error) {
	abortWith(c, http.StatusBadRequest, domain.KindName(domain.ErrInvalidOperation), "invalid request body: "+err.Error())
}

func abortWith(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}
