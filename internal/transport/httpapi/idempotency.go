package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/idempotency"
)

// HeaderIdempotencyKey: заголовок с ключом повтора запроса.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplay выставляется на ответах, взятых из хранилища ключей.
const HeaderIdempotentReplay = "Idempotent-Replayed"

const maxIdempotentBody = 1 << 20

// bodyRecorder дублирует тело ответа, чтобы сохранить его под ключом.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency повторяет сохранённый ответ для запроса с тем же Idempotency-Key.
// Ключи изолированы по актору: чужой ключ не даёт доступа к чужому ответу.
func Idempotency(guard *idempotency.Guard, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if guard == nil || rawKey == "" {
			c.Next()
			return
		}

		actor, _ := actorFrom(c)
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotentBody+1))
		if err != nil {
			respondBadRequest(c, err)
			return
		}
		// Обрезанное тело дало бы хеш не того запроса, поэтому такие запросы отклоняются.
		if len(body) > maxIdempotentBody {
			abortWith(c, http.StatusRequestEntityTooLarge, domain.KindName(domain.ErrInvalidOperation),
				"request body exceeds the idempotent request limit")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		key := actor.ID + ":" + rawKey
		hash := requestHash(c.Request.Method, c.Request.URL.Path, body)

		decision, err := guard.Begin(c.Request.Context(), key, hash)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		if decision.Replay {
			c.Header(HeaderIdempotentReplay, "true")
			c.Data(decision.Record.HTTPStatus, "application/json; charset=utf-8", decision.Record.ResponseBody)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if status == 0 {
			status = http.StatusOK
		}
		// Ответ уже отправлен, отмена клиента не должна оставить ключ в processing.
		if err := guard.Finish(context.WithoutCancel(c.Request.Context()), key, status, recorder.body.Bytes()); err != nil {
			logger.WithError(err).WithField("idempotency_key", rawKey).Warn("failed to store idempotent response")
		}
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(bytes.TrimSpace(body))
	return hex.EncodeToString(h.Sum(nil))
}
