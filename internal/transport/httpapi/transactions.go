package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
)

const maxListLimit = 100

type transactionHandlers struct {
	lifecycle Lifecycle
	timeline  domain.TimelineRepository
	logger    *log.Entry
}

// POST /api/transactions
func (h *transactionHandlers) reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	h.doReserve(c, req.ListingID)
}

// POST /api/listings/:id/reserve
func (h *transactionHandlers) reserveListing(c *gin.Context) {
	h.doReserve(c, c.Param("id"))
}

func (h *transactionHandlers) doReserve(c *gin.Context, listingID string) {
	actor, _ := actorFrom(c)
	tx, err := h.lifecycle.Reserve(c.Request.Context(), listingID, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toTransactionResponse(tx))
}

// PUT /api/transactions/:id/status: продавец подтверждает продажу.
func (h *transactionHandlers) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if domain.TransactionStatus(req.Status) != domain.TransactionStatusCompleted {
		respondError(c, h.logger, domain.ErrInvalidStatusUpdate)
		return
	}

	actor, _ := actorFrom(c)
	tx, err := h.lifecycle.CompleteBySeller(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(tx))
}

// PUT /api/transactions/:id/complete: покупатель подтверждает получение.
func (h *transactionHandlers) complete(c *gin.Context) {
	actor, _ := actorFrom(c)
	tx, err := h.lifecycle.CompleteByBuyer(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(tx))
}

// PUT /api/transactions/:id/cancel
func (h *transactionHandlers) cancel(c *gin.Context) {
	var req cancelRequest
	// Тело необязательно.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, err)
		return
	}

	actor, _ := actorFrom(c)
	tx, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(tx))
}

// GET /api/transactions/:id
func (h *transactionHandlers) get(c *gin.Context) {
	actor, _ := actorFrom(c)
	tx, err := h.lifecycle.GetTransaction(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(tx))
}

// GET /api/transactions/my-transactions
func (h *transactionHandlers) mine(c *gin.Context) {
	actor, _ := actorFrom(c)
	txs, err := h.lifecycle.ListForUser(c.Request.Context(), actor, queryLimit(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(txs, toTransactionResponse))
}

// GET /api/transactions/:id/timeline
func (h *transactionHandlers) history(c *gin.Context) {
	actor, _ := actorFrom(c)
	// Доступ к истории такой же, как к самой сделке.
	tx, err := h.lifecycle.GetTransaction(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	events, err := h.timeline.List(c.Request.Context(), domain.AggregateTransaction, tx.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(events, toTimelineResponse))
}

func toTimelineResponse(e domain.TimelineEvent) timelineResponse {
	return timelineResponse{Type: e.Type, ActorID: e.ActorID, Reason: e.Reason, Occurred: e.Occurred}
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
