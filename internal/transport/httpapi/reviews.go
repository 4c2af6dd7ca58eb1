package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/review"
)

type reviewHandlers struct {
	reviews Reviews
	ratings Ratings
	logger  *log.Entry
}

// POST /api/reviews
func (h *reviewHandlers) submit(c *gin.Context) {
	var req submitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	actor, _ := actorFrom(c)
	created, err := h.reviews.Submit(c.Request.Context(), actor, review.SubmitRequest{
		TransactionID: req.TransactionID,
		Type:          domain.ReviewType(req.Type),
		Rating:        req.Rating,
		Comment:       req.Comment,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toReviewResponse(created))
}

// PUT /api/reviews/:id
func (h *reviewHandlers) update(c *gin.Context) {
	var req updateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	actor, _ := actorFrom(c)
	updated, err := h.reviews.Update(c.Request.Context(), actor, c.Param("id"), review.UpdateRequest{
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toReviewResponse(updated))
}

// DELETE /api/reviews/:id
func (h *reviewHandlers) remove(c *gin.Context) {
	actor, _ := actorFrom(c)
	if err := h.reviews.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/reviews/user/:userId
func (h *reviewHandlers) forUser(c *gin.Context) {
	items, err := h.reviews.ListForUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(items, toReviewResponse))
}

// GET /api/reviews/listing/:listingId
func (h *reviewHandlers) forListing(c *gin.Context) {
	items, err := h.reviews.ListForListing(c.Request.Context(), c.Param("listingId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(items, toReviewResponse))
}

// GET /api/users/:id/rating
func (h *reviewHandlers) rating(c *gin.Context) {
	summary, err := h.ratings.Rating(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ratingResponse{
		UserID:       summary.UserID,
		Rating:       summary.Rating,
		TotalReviews: summary.TotalReviews,
	})
}
