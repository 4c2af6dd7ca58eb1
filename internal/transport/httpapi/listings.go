package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/listing"
)

type listingHandlers struct {
	listings Listings
	timeline domain.TimelineRepository
	logger   *log.Entry
}

// POST /api/listings
func (h *listingHandlers) create(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	actor, _ := actorFrom(c)
	created, err := h.listings.Create(c.Request.Context(), actor, listing.CreateRequest{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toListingResponse(created))
}

// GET /api/listings?sellerId=...
func (h *listingHandlers) list(c *gin.Context) {
	sellerID := strings.TrimSpace(c.Query("sellerId"))
	if sellerID == "" {
		respondError(c, h.logger, domain.ErrListingSellerRequired)
		return
	}
	items, err := h.listings.ListBySeller(c.Request.Context(), sellerID, queryLimit(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(items, toListingResponse))
}

// GET /api/listings/:id
func (h *listingHandlers) get(c *gin.Context) {
	found, err := h.listings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toListingResponse(found))
}

// PUT /api/listings/:id
func (h *listingHandlers) update(c *gin.Context) {
	var req updateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	actor, _ := actorFrom(c)
	updated, err := h.listings.Update(c.Request.Context(), actor, c.Param("id"), listing.UpdateRequest{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toListingResponse(updated))
}

// DELETE /api/listings/:id
func (h *listingHandlers) remove(c *gin.Context) {
	h.moderate(c, h.listings.Remove)
}

// PUT /api/admin/listings/:id/hide
func (h *listingHandlers) hide(c *gin.Context) {
	h.moderate(c, h.listings.Hide)
}

// PUT /api/admin/listings/:id/restore
func (h *listingHandlers) restore(c *gin.Context) {
	h.moderate(c, h.listings.Restore)
}

func (h *listingHandlers) moderate(c *gin.Context, op func(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error)) {
	actor, _ := actorFrom(c)
	result, err := op(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toListingResponse(result))
}

// GET /api/listings/:id/timeline
func (h *listingHandlers) history(c *gin.Context) {
	found, err := h.listings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	events, err := h.timeline.List(c.Request.Context(), domain.AggregateListing, found.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, mapSlice(events, toTimelineResponse))
}
