package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/idempotency"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/listing"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/rating"
	"github.com/vladislavdragonenkov/campusmarket/internal/service/review"
	"github.com/vladislavdragonenkov/campusmarket/internal/storage/memory"
	"github.com/vladislavdragonenkov/campusmarket/internal/transport/httpapi"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.SetLevel(log.PanicLevel)
	os.Exit(m.Run())
}

type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

type RouterSuite struct {
	suite.Suite

	store  *memory.Store
	router *gin.Engine
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.store = memory.NewStore()
	s.router = newRouter(s.store, httpapi.RouterConfig{Auth: httpapi.AuthConfig{Disabled: true}})

	s.store.PutListing(domain.Listing{
		ID:        "listing-1",
		SellerID:  "seller-1",
		Title:     "Calculus textbook",
		Price:     decimal.RequireFromString("25.50"),
		Status:    domain.ListingStatusAvailable,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
}

func newRouter(store *memory.Store, cfg httpapi.RouterConfig) *gin.Engine {
	coord := lifecycle.NewCoordinator(store, store.Transactions())
	ratings := rating.NewAggregator(store.Reviews(), store.Users())
	return httpapi.NewRouter(cfg, httpapi.Services{
		Lifecycle: coord,
		Listings:  listing.NewService(store.Listings(), coord, listing.WithTimeline(store.Timeline())),
		Reviews:   review.NewService(store.Reviews(), store.Transactions(), ratings, review.WithTimeline(store.Timeline())),
		Ratings:   ratings,
		Timeline:  store.Timeline(),
	}, idempotency.NewGuard(store.Idempotency(), time.Hour))
}

type request struct {
	method   string
	path     string
	body     any
	actor    string
	role     string
	verified *bool
	headers  map[string]string
}

func (s *RouterSuite) do(r request) *httptest.ResponseRecorder {
	var payload []byte
	if r.body != nil {
		var err error
		payload, err = json.Marshal(r.body)
		s.Require().NoError(err)
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if r.actor != "" {
		req.Header.Set(httpapi.HeaderActorID, r.actor)
	}
	if r.role != "" {
		req.Header.Set(httpapi.HeaderActorRole, r.role)
	}
	if r.verified != nil {
		if *r.verified {
			req.Header.Set(httpapi.HeaderActorVerified, "true")
		} else {
			req.Header.Set(httpapi.HeaderActorVerified, "false")
		}
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, target any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), target), rec.Body.String())
}

func (s *RouterSuite) errorKind(rec *httptest.ResponseRecorder) string {
	var body errorResponse
	s.decode(rec, &body)
	return body.Error.Kind
}

func (s *RouterSuite) reserve(actor string) *httptest.ResponseRecorder {
	return s.do(request{
		method: http.MethodPost,
		path:   "/api/transactions",
		body:   map[string]string{"listingId": "listing-1"},
		actor:  actor,
	})
}

func (s *RouterSuite) TestReserveCreatesTransaction() {
	rec := s.reserve("buyer-1")
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var tx map[string]any
	s.decode(rec, &tx)
	s.Equal("buyer-1", tx["buyerId"])
	s.Equal("seller-1", tx["sellerId"])
	s.Equal("Reserved", tx["status"])
	s.Equal("25.5", tx["amount"])

	rec = s.do(request{method: http.MethodGet, path: "/api/listings/listing-1", actor: "buyer-1"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var l map[string]any
	s.decode(rec, &l)
	s.Equal("Reserved", l["status"])
}

func (s *RouterSuite) TestReserveErrorsMapToKinds() {
	rec := s.reserve("seller-1")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("InvalidOperation", s.errorKind(rec))

	s.Require().Equal(http.StatusCreated, s.reserve("buyer-1").Code)

	rec = s.reserve("buyer-2")
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("Conflict", s.errorKind(rec))

	rec = s.do(request{
		method: http.MethodPost,
		path:   "/api/listings/missing/reserve",
		actor:  "buyer-1",
	})
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("NotFound", s.errorKind(rec))
}

func (s *RouterSuite) TestUnauthenticatedAndUnverified() {
	rec := s.do(request{method: http.MethodGet, path: "/api/transactions/my-transactions"})
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Unauthorized", s.errorKind(rec))

	unverified := false
	rec = s.do(request{
		method:   http.MethodPost,
		path:     "/api/transactions",
		body:     map[string]string{"listingId": "listing-1"},
		actor:    "buyer-1",
		verified: &unverified,
	})
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("Forbidden", s.errorKind(rec))
}

func (s *RouterSuite) TestSellerCompletesViaStatusRoute() {
	var tx map[string]any
	s.decode(s.reserve("buyer-1"), &tx)
	id := tx["id"].(string)

	rec := s.do(request{
		method: http.MethodPut,
		path:   "/api/transactions/" + id + "/status",
		body:   map[string]string{"status": "Cancelled"},
		actor:  "seller-1",
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(request{
		method: http.MethodPut,
		path:   "/api/transactions/" + id + "/status",
		body:   map[string]string{"status": "Completed"},
		actor:  "buyer-1",
	})
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(request{
		method: http.MethodPut,
		path:   "/api/transactions/" + id + "/status",
		body:   map[string]string{"status": "Completed"},
		actor:  "seller-1",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.decode(rec, &tx)
	s.Equal("Completed", tx["status"])
	s.NotEmpty(tx["completionDate"])

	// Повтор завершения: успех без изменений.
	rec = s.do(request{method: http.MethodPut, path: "/api/transactions/" + id + "/complete", actor: "buyer-1"})
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(request{method: http.MethodPut, path: "/api/transactions/" + id + "/cancel", actor: "buyer-1"})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *RouterSuite) TestCancelWithoutBodyUsesDefaultReason() {
	var tx map[string]any
	s.decode(s.reserve("buyer-1"), &tx)
	id := tx["id"].(string)

	rec := s.do(request{method: http.MethodPut, path: "/api/transactions/" + id + "/cancel", actor: "buyer-2"})
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(request{method: http.MethodPut, path: "/api/transactions/" + id + "/cancel", actor: "seller-1"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.decode(rec, &tx)
	s.Equal("Cancelled", tx["status"])
	s.Equal(domain.DefaultCancellationReason, tx["cancellationReason"])

	// Объявление снова доступно.
	s.Equal(http.StatusCreated, s.reserve("buyer-2").Code)
}

func (s *RouterSuite) TestTransactionReadIsRestrictedToParties() {
	var tx map[string]any
	s.decode(s.reserve("buyer-1"), &tx)
	id := tx["id"].(string)

	s.Equal(http.StatusOK, s.do(request{method: http.MethodGet, path: "/api/transactions/" + id, actor: "seller-1"}).Code)
	s.Equal(http.StatusForbidden, s.do(request{method: http.MethodGet, path: "/api/transactions/" + id, actor: "stranger"}).Code)
	s.Equal(http.StatusOK, s.do(request{method: http.MethodGet, path: "/api/transactions/" + id, actor: "admin-1", role: "admin"}).Code)

	rec := s.do(request{method: http.MethodGet, path: "/api/transactions/my-transactions", actor: "buyer-1"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var list []map[string]any
	s.decode(rec, &list)
	s.Len(list, 1)

	rec = s.do(request{method: http.MethodGet, path: "/api/transactions/" + id + "/timeline", actor: "buyer-1"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var history []map[string]any
	s.decode(rec, &history)
	s.NotEmpty(history)
}

func (s *RouterSuite) TestIdempotentReserveReplaysResponse() {
	key := map[string]string{httpapi.HeaderIdempotencyKey: "key-1"}
	first := s.do(request{
		method:  http.MethodPost,
		path:    "/api/transactions",
		body:    map[string]string{"listingId": "listing-1"},
		actor:   "buyer-1",
		headers: key,
	})
	s.Require().Equal(http.StatusCreated, first.Code)

	second := s.do(request{
		method:  http.MethodPost,
		path:    "/api/transactions",
		body:    map[string]string{"listingId": "listing-1"},
		actor:   "buyer-1",
		headers: key,
	})
	s.Equal(http.StatusCreated, second.Code)
	s.Equal("true", second.Header().Get(httpapi.HeaderIdempotentReplay))
	s.JSONEq(first.Body.String(), second.Body.String())

	mismatch := s.do(request{
		method:  http.MethodPost,
		path:    "/api/transactions",
		body:    map[string]string{"listingId": "listing-2"},
		actor:   "buyer-1",
		headers: key,
	})
	s.Equal(http.StatusConflict, mismatch.Code)
}

func (s *RouterSuite) TestIdempotentReserveRejectsOversizedBody() {
	key := map[string]string{httpapi.HeaderIdempotencyKey: "key-big"}
	rec := s.do(request{
		method:  http.MethodPost,
		path:    "/api/transactions",
		body:    map[string]string{"listingId": "listing-1", "note": strings.Repeat("x", 1<<20)},
		actor:   "buyer-1",
		headers: key,
	})
	s.Require().Equal(http.StatusRequestEntityTooLarge, rec.Code)
	var body errorResponse
	s.decode(rec, &body)
	s.Equal("InvalidOperation", body.Error.Kind)

	// Отклонённый запрос не занимает ключ.
	rec = s.do(request{
		method:  http.MethodPost,
		path:    "/api/transactions",
		body:    map[string]string{"listingId": "listing-1"},
		actor:   "buyer-1",
		headers: key,
	})
	s.Equal(http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *RouterSuite) TestListingCRUD() {
	rec := s.do(request{
		method: http.MethodPost,
		path:   "/api/listings",
		body:   map[string]any{"title": "Desk lamp", "price": "12.00", "category": "furniture"},
		actor:  "seller-2",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	s.decode(rec, &created)
	id := created["id"].(string)
	s.Equal("Available", created["status"])

	rec = s.do(request{
		method: http.MethodPost,
		path:   "/api/listings",
		body:   map[string]any{"title": "ab", "price": "-1"},
		actor:  "seller-2",
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(request{
		method: http.MethodPut,
		path:   "/api/listings/" + id,
		body:   map[string]any{"title": "Brass desk lamp"},
		actor:  "seller-2",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(request{method: http.MethodGet, path: "/api/listings?sellerId=seller-2", actor: "buyer-1"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var list []map[string]any
	s.decode(rec, &list)
	s.Require().Len(list, 1)
	s.Equal("Brass desk lamp", list[0]["title"])

	rec = s.do(request{method: http.MethodDelete, path: "/api/listings/" + id, actor: "buyer-1"})
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(request{method: http.MethodDelete, path: "/api/listings/" + id, actor: "seller-2"})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &created)
	s.Equal("Removed", created["status"])
}

func (s *RouterSuite) TestListingLockedWhileReserved() {
	s.Require().Equal(http.StatusCreated, s.reserve("buyer-1").Code)

	rec := s.do(request{
		method: http.MethodPut,
		path:   "/api/listings/listing-1",
		body:   map[string]any{"title": "New title"},
		actor:  "seller-1",
	})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(request{method: http.MethodDelete, path: "/api/listings/listing-1", actor: "seller-1"})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *RouterSuite) TestAdminModeration() {
	rec := s.do(request{method: http.MethodPut, path: "/api/admin/listings/listing-1/hide", actor: "buyer-1"})
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(request{method: http.MethodPut, path: "/api/admin/listings/listing-1/hide", actor: "admin-1", role: "admin"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal(http.StatusConflict, s.reserve("buyer-1").Code)

	rec = s.do(request{method: http.MethodPut, path: "/api/admin/listings/listing-1/restore", actor: "admin-1", role: "admin"})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(http.StatusCreated, s.reserve("buyer-1").Code)
}

func (s *RouterSuite) TestReviewFlowUpdatesRating() {
	var tx map[string]any
	s.decode(s.reserve("buyer-1"), &tx)
	id := tx["id"].(string)

	review := map[string]any{"transactionId": id, "type": "BuyerToSeller", "rating": 4, "comment": "ok"}
	rec := s.do(request{method: http.MethodPost, path: "/api/reviews", body: review, actor: "buyer-1"})
	s.Equal(http.StatusBadRequest, rec.Code, "review before completion")

	s.Require().Equal(http.StatusOK, s.do(request{
		method: http.MethodPut,
		path:   "/api/transactions/" + id + "/complete",
		actor:  "buyer-1",
	}).Code)

	rec = s.do(request{method: http.MethodPost, path: "/api/reviews", body: review, actor: "buyer-1"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	s.decode(rec, &created)
	s.Equal("seller-1", created["reviewedUserId"])

	rec = s.do(request{method: http.MethodPost, path: "/api/reviews", body: review, actor: "buyer-1"})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(request{method: http.MethodGet, path: "/api/users/seller-1/rating", actor: "buyer-1"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var summary map[string]any
	s.decode(rec, &summary)
	s.InDelta(4.0, summary["rating"], 0.0001)
	s.InDelta(1, summary["totalReviews"], 0.0001)

	rec = s.do(request{
		method: http.MethodPut,
		path:   "/api/reviews/" + created["id"].(string),
		body:   map[string]any{"rating": 2},
		actor:  "buyer-1",
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(request{method: http.MethodGet, path: "/api/reviews/user/seller-1", actor: "buyer-1"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var list []map[string]any
	s.decode(rec, &list)
	s.Require().Len(list, 1)
	s.InDelta(2, list[0]["rating"], 0.0001)

	rec = s.do(request{method: http.MethodDelete, path: "/api/reviews/" + created["id"].(string), actor: "seller-1"})
	s.Equal(http.StatusForbidden, rec.Code)
	rec = s.do(request{method: http.MethodDelete, path: "/api/reviews/" + created["id"].(string), actor: "buyer-1"})
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(request{method: http.MethodGet, path: "/api/users/seller-1/rating", actor: "buyer-1"})
	s.decode(rec, &summary)
	s.InDelta(0, summary["totalReviews"], 0.0001)
}

func (s *RouterSuite) TestUnknownRoute() {
	rec := s.do(request{method: http.MethodGet, path: "/nope", actor: "buyer-1"})
	s.Equal(http.StatusNotFound, rec.Code)
}
