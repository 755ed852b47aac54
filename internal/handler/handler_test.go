package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medride/internal/domain"
	"medride/internal/middleware"
	"medride/internal/repository"
	"medride/internal/retry"
	"medride/internal/service"
	"medride/internal/tests"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// as authenticates every request on the route as actor.
func as(actor domain.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetActor(c, actor)
		c.Next()
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// ──────────────────────────────────────────────
// 1. ERROR MAPPING
// ──────────────────────────────────────────────

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		wantMsg    string
	}{
		{"validation", service.ErrInvalidDistance, http.StatusBadRequest, "InvalidDistance", service.ErrInvalidDistance.Error()},
		{"wrapped validation", fmt.Errorf("create ride: %w", service.ErrInvalidVehicleType), http.StatusBadRequest, "ValidationError", "create ride: invalid vehicle type"},
		{"chain limit", service.ErrChainLimitReached, http.StatusBadRequest, "ChainLimitReached", service.ErrChainLimitReached.Error()},
		{"not found", service.ErrRideNotFound, http.StatusNotFound, "RideNotFound", "ride not found"},
		{"repository not found", repository.ErrNotFound, http.StatusNotFound, "NotFound", repository.ErrNotFound.Error()},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, "Forbidden", service.ErrForbidden.Error()},
		{"no card", service.ErrNoPaymentMethod, http.StatusPaymentRequired, "NoPaymentMethod", service.ErrNoPaymentMethod.Error()},
		{"declined hides detail", fmt.Errorf("%w: insufficient funds", service.ErrCardDeclined), http.StatusPaymentRequired, "CardDeclined", service.ErrCardDeclined.Error()},
		{"gateway hides detail", fmt.Errorf("%w: dial tcp 10.0.0.1:443", service.ErrGatewayUnavailable), http.StatusServiceUnavailable, "GatewayUnavailable", service.ErrGatewayUnavailable.Error()},
		{"outcome unknown", service.ErrPaymentOutcomeUnknown, http.StatusServiceUnavailable, "PaymentOutcomeUnknown", service.ErrPaymentOutcomeUnknown.Error()},
		{"backlog", service.ErrWebhookBacklog, http.StatusServiceUnavailable, "WebhookBacklog", service.ErrWebhookBacklog.Error()},
		{"webhook not applied", fmt.Errorf("%w: %v", service.ErrWebhookNotApplied, errors.New("pq: deadlock detected")), http.StatusServiceUnavailable, "WebhookRetry", service.ErrWebhookNotApplied.Error()},
		{"phone taken", service.ErrPhoneTaken, http.StatusConflict, "PhoneTaken", service.ErrPhoneTaken.Error()},
		{"unknown", errors.New("pq: connection refused"), http.StatusInternalServerError, "InternalError", "internal server error"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			status, kind, msg := classifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

// ──────────────────────────────────────────────
// 2. WEBHOOKS
// ──────────────────────────────────────────────

type recordingQueue struct {
	events []service.WebhookEvent
	err    error
}

func (q *recordingQueue) Submit(_ context.Context, ev service.WebhookEvent) error {
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, ev)
	return nil
}

func webhookRouter(queue WebhookQueue, secret string, now time.Time) *gin.Engine {
	h := NewWebhookHandler(queue, secret)
	h.now = func() time.Time { return now }
	r := gin.New()
	r.POST("/webhooks/gateway", h.Receive)
	return r
}

func TestWebhookHandler_Receive(t *testing.T) {
	now := time.Now()
	body := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"object_id":"ch_1"}}`)
	sig := service.SignWebhook("whsec_test", body, now)

	t.Run("queued", func(t *testing.T) {
		queue := &recordingQueue{}
		w := doJSON(t, webhookRouter(queue, "whsec_test", now), http.MethodPost, "/webhooks/gateway", body, SignatureHeader, sig)
		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, queue.events, 1)
		assert.Equal(t, "ch_1", queue.events[0].Data.ObjectID)
	})

	t.Run("bad signature", func(t *testing.T) {
		queue := &recordingQueue{}
		w := doJSON(t, webhookRouter(queue, "whsec_other", now), http.MethodPost, "/webhooks/gateway", body, SignatureHeader, sig)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "InvalidWebhook", decode[ErrorResponse](t, w).Error)
		assert.Empty(t, queue.events)
	})

	t.Run("unsigned", func(t *testing.T) {
		w := doJSON(t, webhookRouter(&recordingQueue{}, "whsec_test", now), http.MethodPost, "/webhooks/gateway", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("queue full", func(t *testing.T) {
		queue := &recordingQueue{err: service.ErrWebhookBacklog}
		w := doJSON(t, webhookRouter(queue, "whsec_test", now), http.MethodPost, "/webhooks/gateway", body, SignatureHeader, sig)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "WebhookBacklog", decode[ErrorResponse](t, w).Error)
	})

	t.Run("not applied is not acknowledged", func(t *testing.T) {
		queue := &recordingQueue{err: fmt.Errorf("%w: %v", service.ErrWebhookNotApplied, errors.New("connection refused"))}
		w := doJSON(t, webhookRouter(queue, "whsec_test", now), http.MethodPost, "/webhooks/gateway", body, SignatureHeader, sig)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decode[ErrorResponse](t, w)
		assert.Equal(t, "WebhookRetry", resp.Error)
		assert.NotContains(t, resp.Message, "connection refused")
	})
}

// ──────────────────────────────────────────────
// 3. FARES AND SETTINGS
// ──────────────────────────────────────────────

type memSettings map[string]string

func (m memSettings) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (m memSettings) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func fareRouter() *gin.Engine {
	settings := service.NewSettingsService(memSettings{}, nil, 5, tests.NewTestLogger())
	h := NewFareHandler(service.NewFareCalculator(settings), settings)

	r := gin.New()
	r.POST("/v1/fares/estimate", h.Estimate)
	admin := r.Group("/v1/admin/settings", as(domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}))
	admin.GET("/platform-fee", h.GetPlatformFee)
	admin.PUT("/platform-fee", h.SetPlatformFee)
	return r
}

func TestFareHandler_Estimate(t *testing.T) {
	router := fareRouter()
	// A Monday at 10:00 prices with neutral multipliers.
	monday := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	w := doJSON(t, router, http.MethodPost, "/v1/fares/estimate", map[string]any{
		"estimated_distance": 10,
		"scheduled_time":     monday,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fare := decode[service.FareBreakdown](t, w)
	assert.Equal(t, 79.38, fare.Total)
	assert.Equal(t, 1.0, fare.PremiumMultiplier)

	w = doJSON(t, router, http.MethodPost, "/v1/fares/estimate", map[string]any{
		"estimated_distance": 10,
		"scheduled_time":     monday,
		"is_holiday":         true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 1.25, decode[service.FareBreakdown](t, w).PremiumMultiplier, 1e-9)

	w = doJSON(t, router, http.MethodPost, "/v1/fares/estimate", map[string]any{"estimated_distance": 0.05})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidDistance", decode[ErrorResponse](t, w).Error)

	w = doJSON(t, router, http.MethodPost, "/v1/fares/estimate", map[string]any{
		"estimated_distance": 10,
		"scheduled_time":     monday,
		"urgency":            "Emergency",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decode[ErrorResponse](t, w).Error)
	assert.Contains(t, decode[ErrorResponse](t, w).Message, `urgency "Emergency"`)

	w = doJSON(t, router, http.MethodPost, "/v1/fares/estimate", []byte(`{"estimated_distance":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decode[ErrorResponse](t, w).Error)
}

func TestFareHandler_PlatformFee(t *testing.T) {
	router := fareRouter()

	w := doJSON(t, router, http.MethodGet, "/v1/admin/settings/platform-fee", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5.0, decode[PlatformFeeRequest](t, w).Percent)

	w = doJSON(t, router, http.MethodPut, "/v1/admin/settings/platform-fee", PlatformFeeRequest{Percent: 10})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/fares/estimate", map[string]any{"estimated_distance": 10})
	require.Equal(t, http.StatusOK, w.Code)
	fare := decode[service.FareBreakdown](t, w)
	assert.Equal(t, 7.0, fare.PlatformFee)

	w = doJSON(t, router, http.MethodPut, "/v1/admin/settings/platform-fee", PlatformFeeRequest{Percent: 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ──────────────────────────────────────────────
// 4. BID ACCEPTANCE
// ──────────────────────────────────────────────

type bidFixture struct {
	router     *gin.Engine
	rides      *tests.MockRideRepository
	methods    *tests.MockPaymentMethodRepository
	bids       *service.BidService
	dispatcher *service.PayoutDispatcher
}

func newBidFixture(t *testing.T, actor domain.Actor) *bidFixture {
	t.Helper()
	log := tests.NewTestLogger()
	rides := tests.NewMockRideRepository()
	bidRepo := tests.NewMockBidRepository()
	payments := tests.NewMockPaymentRepository()
	payouts := tests.NewMockPayoutRepository()
	methods := tests.NewMockPaymentMethodRepository()
	txm := tests.NewMockTxManager(rides, bidRepo, payments, payouts)
	gateway := service.NewSimulatedGateway()
	notifier := service.NewNotificationService(&tests.RecordingSink{}, log)
	fees := tests.FixedFee(5)

	retrier := retry.New(service.TransferRetryConfig(1, time.Millisecond, time.Millisecond), log)
	payoutService := service.NewPayoutService(payouts, tests.NewMockDriverRepository(), gateway, fees, retrier, notifier, service.PayoutConfig{}, log)
	dispatcher := service.NewPayoutDispatcher(context.Background(), payoutService, log)
	paymentService := service.NewPaymentService(txm, rides, payments, methods, tests.NewMockUserRepository(), gateway, fees, dispatcher, notifier,
		service.PaymentConfig{GatewayTimeout: time.Second}, log)
	bidService := service.NewBidService(txm, rides, bidRepo, notifier, log)
	t.Cleanup(dispatcher.Wait)

	h := NewBidHandler(bidService, paymentService)
	r := gin.New()
	r.POST("/v1/bids/:id/accept", as(actor), h.AcceptBid)
	r.GET("/v1/bids/:id/history", h.GetBidHistory)

	return &bidFixture{router: r, rides: rides, methods: methods, bids: bidService, dispatcher: dispatcher}
}

func (f *bidFixture) openRideWithBid(t *testing.T) (*domain.Ride, *domain.Bid) {
	t.Helper()
	now := time.Now()
	ride := &domain.Ride{
		ID:                "ride-1",
		RiderID:           "rider-1",
		Status:            domain.RideStatusRequested,
		PickupAddress:     "1 Main St",
		DropoffAddress:    "General Hospital",
		ScheduledTime:     now.Add(48 * time.Hour),
		VehicleType:       domain.VehicleWheelchair,
		EstimatedDistance: 10,
		RiderBid:          90,
		ExpiresAt:         now.Add(48 * time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	f.rides.AddRide(ride)

	bid, err := f.bids.CreateBid(context.Background(), service.CreateBidRequest{RideID: ride.ID, DriverID: "driver-a", Amount: 100})
	require.NoError(t, err)
	return ride, bid
}

func TestBidHandler_AcceptChargesRide(t *testing.T) {
	f := newBidFixture(t, domain.Actor{ID: "rider-1", Role: domain.RoleRider})
	ride, bid := f.openRideWithBid(t)
	require.NoError(t, f.methods.Create(context.Background(), &domain.PaymentMethod{
		ID: "pm-1", UserID: "rider-1", GatewayMethodRef: "pm_card_visa", IsDefault: true, CreatedAt: time.Now(),
	}))

	w := doJSON(t, f.router, http.MethodPost, "/v1/bids/"+bid.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[AcceptBidResponse](t, w)
	assert.Equal(t, "accepted", resp.Bid.Status)
	assert.Nil(t, resp.PaymentError)
	require.NotNil(t, resp.Payment)
	assert.True(t, resp.Payment.Success)
	require.NotNil(t, resp.Payment.Transaction)
	assert.Equal(t, 100.0, resp.Payment.Transaction.Amount)
	assert.Equal(t, "paid", resp.Ride.Status)
	assert.Equal(t, domain.RideStatusPaid, f.rides.GetRide(ride.ID).Status)
}

func TestBidHandler_AcceptWithoutCardReportsPaymentError(t *testing.T) {
	f := newBidFixture(t, domain.Actor{ID: "rider-1", Role: domain.RoleRider})
	ride, bid := f.openRideWithBid(t)

	w := doJSON(t, f.router, http.MethodPost, "/v1/bids/"+bid.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[AcceptBidResponse](t, w)
	assert.Equal(t, "accepted", resp.Bid.Status)
	require.NotNil(t, resp.PaymentError)
	assert.Equal(t, "NoPaymentMethod", resp.PaymentError.Error)
	assert.Equal(t, domain.RideStatusScheduled, f.rides.GetRide(ride.ID).Status)
}

func TestBidHandler_AcceptByOtherRider(t *testing.T) {
	f := newBidFixture(t, domain.Actor{ID: "rider-2", Role: domain.RoleRider})
	_, bid := f.openRideWithBid(t)

	w := doJSON(t, f.router, http.MethodPost, "/v1/bids/"+bid.ID+"/accept", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", decode[ErrorResponse](t, w).Error)
}

func TestBidHandler_History(t *testing.T) {
	f := newBidFixture(t, domain.Actor{ID: "rider-1", Role: domain.RoleRider})
	_, bid := f.openRideWithBid(t)

	w := doJSON(t, f.router, http.MethodGet, "/v1/bids/"+bid.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]BidResponse](t, w)
	require.Len(t, history, 1)
	assert.Equal(t, 100.0, history[0].Amount)

	w = doJSON(t, f.router, http.MethodGet, "/v1/bids/missing/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
