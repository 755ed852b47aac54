package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"medride/internal/domain"
	"medride/internal/handler"
	"medride/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler    *handler.RideHandler
	BidHandler     *handler.BidHandler
	PaymentHandler *handler.PaymentHandler
	FareHandler    *handler.FareHandler
	UserHandler    *handler.UserHandler
	DriverHandler  *handler.DriverHandler
	WebhookHandler *handler.WebhookHandler
	Tokens         middleware.TokenValidator
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
	Logger         logrus.FieldLogger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}
	router.Use(middleware.LoggerMiddleware(deps.Logger))
	router.Use(middleware.CORSMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gateway callbacks authenticate by signature, not bearer token.
	router.POST("/webhooks/gateway", deps.WebhookHandler.Receive)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Tokens))
	v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))

	anyone := middleware.RequireRoles(domain.RoleRider, domain.RoleDriver, domain.RoleAdmin)
	riders := middleware.RequireRoles(domain.RoleRider, domain.RoleAdmin)
	drivers := middleware.RequireRoles(domain.RoleDriver, domain.RoleAdmin)
	admins := middleware.RequireRoles(domain.RoleAdmin)

	v1.POST("/fares/estimate", deps.FareHandler.Estimate)

	users := v1.Group("/users")
	{
		users.POST("/register", deps.UserHandler.Register)
		users.GET("/:id", riders, deps.UserHandler.GetUser)
		users.GET("/:id/payment-methods", riders, deps.UserHandler.ListPaymentMethods)
		users.POST("/:id/payment-methods", riders, deps.UserHandler.AddPaymentMethod)
		users.POST("/:id/payment-methods/:methodId/default", riders, deps.UserHandler.SetDefaultPaymentMethod)
	}

	driverRoutes := v1.Group("/drivers")
	{
		driverRoutes.POST("/register", deps.DriverHandler.Register)
		driverRoutes.GET("/:id", anyone, deps.DriverHandler.GetDriver)
		driverRoutes.POST("/:id/location", drivers, deps.DriverHandler.UpdateLocation)
		driverRoutes.POST("/:id/offline", drivers, deps.DriverHandler.GoOffline)
		driverRoutes.PUT("/:id/connected-account", drivers, deps.DriverHandler.SetConnectedAccount)
	}

	rides := v1.Group("/rides")
	{
		rides.POST("", riders, deps.RideHandler.CreateRide)
		rides.GET("", anyone, deps.RideHandler.GetAll)
		rides.GET("/:id", anyone, deps.RideHandler.GetRide)
		rides.GET("/:id/bids", anyone, deps.BidHandler.ListRideBids)
		rides.POST("/:id/cancel", riders, deps.RideHandler.CancelRide)
		rides.POST("/:id/status", drivers, deps.RideHandler.UpdateStatus)
		rides.POST("/:id/edits", riders, deps.RideHandler.ProposeEdit)
		rides.POST("/:id/edits/accept", drivers, deps.RideHandler.AcceptEdit)
		rides.POST("/:id/edits/reject", drivers, deps.RideHandler.RejectEdit)
		rides.POST("/:id/process-payment", anyone, deps.PaymentHandler.ProcessPayment)
		rides.POST("/:id/retry-payment", anyone, deps.PaymentHandler.RetryPayment)
		rides.GET("/:id/payout", anyone, deps.PaymentHandler.GetRidePayout)
		rides.GET("/:id/receipt", anyone, deps.PaymentHandler.GetRideReceipt)
	}

	bids := v1.Group("/bids")
	{
		bids.POST("", drivers, deps.BidHandler.CreateBid)
		bids.POST("/:id/accept", anyone, deps.BidHandler.AcceptBid)
		bids.POST("/:id/counter", anyone, deps.BidHandler.CounterOffer)
		bids.POST("/:id/reject", anyone, deps.BidHandler.RejectBid)
		bids.DELETE("/:id", drivers, deps.BidHandler.WithdrawBid)
		bids.GET("/:id/history", anyone, deps.BidHandler.GetBidHistory)
	}

	v1.POST("/payments/confirm", riders, deps.PaymentHandler.ConfirmPayment)
	v1.POST("/payouts/:id/retry", admins, deps.PaymentHandler.RetryPayout)

	settings := v1.Group("/admin/settings", admins)
	{
		settings.GET("/platform-fee", deps.FareHandler.GetPlatformFee)
		settings.PUT("/platform-fee", deps.FareHandler.SetPlatformFee)
	}

	return router
}
