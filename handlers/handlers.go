package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"everestmart-backend/internal/auth"
	"everestmart-backend/internal/notify"
	"everestmart-backend/internal/orders"
	"everestmart-backend/internal/products"
	"everestmart-backend/internal/stores/kafka"
	"everestmart-backend/internal/users"
	"everestmart-backend/middleware"
	"everestmart-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *orders.Service
	p   products.Conf
	u   *users.Conf
	a   *auth.Keys
	k   *kafka.Conf
	hub *notify.Hub
}

func NewHandler(svc *orders.Service, p products.Conf, u *users.Conf,
	a *auth.Keys, k *kafka.Conf, hub *notify.Hub) *Handler {
	return &Handler{
		svc: svc,
		p:   p,
		u:   u,
		a:   a,
		k:   k,
		hub: hub,
	}
}

func API(endpointPrefix string, keys *auth.Keys, svc *orders.Service,
	p products.Conf, u *users.Conf, kafkaConf *kafka.Conf, hub *notify.Hub) *gin.Engine {
	r := gin.New()
	mode := os.Getenv("GIN_MODE")
	if mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	m, err := middleware.NewMid(keys)
	if err != nil {
		panic(err)
	}

	h := NewHandler(svc, p, u, keys, kafkaConf, hub)
	r.Use(middleware.Logger(), gin.Recovery())

	r.GET("/ping", HealthCheck)
	v1 := r.Group(endpointPrefix)
	{
		v1.POST("/signup", h.Signup)
		v1.POST("/login", h.Login)
		v1.POST("/webhook", h.Webhook)

		v1.GET("/products/list", h.ListProducts)
		v1.GET("/products/view/:id", h.GetProduct)
		v1.GET("/products/stock/:id", h.GetProductStock)

		v1.Use(m.Authentication())
		v1.GET("/ping", HealthCheck)

		v1.POST("/products/create", m.Authorize(h.CreateProduct, auth.RoleAdmin))
		v1.PUT("/products/update/:id", m.Authorize(h.UpdateProduct, auth.RoleAdmin))
		v1.DELETE("/products/delete/:id", m.Authorize(h.DeleteProduct, auth.RoleAdmin))

		v1.POST("/addresses", h.AddAddress)
		v1.GET("/addresses", h.ListAddresses)
		v1.DELETE("/addresses/:id", h.DeleteAddress)

		v1.POST("/orders", h.CreateOrder)
		v1.GET("/orders", h.ListMyOrders)
		v1.GET("/orders/:id", h.GetOrder)
		v1.PUT("/orders/:id/cancel", h.CancelOrder)
		v1.GET("/events", h.Events)

		v1.GET("/admin/orders", m.Authorize(h.ListOrders, auth.RoleAdmin))
		v1.PUT("/admin/orders/:id/status", m.Authorize(h.UpdateOrderStatus, auth.RoleAdmin))

		v1.POST("/rider/orders/:id/accept", m.Authorize(h.AcceptOrder, auth.RoleRider))
		v1.POST("/rider/orders/:id/pickup", m.Authorize(h.PickupOrder, auth.RoleRider))
		v1.POST("/rider/orders/:id/generate-otp", m.Authorize(h.RegenerateOTP, auth.RoleRider))
		v1.POST("/rider/orders/:id/verify-delivery", m.Authorize(h.VerifyDelivery, auth.RoleRider))
	}
	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

// respondOrderError translates service errors into HTTP responses with a
// stable message per error kind.
func respondOrderError(c *gin.Context, traceId string, err error) {
	var vErr *orders.ValidationError
	var pErr *orders.ProductNotFoundError
	var sErr *orders.InsufficientStockError
	var tErr *orders.InvalidTransitionError

	switch {
	case errors.As(err, &vErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Msg})
	case errors.As(err, &pErr):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": pErr.Error()})
	case errors.As(err, &sErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": sErr.Error()})
	case errors.As(err, &tErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": tErr.Error()})
	case errors.Is(err, orders.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, orders.ErrNotAuthorized):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	case errors.Is(err, orders.ErrRiderAssigned):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Order already taken by another rider"})
	case errors.Is(err, orders.ErrRiderRequired):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Order has no assigned rider"})
	case errors.Is(err, orders.ErrAlreadyVerified):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Delivery already verified"})
	case errors.Is(err, orders.ErrOTPNotIssued):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Delivery OTP not issued"})
	case errors.Is(err, orders.ErrOTPExpired):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Delivery OTP expired, ask for a new one"})
	case errors.Is(err, orders.ErrInvalidOTP):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid OTP"})
	default:
		slog.Error("unexpected error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
	}
}

// requestClaims pulls the authenticated claims off the request, aborting
// with 401 when absent.
func requestClaims(c *gin.Context, traceId string) (auth.Claims, bool) {
	claims, ok := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return auth.Claims{}, false
	}
	return claims, true
}
