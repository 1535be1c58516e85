package handlers

import (
	"log/slog"
	"net/http"

	"everestmart-backend/internal/auth"
	"everestmart-backend/internal/orders"
	"everestmart-backend/pkg/ctxmanage"
	"everestmart-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func (h *Handler) CreateOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}

	// Check if the size of the request body exceeds 5 KB
	if c.Request.ContentLength > 5*1024 {
		slog.Error("request body limit breached", slog.String(logkey.TraceID, traceId), slog.Int64("Size Received", c.Request.ContentLength))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Request body too large."})
		return
	}

	var req orders.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	validate := validator.New()
	if err := validate.Struct(req); err != nil {
		if vErrs, ok := err.(validator.ValidationErrors); ok {
			for _, vErr := range vErrs {
				switch vErr.Tag() {
				case "required":
					slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Field() + " value missing"})
					return
				case "min":
					slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Field() + " needs at least " + vErr.Param()})
					return
				case "oneof":
					slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr.Field() + " must be one of " + vErr.Param()})
					return
				default:
					slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
					return
				}
			}
		}
		slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	order, err := h.svc.CreateOrder(c.Request.Context(), claims.Subject, req)
	if err != nil {
		slog.Error("order creation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		respondOrderError(c, traceId, err)
		return
	}

	slog.Info("order created", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.OrderID, order.ID), slog.String(logkey.UserID, order.UserID))
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) ListMyOrders(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}

	list, err := h.svc.ListUserOrders(c.Request.Context(), claims.Subject)
	if err != nil {
		slog.Error("error listing orders", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch orders"})
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *Handler) GetOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}
	orderID := c.Param("id")

	// Admins see any order, customers only their own.
	var order orders.Order
	var err error
	if claims.HasRole(auth.RoleAdmin) {
		order, err = h.svc.GetOrder(c.Request.Context(), orderID)
	} else {
		order, err = h.svc.GetUserOrder(c.Request.Context(), claims.Subject, orderID)
	}
	if err != nil {
		respondOrderError(c, traceId, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}
	orderID := c.Param("id")

	var req struct {
		Reason string `json:"reason"`
	}
	// The body is optional, a bare cancel gets the default reason.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
			return
		}
	}

	order, err := h.svc.CancelForUser(c.Request.Context(), claims.Subject, orderID, req.Reason)
	if err != nil {
		slog.Error("order cancellation failed", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String(logkey.ERROR, err.Error()))
		respondOrderError(c, traceId, err)
		return
	}

	slog.Info("order cancelled", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, orderID))
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled successfully", "order": order})
}
