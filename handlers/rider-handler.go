package handlers

import (
	"log/slog"
	"net/http"

	"everestmart-backend/pkg/ctxmanage"
	"everestmart-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
)

// AcceptOrder claims a delivery for the calling rider. First rider wins,
// later calls get a conflict.
func (h *Handler) AcceptOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}
	orderID := c.Param("id")

	order, err := h.svc.AcceptOrder(c.Request.Context(), orderID, claims.Subject)
	if err != nil {
		slog.Error("accept failed", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String(logkey.ERROR, err.Error()))
		respondOrderError(c, traceId, err)
		return
	}

	slog.Info("order accepted", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.OrderID, orderID), slog.String("RiderID", claims.Subject))
	c.JSON(http.StatusOK, gin.H{"message": "Order accepted", "order": order.WithoutOTP()})
}

// PickupOrder marks the order out for delivery and sends the OTP to the
// customer.
func (h *Handler) PickupOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}
	orderID := c.Param("id")

	order, err := h.svc.MarkPickedUp(c.Request.Context(), orderID, claims.Subject)
	if err != nil {
		slog.Error("pickup failed", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String(logkey.ERROR, err.Error()))
		respondOrderError(c, traceId, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Order out for delivery", "order": order.WithoutOTP()})
}

// RegenerateOTP issues a fresh delivery OTP, for when the customer never
// received the first one or it expired.
func (h *Handler) RegenerateOTP(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}
	orderID := c.Param("id")

	order, err := h.svc.RegenerateOTP(c.Request.Context(), orderID, claims.Subject)
	if err != nil {
		slog.Error("otp regeneration failed", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String(logkey.ERROR, err.Error()))
		respondOrderError(c, traceId, err)
		return
	}

	slog.Info("delivery otp regenerated", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, orderID))
	c.JSON(http.StatusOK, gin.H{"message": "New OTP sent to customer", "order": order.WithoutOTP()})
}

// VerifyDelivery confirms handover against the customer's OTP and closes
// out the delivery.
func (h *Handler) VerifyDelivery(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}
	orderID := c.Param("id")

	var req struct {
		OTP string `json:"otp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	if req.OTP == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "otp is required"})
		return
	}

	order, err := h.svc.VerifyDeliveryOTP(c.Request.Context(), orderID, claims.Subject, req.OTP)
	if err != nil {
		slog.Error("delivery verification failed", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String(logkey.ERROR, err.Error()))
		respondOrderError(c, traceId, err)
		return
	}

	slog.Info("delivery verified", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.OrderID, orderID), slog.String("RiderID", claims.Subject))
	c.JSON(http.StatusOK, gin.H{"message": "Delivery verified", "order": order.WithoutOTP()})
}
