package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"everestmart-backend/internal/orders"
	"everestmart-backend/pkg/ctxmanage"
	"everestmart-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
)

// ListOrders returns orders for the back office, optionally filtered by
// status: GET /admin/orders?status=pending&limit=50&offset=0
func (h *Handler) ListOrders(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	status := orders.Status(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := h.svc.ListOrders(c.Request.Context(), status, limit, offset)
	if err != nil {
		slog.Error("error listing orders", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		respondOrderError(c, traceId, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// UpdateOrderStatus moves an order along the pipeline. Setting status to
// cancelled also restores stock.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	orderID := c.Param("id")

	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	if req.Status == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	order, err := h.svc.UpdateStatus(c.Request.Context(), orderID, orders.Status(req.Status))
	if err != nil {
		slog.Error("status update failed", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String(logkey.ERROR, err.Error()))
		respondOrderError(c, traceId, err)
		return
	}

	slog.Info("order status updated", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.OrderID, orderID), slog.String("Status", req.Status))
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": order})
}
