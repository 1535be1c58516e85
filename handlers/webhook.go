package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"everestmart-backend/internal/stores/kafka"
	"everestmart-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentEvent is the payload the payment gateway posts back. Only the
// success event mutates state.
type PaymentEvent struct {
	Type          string `json:"type"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}

// Webhook handles gateway callbacks for online payments. The endpoint is
// unauthenticated; the gateway signs requests at the edge.
func (h *Handler) Webhook(c *gin.Context) {
	traceId := uuid.NewString()
	const MaxBodyBytes = int64(65536)

	// Limit the request body size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

	var event PaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		slog.Error("failed to bind webhook payload", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch event.Type {
	case "payment.succeeded":
		if event.OrderID == "" || event.TransactionID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "order_id and transaction_id are required"})
			return
		}

		order, err := h.svc.RecordPayment(c.Request.Context(), event.OrderID, event.TransactionID)
		if err != nil {
			slog.Error("failed to record payment", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, event.OrderID), slog.String(logkey.ERROR, err.Error()))
			respondOrderError(c, traceId, err)
			return
		}

		slog.Info("payment recorded", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, order.ID), slog.String("TransactionID", event.TransactionID))

		// Emit one event per paid line for downstream consumers.
		if h.k != nil {
			items := order.Items
			orderID := order.ID
			go func() {
				for _, item := range items {
					jsonData, err := json.Marshal(kafka.OrderPaidEvent{
						OrderId:   orderID,
						ProductId: item.ProductID,
						Quantity:  item.Quantity,
						CreatedAt: time.Now().UTC(),
					})
					if err != nil {
						slog.Error("failed to marshal order paid event", slog.String(logkey.ERROR, err.Error()))
						return
					}
					if err := h.k.ProduceMessage(kafka.TopicOrderPaid, []byte(orderID), jsonData); err != nil {
						slog.Error("failed to produce order paid event", slog.String(logkey.ERROR, err.Error()))
						return
					}
				}
			}()
		}

		c.Status(http.StatusOK)

	default:
		slog.Info("unhandled webhook event type", slog.String("event_type", event.Type))
		c.JSON(http.StatusOK, gin.H{
			"message": "Event type not handled",
			"event":   event.Type,
		})
	}
}
