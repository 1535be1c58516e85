package handlers

import (
	"io"
	"log/slog"

	"everestmart-backend/internal/auth"
	"everestmart-backend/internal/notify"
	"everestmart-backend/pkg/ctxmanage"
	"everestmart-backend/pkg/logkey"

	"github.com/gin-gonic/gin"
)

// Events streams real-time order notifications over SSE. The topic is
// derived from the caller's role: admins get the admin feed, riders get
// their own delivery feed plus the broadcast feed, customers get updates
// for their own orders. ?topic=warehouse opts an admin into the
// warehouse feed instead.
func (h *Handler) Events(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := requestClaims(c, traceId)
	if !ok {
		return
	}

	topics := subscriptionTopics(claims, c.Query("topic"))

	// One merged channel across every topic the caller may read.
	merged := make(chan notify.Event, 32)
	var cancels []func()
	for _, topic := range topics {
		ch, cancel := h.hub.Subscribe(topic, 32)
		cancels = append(cancels, cancel)
		go func(ch <-chan notify.Event) {
			for ev := range ch {
				select {
				case merged <- ev:
				default:
				}
			}
		}(ch)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	slog.Info("event stream opened", slog.String(logkey.TraceID, traceId), slog.String(logkey.UserID, claims.Subject))

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-merged:
			c.SSEvent(ev.Name, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func subscriptionTopics(claims auth.Claims, requested string) []string {
	switch {
	case claims.HasRole(auth.RoleAdmin):
		if requested == notify.TopicWarehouse {
			return []string{notify.TopicWarehouse}
		}
		return []string{notify.TopicAdmin, notify.TopicWarehouse}
	case claims.HasRole(auth.RoleRider):
		return []string{notify.TopicRider, notify.TopicRider + ":" + claims.Subject}
	default:
		return []string{notify.TopicCustomer + ":" + claims.Subject}
	}
}
