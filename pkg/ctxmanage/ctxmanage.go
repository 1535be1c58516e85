package ctxmanage

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const TraceIdKey = "traceid"

// GetTraceIdOfRequest returns the trace id attached by the logger
// middleware. A fresh one is generated if the middleware did not run,
// so handlers can always log a trace id.
func GetTraceIdOfRequest(c *gin.Context) string {
	traceId, ok := c.Get(TraceIdKey)
	if !ok {
		return uuid.NewString()
	}
	id, ok := traceId.(string)
	if !ok || id == "" {
		return uuid.NewString()
	}
	return id
}

// SetTraceId stores the trace id on the request context.
func SetTraceId(c *gin.Context, traceId string) {
	c.Set(TraceIdKey, traceId)
}
