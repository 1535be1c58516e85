package logkey

// Keys used for structured logging across the service, so log
// aggregation queries stay consistent between packages.
const (
	TraceID = "Trace ID"
	ERROR   = "Error"
	OrderID = "OrderID"
	UserID  = "UserID"
)
