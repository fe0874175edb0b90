// Package responses implements the two JSON response envelopes the request
// surface uses: a flat {error, message, statusCode} problem shape on
// /settle*, /balance*, /assets and /health, and a {success, data} or
// {success, error, message} envelope on /orders* and /trades*. Both shapes
// are preserved verbatim rather than unified, per route group.
package responses

import (
	"time"

	exerrors "github.com/clobx/exchange/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Problem sends the flat {error, message, statusCode} shape used by
// /settle*, /balance*, /assets, and /health.
func Problem(c *gin.Context, err error) {
	pd := exerrors.ToProblemDetails(err, TraceID(c))
	c.JSON(pd.Status, gin.H{
		"error":      pd.ErrorKind,
		"message":    pd.Detail,
		"statusCode": pd.Status,
	})
}

// Envelope is the {success, data, message} / {success, error, message}
// shape used by /orders* and /trades*.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK sends {success:true, data}.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

// Fail sends {success:false, error, message}, deriving the status code and
// error kind from err the same way Problem does.
func Fail(c *gin.Context, err error) {
	pd := exerrors.ToProblemDetails(err, TraceID(c))
	c.JSON(pd.Status, Envelope{Success: false, Error: pd.ErrorKind, Message: pd.Detail})
}

// TraceID returns the request's trace id, set by the trace-id middleware.
func TraceID(c *gin.Context) string {
	if v, ok := c.Get("trace_id"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return c.GetHeader("X-Trace-ID")
}

// Timestamped embeds the current UTC time as ISO-8601 into a map-shaped
// response body, the pattern used by /assets, /health, and the
// address-scoped listing endpoints.
func Timestamped(fields gin.H) gin.H {
	fields["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return fields
}
