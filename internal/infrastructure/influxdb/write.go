package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementRequest    = "sync_request"
	measurementConnection = "sync_connection"
	measurementSessions   = "sync_sessions"
)

// WriteRequestMetric records the outcome of one sync request.
//
// Tags keep cardinality low: the message type and the error code ("ok" on
// success). User and device ids are never written.
//
// Example:
//
//	client.WriteRequestMetric("create", "ok", 3*time.Millisecond)
//	client.WriteRequestMetric("update", "task_not_found", time.Millisecond)
func (c *Client) WriteRequestMetric(messageType, outcome string, elapsed time.Duration) {
	c.writePoint(measurementRequest,
		map[string]string{
			"type":    messageType,
			"outcome": outcome,
		},
		map[string]interface{}{
			"count":       1,
			"duration_ms": float64(elapsed) / float64(time.Millisecond),
		},
	)
}

// WriteConnectionMetric records a connection lifecycle event ("open",
// "upgrade", "close") for the given transport.
func (c *Client) WriteConnectionMetric(event, transport string) {
	c.writePoint(measurementConnection,
		map[string]string{
			"event":     event,
			"transport": transport,
		},
		map[string]interface{}{
			"count": 1,
		},
	)
}

// WriteSessionGauge records a snapshot of live session counts.
func (c *Client) WriteSessionGauge(total, authenticated, websocket int) {
	c.writePoint(measurementSessions,
		nil,
		map[string]interface{}{
			"total":         total,
			"authenticated": authenticated,
			"websocket":     websocket,
		},
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
