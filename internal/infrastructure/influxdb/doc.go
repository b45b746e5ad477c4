// Package influxdb records Kronos sync metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// # Measurements
//
//   - sync_request: one point per handled message (type, outcome, duration)
//   - sync_connection: connection open/upgrade/close events per transport
//   - sync_sessions: periodic snapshot of live session counts
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRequestMetric("create", "ok", elapsed)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Write methods are no-ops on a nil or closed client.
//
// # Error Handling
//
// Write failures are delivered asynchronously through SetOnError.
// Connection and health check errors are returned directly.
package influxdb
