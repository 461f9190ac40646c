// Package influxdb mirrors connectivity transitions and fleet totals into
// InfluxDB for dashboards.
//
// The mirror is optional and best-effort. SQLite holds the authoritative
// history; a disabled or unreachable InfluxDB never affects polling.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without the mirror
//	}
//	defer client.Close()
//
//	client.WriteConnectivity("grd", 5, time.Now(), false)
//
// # Error Handling
//
// Writes are batched (batch_size, flush_interval) and non-blocking. Batch
// failures are delivered to the SetOnError callback wrapped in ErrWriteFailed.
package influxdb
