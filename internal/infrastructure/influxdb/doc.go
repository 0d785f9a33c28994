// Package influxdb writes the Keystone auth event time series to InfluxDB v2.
//
// Each auth event becomes one point in the auth_events measurement, tagged
// by event type and failure reason, so login failure rates and token
// rejections can be graphed over time.
//
// Writes are non-blocking and batched by the client library. A failed
// Connect is not fatal to the service; main logs it and runs without the
// time series.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("influxdb write failed", "error", err) })
package influxdb
