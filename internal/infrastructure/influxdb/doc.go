// Package influxdb provides the optional time-series mirror for telemetry.
//
// SQLite remains the source of truth for the dashboard; this package
// additionally streams sensor readings and device state changes into
// InfluxDB for long-horizon graphing when a deployment runs one. It wraps
// the official influxdb-client-go v2 library.
//
// # Error Handling
//
// Writes are non-blocking and batched; failures surface asynchronously
// via SetOnError. Connection and health check errors are returned
// directly. When the mirror is disabled in configuration, Connect returns
// ErrDisabled and the rest of the bridge runs unchanged.
package influxdb
