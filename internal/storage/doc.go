// Package storage persists telemetry readings and device control history
// in SQLite.
//
// The control_history table doubles as the device state record: a device's
// "last known status" is simply its most recent row, whether that row came
// from a command the bridge issued (source "command") or from the device
// reporting its own state (source "device"). Failures here are non-fatal
// to the realtime path; callers log and carry on.
package storage
