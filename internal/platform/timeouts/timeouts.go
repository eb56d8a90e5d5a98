// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SyncBase is the fixed portion of the wall-clock bound for one sync call.
const SyncBase = 30 * time.Second

// SyncPerBatch is the per-batch portion of the sync wall-clock bound.
const SyncPerBatch = 2 * time.Second
