// Package timeouts defines shared timeout constants used across the sync
// surfaces. Centralizing these values prevents drift between the server and
// client boundaries and makes the durations discoverable.
package timeouts

import "time"

// Request caps the time allowed for a single HTTP request from the sync
// client to the server.
const Request = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
