package httpserver

import "time"

// ShutdownTimeout controls how long to wait for graceful shutdowns, including
// draining the batch queue.
var ShutdownTimeout = 30 * time.Second
