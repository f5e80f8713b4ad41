package ports

import "time"

const (
	WorkerIdleBackoff  = 200 * time.Millisecond // Delay between polls of an empty queue
	DefaultSyncTimeout = 10 * time.Second       // How long a synchronous dispatch waits for its result
)
