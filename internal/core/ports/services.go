package ports

import (
	"github.com/quayside/conveyor/internal/entities"
)

// TaskEventSink receives task lifecycle events for streaming to
// websocket subscribers.
type TaskEventSink interface {
	Publish(event entities.TaskEvent)
}
