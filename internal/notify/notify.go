// Package notify delivers run events to whoever is listening.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/arch-studio/engine/internal/metrics"
)

type EventType string

const (
	SceneUpdated EventType = "scene.updated"
	RunStatus    EventType = "run.status"
	MessageAdded EventType = "message.added"
	Heartbeat    EventType = "heartbeat"
)

// Event is one notification scoped to a run.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"runId"`
	Data  any       `json:"data,omitempty"`
	At    time.Time `json:"at"`
}

func NewEvent(t EventType, runID string, data any) Event {
	return Event{Type: t, RunID: runID, Data: data, At: time.Now().UTC()}
}

// Publisher broadcasts an event. It reports whether any listener received it and
// never blocks on slow listeners.
type Publisher interface {
	Publish(ctx context.Context, e Event) bool
}

// Subscriber hands out per-run event streams. The returned func ends the subscription.
type Subscriber interface {
	Subscribe(runID string) (<-chan Event, func())
}

type counted struct{ next Publisher }

// Counted records every publish in the notifications metric.
func Counted(p Publisher) Publisher { return counted{next: p} }

func (c counted) Publish(ctx context.Context, e Event) bool {
	ok := c.next.Publish(ctx, e)
	metrics.Notifications.WithLabelValues(string(e.Type), strconv.FormatBool(ok)).Inc()
	return ok
}
