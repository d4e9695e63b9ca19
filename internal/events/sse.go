package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels
// This is needed for SSE integration where Huma expects a channel-based select loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}

// SubscribeAllToChannel forwards every job event type to ch.
func SubscribeAllToChannel(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[ProcessStartedEvent](bus, ch),
		SubscribeToChannel[ProcessLostEvent](bus, ch),
		SubscribeToChannel[ProcessStoppingEvent](bus, ch),
		SubscribeToChannel[ProcessStoppedEvent](bus, ch),
		SubscribeToChannel[TriggerFiredEvent](bus, ch),
		SubscribeToChannel[DesiredCountChangedEvent](bus, ch),
		SubscribeToChannel[JobsReloadedEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

var names = map[uint32]string{
	TypeProcessStarted:      "process-started",
	TypeProcessLost:         "process-lost",
	TypeProcessStopping:     "process-stopping",
	TypeProcessStopped:      "process-stopped",
	TypeTriggerFired:        "trigger-fired",
	TypeDesiredCountChanged: "desired-count-changed",
	TypeJobsReloaded:        "jobs-reloaded",
	TypeLogEntry:            "log-entry",
}

// Name returns the wire name of ev, used for SSE event names and NATS subjects.
func Name(ev Event) string {
	return names[ev.Type()]
}

// SSETypes maps SSE event names to their payload types for OpenAPI docs.
func SSETypes() map[string]any {
	types := make(map[string]any)
	for _, ev := range []Event{
		ProcessStartedEvent{},
		ProcessLostEvent{},
		ProcessStoppingEvent{},
		ProcessStoppedEvent{},
		TriggerFiredEvent{},
		DesiredCountChangedEvent{},
		JobsReloadedEvent{},
	} {
		types[Name(ev)] = ev
	}
	return types
}
