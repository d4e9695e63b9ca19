package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/spagmon/internal/api/models"
	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/logging"
)

// registerLogRoutes registers the recent log and log stream endpoints.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Recent supervisor log entries from the in-memory buffer, including worker output",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LogListRequest) (*models.LogListResponse, error) {
		entries := recentLogs(logging.Filter{
			Job:    input.Job,
			Module: input.Module,
			PID:    input.PID,
			After:  input.After,
			Limit:  input.Limit,
		})
		return &models.LogListResponse{
			Body: models.LogListData{Entries: entries, Count: len(entries)},
		}, nil
	})

	if s.eventBus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Sends buffered log entries, then streams new ones. job and module narrow both.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, input *models.LogStreamRequest, send sse.Sender) {
		filter := logging.Filter{Job: input.Job, Module: input.Module}

		// Subscribe before replaying so nothing logged in between is lost.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.Query(filter) {
				if err := send.Data(events.FromLogEntry(entry)); err != nil {
					return
				}
				filter.After = entry.Seq
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case item := <-eventCh:
				ev, ok := item.(events.LogEntryEvent)
				if !ok || !streamMatch(filter, ev) {
					continue
				}
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}

// streamMatch applies filter to a live entry. Entries already replayed from
// the buffer are skipped by sequence number.
func streamMatch(filter logging.Filter, ev events.LogEntryEvent) bool {
	return filter.Match(logging.LogEntry{
		Seq:    ev.Seq,
		Module: ev.Module,
		Job:    ev.JobID,
		PID:    ev.PID,
	})
}

func recentLogs(filter logging.Filter) []models.LogEntryData {
	buffer := logging.GetBuffer()
	if buffer == nil {
		return []models.LogEntryData{}
	}

	out := []models.LogEntryData{}
	for _, e := range buffer.Query(filter) {
		out = append(out, models.LogEntryData{
			Seq:        e.Seq,
			Timestamp:  e.Timestamp,
			Level:      e.Level,
			Module:     e.Module,
			Message:    e.Message,
			Job:        e.Job,
			Slot:       e.Slot,
			PID:        e.PID,
			Attributes: e.Attributes,
		})
	}
	return out
}
