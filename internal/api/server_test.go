package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/spagmon/internal/api/models"
	"github.com/smazurov/spagmon/internal/control"
	"github.com/smazurov/spagmon/internal/daemon"
	"github.com/smazurov/spagmon/internal/events"
	"github.com/smazurov/spagmon/internal/logging"
	"github.com/smazurov/spagmon/internal/procstat"
	"github.com/smazurov/spagmon/internal/supervisor"
	"github.com/smazurov/spagmon/internal/updater"
)

type fakeSupervisor struct {
	jobs         map[string]daemon.JobInfo
	instructions []string
	restarted    []int
	instructErr  error
	restartErr   error
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{jobs: map[string]daemon.JobInfo{
		"web": {
			ID:       "web",
			Name:     "Web workers",
			Allowed:  supervisor.Range{Min: 1, Max: 10},
			Desired:  2,
			Running:  2,
			KillMode: "graceful(20s)",
			Triggers: []supervisor.TriggerConfig{{Type: "memory", Op: ">", Value: "512MiB", Action: "restart"}},
			Tracked:  []supervisor.Slot{{ID: "a", PID: 4820}, {ID: "b", PID: 4821}},
		},
	}}
}

func unknown(id string) error {
	return supervisor.NewFatalError(supervisor.ErrCodeUnknownJob, fmt.Sprintf("unknown job id %q", id), nil)
}

func (f *fakeSupervisor) ListJobs(context.Context) ([]daemon.JobInfo, error) {
	out := make([]daemon.JobInfo, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeSupervisor) GetJob(_ context.Context, id string) (daemon.JobInfo, error) {
	j, ok := f.jobs[id]
	if !ok {
		return daemon.JobInfo{}, unknown(id)
	}
	return j, nil
}

func (f *fakeSupervisor) Processes(_ context.Context, id string) ([]daemon.ProcessInfo, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, unknown(id)
	}
	var out []daemon.ProcessInfo
	for _, s := range j.Tracked {
		out = append(out, daemon.ProcessInfo{Slot: s.ID, PID: s.PID, Metrics: procstat.Metrics{
			PID:           s.PID,
			ResidentBytes: 50 << 20,
			Uptime:        90 * time.Second,
			Command:       "gunicorn",
		}})
	}
	return out, nil
}

func (f *fakeSupervisor) Instruct(_ context.Context, id, instruction string) (string, error) {
	if _, ok := f.jobs[id]; !ok {
		return "", unknown(id)
	}
	if f.instructErr != nil {
		return "", f.instructErr
	}
	f.instructions = append(f.instructions, instruction)
	return "Increasing 'Web workers' processes by 1 (from 2 to 3)", nil
}

func (f *fakeSupervisor) RestartProcess(_ context.Context, pid int) error {
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarted = append(f.restarted, pid)
	return nil
}

func newTestServer(t *testing.T, opts *Options) *httptest.Server {
	t.Helper()
	if opts.Supervisor == nil {
		opts.Supervisor = newFakeSupervisor()
	}
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, auth ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestJobRoutes(t *testing.T) {
	ts := newTestServer(t, &Options{})

	resp := do(t, http.MethodGet, ts.URL+"/api/jobs", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/jobs status = %d", resp.StatusCode)
	}
	var list models.JobListData
	decode(t, resp, &list)
	if list.Count != 1 || list.Jobs[0].ID != "web" || len(list.Jobs[0].Processes) != 2 {
		t.Errorf("job list = %+v", list)
	}
	if list.Jobs[0].Triggers[0].Value != "512MiB" {
		t.Errorf("triggers = %+v", list.Jobs[0].Triggers)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/jobs/web/processes", "")
	var procs models.ProcessListData
	decode(t, resp, &procs)
	if procs.Count != 2 || procs.Processes[0].PID != 4820 || procs.Processes[0].UptimeSeconds != 90 {
		t.Errorf("processes = %+v", procs)
	}
}

func TestInstructionRoute(t *testing.T) {
	sup := newFakeSupervisor()
	ts := newTestServer(t, &Options{Supervisor: sup})

	resp := do(t, http.MethodPost, ts.URL+"/api/jobs/web/instructions", `{"instruction":"more"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var msg models.MessageData
	decode(t, resp, &msg)
	if !strings.HasPrefix(msg.Message, "Increasing") {
		t.Errorf("message = %q", msg.Message)
	}
	if len(sup.instructions) != 1 || sup.instructions[0] != "more" {
		t.Errorf("instructions = %v", sup.instructions)
	}

	resp = do(t, http.MethodPost, ts.URL+"/api/jobs/web/instructions", `{"instruction":""}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty instruction status = %d, want 422", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown job", unknown("x"), http.StatusNotFound},
		{"untracked", supervisor.NewFatalError(supervisor.ErrCodeUntrackedProcess, "untracked", nil), http.StatusConflict},
		{"unmanaged", supervisor.NewFatalError(supervisor.ErrCodeUnmanagedProcess, "unmanaged", nil), http.StatusConflict},
		{"invalid", &control.Error{Code: control.ErrCodeInvalidInstruction, Message: "bad"}, http.StatusBadRequest},
		{"unsupported", &control.Error{Code: control.ErrCodeNotSupported, Message: "pause"}, http.StatusNotImplemented},
		{"stopped", daemon.ErrStopped, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := newFakeSupervisor()
			sup.instructErr = tt.err
			sup.restartErr = tt.err
			ts := newTestServer(t, &Options{Supervisor: sup})

			resp := do(t, http.MethodPost, ts.URL+"/api/jobs/web/instructions", `{"instruction":"1"}`)
			if resp.StatusCode != tt.want {
				t.Errorf("instruction status = %d, want %d", resp.StatusCode, tt.want)
			}
			resp = do(t, http.MethodPost, ts.URL+"/api/processes/4820/restart", "")
			if resp.StatusCode != tt.want {
				t.Errorf("restart status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestUnknownJobRoutes(t *testing.T) {
	ts := newTestServer(t, &Options{})
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/processes"} {
		if resp := do(t, http.MethodGet, ts.URL+path, ""); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestRestartProcessRoute(t *testing.T) {
	sup := newFakeSupervisor()
	ts := newTestServer(t, &Options{Supervisor: sup})

	resp := do(t, http.MethodPost, ts.URL+"/api/processes/4821/restart", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(sup.restarted) != 1 || sup.restarted[0] != 4821 {
		t.Errorf("restarted = %v", sup.restarted)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(t, &Options{AuthUsername: "admin", AuthPassword: "secret"})

	tests := []struct {
		name string
		path string
		auth []string
		want int
	}{
		{"health is public", "/api/health", nil, http.StatusOK},
		{"version is public", "/api/version", nil, http.StatusOK},
		{"missing credentials", "/api/jobs", nil, http.StatusUnauthorized},
		{"wrong password", "/api/jobs", []string{"admin", "nope"}, http.StatusUnauthorized},
		{"valid", "/api/jobs", []string{"admin", "secret"}, http.StatusOK},
		{"query auth", "/api/jobs?auth=" + base64.StdEncoding.EncodeToString([]byte("admin:secret")), nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, ts.URL+tt.path, "", tt.auth...)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") != authRealm {
				t.Errorf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
			}
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "spagmon_up 1")
	})
	ts := newTestServer(t, &Options{AuthUsername: "a", AuthPassword: "b", MetricsHandler: handler})

	resp := do(t, http.MethodGet, ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, &Options{CORSOrigin: "https://ops.example.com"})

	resp := do(t, http.MethodOptions, ts.URL+"/api/jobs", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestEventStream(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, &Options{Events: bus})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// The handler subscribes asynchronously; publish until the stream sees it.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-ticker.C:
			bus.Publish(events.ProcessLostEvent{JobID: "web", Slot: "a", PID: 4820})
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if line == "event: process-lost" {
				return
			}
		case <-deadline:
			t.Fatal("no process-lost event received")
		}
	}
}

func TestLogsRoute(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	logger := logging.GetLogger("logtest")
	logger.Info("first")
	logger.Info("second", "job", "web", "pid", 4820)
	logging.GetLogger("other").Info("elsewhere")

	ts := newTestServer(t, &Options{})
	resp := do(t, http.MethodGet, ts.URL+"/api/logs?module=logtest&limit=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body models.LogListData
	decode(t, resp, &body)
	if body.Count != 1 || len(body.Entries) != 1 {
		t.Fatalf("entries = %+v, want one", body.Entries)
	}
	entry := body.Entries[0]
	if entry.Message != "second" || entry.Module != "logtest" {
		t.Errorf("entry = %+v, want the newest logtest line", entry)
	}
	if entry.Job != "web" || entry.PID != 4820 || entry.Seq == 0 {
		t.Errorf("entry job=%q pid=%d seq=%d, want web 4820 and a sequence number", entry.Job, entry.PID, entry.Seq)
	}
	if len(entry.Attributes) != 0 {
		t.Errorf("attributes = %v, want job and pid lifted out", entry.Attributes)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/logs?job=web", "")
	decode(t, resp, &body)
	if body.Count != 1 || body.Entries[0].Message != "second" {
		t.Errorf("job=web entries = %+v, want only the web line", body.Entries)
	}

	after := entry.Seq
	logger.Info("third", "job", "web")
	resp = do(t, http.MethodGet, fmt.Sprintf("%s/api/logs?module=logtest&after=%d", ts.URL, after), "")
	decode(t, resp, &body)
	if body.Count != 1 || body.Entries[0].Message != "third" {
		t.Errorf("after=%d entries = %+v, want only third", after, body.Entries)
	}
}

func TestLogStreamFiltersByJob(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	bus := events.New()
	ts := newTestServer(t, &Options{Events: bus})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/logs/stream?job=web", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(3 * time.Second)
	var seq uint64
	for {
		select {
		case <-ticker.C:
			seq++
			bus.Publish(events.LogEntryEvent{Seq: seq, Module: "workers", JobID: "queue", Message: "queue output"})
			seq++
			bus.Publish(events.LogEntryEvent{Seq: seq, Module: "workers", JobID: "web", Message: "web output"})
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if strings.Contains(line, "queue output") {
				t.Fatalf("stream for job web sent %q", line)
			}
			if strings.Contains(line, "web output") {
				return
			}
		case <-deadline:
			t.Fatal("no web log entry received")
		}
	}
}

type disabledUpdater struct{}

func (disabledUpdater) CheckForUpdate(context.Context) (*updater.UpdateInfo, error) { return nil, nil }
func (disabledUpdater) ApplyUpdate(context.Context) error                          { return nil }
func (disabledUpdater) Rollback(context.Context) error                             { return nil }
func (disabledUpdater) IsEnabled() bool                                            { return false }
func (disabledUpdater) DisabledReason() string                                     { return "no write permission to /usr/bin" }
func (disabledUpdater) GetStatus(context.Context) *updater.Status {
	return &updater.Status{
		State:          updater.StateIdle,
		CurrentVersion: "0.4.1",
		Repository:     updater.DefaultRepository,
		DisabledReason: "no write permission to /usr/bin",
	}
}

func TestUpdateRoutesWhenDisabled(t *testing.T) {
	ts := newTestServer(t, &Options{UpdateService: disabledUpdater{}})

	resp := do(t, http.MethodGet, ts.URL+"/api/update/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status route = %d, want 200", resp.StatusCode)
	}
	var status models.UpdateStatusData
	decode(t, resp, &status)
	if status.Enabled || status.DisabledReason == "" || status.Repository != updater.DefaultRepository {
		t.Errorf("status = %+v", status)
	}

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/update/check"},
		{http.MethodPost, "/api/update/apply"},
		{http.MethodPost, "/api/update/rollback"},
	} {
		if resp := do(t, route.method, ts.URL+route.path, ""); resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", route.method, route.path, resp.StatusCode)
		}
	}
}

func TestMapUpdateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"busy", &updater.Error{Op: updater.OpApply, Code: updater.ErrCodeInvalidState}, http.StatusConflict},
		{"current", &updater.Error{Op: updater.OpApply, Code: updater.ErrCodeNoUpdate}, http.StatusBadRequest},
		{"no releases", fmt.Errorf("wrapped: %w", &updater.Error{Op: updater.OpCheck, Code: updater.ErrCodeNotFound}), http.StatusNotFound},
		{"no backup", &updater.Error{Op: updater.OpRollback, Code: updater.ErrCodeNoBackup}, http.StatusNotFound},
		{"apply failed", &updater.Error{Op: updater.OpApply, Code: updater.ErrCodeApplyFailed}, http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var statusErr huma.StatusError
			if !errors.As(mapUpdateError(tt.err), &statusErr) || statusErr.GetStatus() != tt.want {
				t.Errorf("mapUpdateError() status = %v, want %d", statusErr, tt.want)
			}
		})
	}
}
