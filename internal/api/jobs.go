package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/spagmon/internal/api/models"
	"github.com/smazurov/spagmon/internal/control"
	"github.com/smazurov/spagmon/internal/daemon"
	"github.com/smazurov/spagmon/internal/supervisor"
)

// registerJobRoutes registers the job and process endpoints.
func (s *Server) registerJobRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List Jobs",
		Description: "List every configured job with its desired and running process counts",
		Tags:        []string{"jobs"},
		Errors:      []int{401, 500, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.JobListResponse, error) {
		jobs, err := s.supervisor.ListJobs(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		data := make([]models.JobData, len(jobs))
		for i, job := range jobs {
			data[i] = toJobData(job)
		}
		return &models.JobListResponse{
			Body: models.JobListData{Jobs: data, Count: len(data)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{id}",
		Summary:     "Get Job",
		Description: "Get one job",
		Tags:        []string{"jobs"},
		Errors:      []int{401, 404, 500, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.JobRequest) (*models.JobResponse, error) {
		job, err := s.supervisor.GetJob(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.JobResponse{Body: toJobData(job)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-job-processes",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{id}/processes",
		Summary:     "List Job Processes",
		Description: "Sample the running processes of a job: CPU, memory, uptime, owner and command",
		Tags:        []string{"jobs"},
		Errors:      []int{401, 404, 500, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.JobRequest) (*models.ProcessListResponse, error) {
		procs, err := s.supervisor.Processes(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		data := make([]models.ProcessData, len(procs))
		for i, p := range procs {
			data[i] = toProcessData(p)
		}
		return &models.ProcessListResponse{
			Body: models.ProcessListData{JobID: input.ID, Processes: data, Count: len(data)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "instruct-job",
		Method:      http.MethodPost,
		Path:        "/api/jobs/{id}/instructions",
		Summary:     "Instruct Job",
		Description: "Apply a control instruction: a count, \"N more\", \"N less\", \"max\", \"min\" or \"restart\"",
		Tags:        []string{"jobs"},
		Errors:      []int{400, 401, 404, 500, 501, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.InstructionRequest) (*models.MessageResponse, error) {
		msg, err := s.supervisor.Instruct(ctx, input.ID, input.Body.Instruction)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.MessageResponse{Body: models.MessageData{Message: msg}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restart-process",
		Method:      http.MethodPost,
		Path:        "/api/processes/{pid}/restart",
		Summary:     "Restart Process",
		Description: "Replace one supervised process with a fresh one of the same job",
		Tags:        []string{"processes"},
		Errors:      []int{401, 409, 500, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ProcessRestartRequest) (*models.MessageResponse, error) {
		if err := s.supervisor.RestartProcess(ctx, input.PID); err != nil {
			return nil, mapError(err)
		}
		return &models.MessageResponse{
			Body: models.MessageData{Message: fmt.Sprintf("Restarting process %d", input.PID)},
		}, nil
	})
}

// mapError converts supervisor and control errors to HTTP errors.
func mapError(err error) error {
	var fatal *supervisor.FatalError
	if errors.As(err, &fatal) {
		switch fatal.Code {
		case supervisor.ErrCodeUnknownJob:
			return huma.Error404NotFound(fatal.Message)
		case supervisor.ErrCodeUntrackedProcess, supervisor.ErrCodeUnmanagedProcess:
			return huma.Error409Conflict(fatal.Message)
		}
		return huma.Error500InternalServerError(fatal.Message, err)
	}

	var ctrl *control.Error
	if errors.As(err, &ctrl) {
		switch ctrl.Code {
		case control.ErrCodeInvalidInstruction:
			return huma.Error400BadRequest(ctrl.Message)
		case control.ErrCodeNotSupported:
			return huma.Error501NotImplemented(ctrl.Message)
		}
	}

	if errors.Is(err, daemon.ErrStopped) {
		return huma.Error503ServiceUnavailable("supervisor is shutting down")
	}
	return huma.Error500InternalServerError(err.Error())
}

func toJobData(job daemon.JobInfo) models.JobData {
	triggers := make([]models.TriggerData, len(job.Triggers))
	for i, t := range job.Triggers {
		triggers[i] = models.TriggerData{Type: t.Type, Op: t.Op, Value: t.Value, Action: t.Action}
	}
	slots := make([]models.SlotData, len(job.Tracked))
	for i, slot := range job.Tracked {
		slots[i] = models.SlotData{Slot: slot.ID, PID: slot.PID}
	}
	return models.JobData{
		ID:          job.ID,
		Name:        job.Name,
		Allowed:     models.RangeData{Min: job.Allowed.Min, Max: job.Allowed.Max},
		Desired:     job.Desired,
		Running:     job.Running,
		Terminating: job.Terminating,
		KillMode:    job.KillMode,
		Draining:    job.Draining,
		Triggers:    triggers,
		Processes:   slots,
	}
}

func toProcessData(p daemon.ProcessInfo) models.ProcessData {
	m := p.Metrics
	return models.ProcessData{
		Slot:          p.Slot,
		PID:           p.PID,
		CPUPercent:    m.CPUPercent,
		MemoryPercent: m.MemoryPercent,
		ResidentBytes: m.ResidentBytes,
		VirtualBytes:  m.VirtualBytes,
		TotalBytes:    m.TotalBytes,
		StartedAt:     m.StartedAt,
		UptimeSeconds: m.Uptime.Seconds(),
		User:          m.User,
		Group:         m.Group,
		Command:       m.Command,
	}
}
