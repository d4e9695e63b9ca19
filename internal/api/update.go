package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/spagmon/internal/api/models"
	"github.com/smazurov/spagmon/internal/updater"
)

// registerUpdateRoutes registers the self-update endpoints.
func (s *Server) registerUpdateRoutes() {
	svc := s.options.UpdateService
	if svc == nil {
		return
	}

	check := huma.Operation{
		OperationID: "check-updates",
		Method:      http.MethodGet,
		Path:        "/api/update/check",
		Summary:     "Check for Updates",
		Description: "Check if a newer release is available without downloading it",
		Tags:        []string{"update"},
		Errors:      []int{401, 404, 409, 500, 503},
		Security:    withAuth(),
	}
	status := huma.Operation{
		OperationID: "get-update-status",
		Method:      http.MethodGet,
		Path:        "/api/update/status",
		Summary:     "Get Update Status",
		Description: "Get the current update state, including whether updates are possible at all",
		Tags:        []string{"update"},
		Errors:      []int{401},
		Security:    withAuth(),
	}
	apply := huma.Operation{
		OperationID: "apply-update",
		Method:      http.MethodPost,
		Path:        "/api/update/apply",
		Summary:     "Apply Update",
		Description: "Download and install the latest release, then restart the supervisor. Supervised processes are stopped and started again by the new version.",
		Tags:        []string{"update"},
		Errors:      []int{400, 401, 404, 409, 500, 503},
		Security:    withAuth(),
	}
	rollback := huma.Operation{
		OperationID: "rollback-update",
		Method:      http.MethodPost,
		Path:        "/api/update/rollback",
		Summary:     "Rollback Update",
		Description: "Restore the binary that was replaced by the last update, then restart",
		Tags:        []string{"update"},
		Errors:      []int{401, 404, 500, 503},
		Security:    withAuth(),
	}

	huma.Register(s.api, status, func(ctx context.Context, _ *struct{}) (*models.UpdateStatusResponse, error) {
		st := svc.GetStatus(ctx)
		return &models.UpdateStatusResponse{
			Body: models.UpdateStatusData{
				Enabled:         st.Enabled,
				DisabledReason:  st.DisabledReason,
				State:           string(st.State),
				CurrentVersion:  st.CurrentVersion,
				TargetVersion:   st.TargetVersion,
				Repository:      st.Repository,
				Error:           st.Error,
				LastChecked:     st.LastChecked,
				BackupAvailable: st.BackupAvailable,
				BackupVersion:   st.BackupVersion,
			},
		}, nil
	})

	if !svc.IsEnabled() {
		disabled := func(_ context.Context, _ *struct{}) (*struct{}, error) {
			return nil, huma.Error503ServiceUnavailable("Update service disabled: " + svc.DisabledReason())
		}
		for _, op := range []huma.Operation{check, apply, rollback} {
			op.Errors = []int{401, 503}
			huma.Register(s.api, op, disabled)
		}
		return
	}

	huma.Register(s.api, check, func(ctx context.Context, _ *struct{}) (*models.UpdateCheckResponse, error) {
		info, err := svc.CheckForUpdate(ctx)
		if err != nil {
			return nil, mapUpdateError(err)
		}
		return &models.UpdateCheckResponse{
			Body: models.UpdateCheckData{
				CurrentVersion:  info.CurrentVersion,
				LatestVersion:   info.LatestVersion,
				Repository:      info.Repository,
				ReleaseNotes:    info.ReleaseNotes,
				ReleaseURL:      info.ReleaseURL,
				PublishedAt:     info.PublishedAt,
				AssetSize:       info.AssetSize,
				UpdateAvailable: info.UpdateAvailable,
			},
		}, nil
	})

	huma.Register(s.api, apply, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
		if err := svc.ApplyUpdate(ctx); err != nil {
			return nil, mapUpdateError(err)
		}
		return &models.MessageResponse{
			Body: models.MessageData{Message: "Update applied, restarting..."},
		}, nil
	})

	huma.Register(s.api, rollback, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
		if err := svc.Rollback(ctx); err != nil {
			return nil, mapUpdateError(err)
		}
		return &models.MessageResponse{
			Body: models.MessageData{Message: "Rollback complete, restarting..."},
		}, nil
	})
}

// mapUpdateError converts updater errors to Huma HTTP errors.
func mapUpdateError(err error) error {
	var updateErr *updater.Error
	if !errors.As(err, &updateErr) {
		return huma.Error500InternalServerError(err.Error())
	}
	switch {
	case updater.IsError(err, updater.ErrCodeInvalidState):
		return huma.Error409Conflict(updateErr.Message)
	case updater.IsError(err, updater.ErrCodeNoUpdate):
		return huma.Error400BadRequest(updateErr.Message)
	case updater.IsError(err, updater.ErrCodeNotFound, updater.ErrCodeNoBackup):
		return huma.Error404NotFound(updateErr.Message)
	case updater.IsError(err, updater.ErrCodeDisabled):
		return huma.Error503ServiceUnavailable(updateErr.Message)
	default:
		return huma.Error500InternalServerError(fmt.Sprintf("update %s failed: %s", updateErr.Op, updateErr.Message))
	}
}
