package models

import "time"

// UpdateCheckData describes the newest release of the supervisor binary.
type UpdateCheckData struct {
	CurrentVersion  string    `json:"current_version" example:"0.4.1" doc:"Version of the running supervisor"`
	LatestVersion   string    `json:"latest_version" example:"0.5.0" doc:"Newest published release"`
	Repository      string    `json:"repository" example:"smazurov/spagmon" doc:"GitHub repository releases come from"`
	UpdateAvailable bool      `json:"update_available" example:"true" doc:"Whether the newest release is ahead of the running one"`
	ReleaseNotes    string    `json:"release_notes,omitempty" doc:"Markdown release notes"`
	ReleaseURL      string    `json:"release_url,omitempty" doc:"Release page"`
	PublishedAt     time.Time `json:"published_at,omitempty" doc:"When the release was published"`
	AssetSize       int       `json:"asset_size,omitempty" example:"9437184" doc:"Download size in bytes"`
}

type UpdateCheckResponse struct {
	Body UpdateCheckData
}

// UpdateStatusData reports where the updater is. While State is
// "restarting" the supervisor is about to stop its processes and exit so
// the service manager starts the new binary.
type UpdateStatusData struct {
	Enabled         bool       `json:"enabled" example:"true" doc:"False when the binary's directory is not writable"`
	DisabledReason  string     `json:"disabled_reason,omitempty" doc:"Why updates are unavailable"`
	State           string     `json:"state" example:"idle" enum:"idle,checking,available,downloading,applying,restarting,error,rolled_back" doc:"Updater state"`
	CurrentVersion  string     `json:"current_version" example:"0.4.1" doc:"Version of the running supervisor"`
	TargetVersion   string     `json:"target_version,omitempty" example:"0.5.0" doc:"Release being installed"`
	Repository      string     `json:"repository,omitempty" example:"smazurov/spagmon" doc:"GitHub repository releases come from"`
	Error           string     `json:"error,omitempty" doc:"Last failure"`
	LastChecked     *time.Time `json:"last_checked,omitempty" doc:"Last release check"`
	BackupAvailable bool       `json:"backup_available" doc:"Whether a rollback is possible"`
	BackupVersion   string     `json:"backup_version,omitempty" example:"0.4.0" doc:"Version a rollback restores"`
}

type UpdateStatusResponse struct {
	Body UpdateStatusData
}
