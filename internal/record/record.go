// Package record defines the persisted ServerRecord and the
// narrow store interface the lifecycle controller uses to read/write it.
// Persistence itself is out of scope: only the interface
// matters, so the concrete store backing it is swappable (in-memory for
// tests, Postgres for production — see the postgres subpackage).
package record

import (
	"context"
	"time"

	"github.com/argon-hosting/daemon/internal/template"
)

// State is the server lifecycle controller's state machine.
type State string

const (
	StateCreating      State = "Creating"
	StateInstalling    State = "Installing"
	StateInstallFailed State = "InstallFailed"
	StateInstalled     State = "Installed"
	StateStarting      State = "Starting"
	StateRunning       State = "Running"
	StateUpdating      State = "Updating"
	StateUpdateFailed  State = "UpdateFailed"
	StateStopping      State = "Stopping"
	StateStopped       State = "Stopped"
	StateErrored       State = "Errored"
	StateDeleting      State = "Deleting"
)

// HasContainer reports whether this state implies an inspectable
// container must exist.
func (s State) HasContainer() bool {
	switch s {
	case StateRunning, StateStopped, StateUpdating, StateStopping:
		return true
	default:
		return false
	}
}

// Allocation is the (bindAddress, port) pair bound for both TCP and UDP.
type Allocation struct {
	BindAddress string `db:"bind_address" json:"bindAddress"`
	Port        int    `db:"port" json:"port"`
}

// Install describes the one-shot installer container spec.
type Install struct {
	Image      string `db:"install_image" json:"image"`
	Entrypoint string `db:"install_entrypoint" json:"entrypoint"`
	Script     string `db:"install_script" json:"script"`
}

// CargoFile is one auxiliary artifact fetched into the server volume at
// install time.
type CargoFile struct {
	URL              string            `db:"url" json:"url"`
	TargetPath       string            `db:"target_path" json:"targetPath"`
	Hidden           bool              `db:"hidden" json:"hidden"`
	NoDelete         bool              `db:"no_delete" json:"noDelete"`
	Readonly         bool              `db:"readonly" json:"readonly"`
	CustomProperties map[string]string `db:"custom_properties" json:"customProperties,omitempty"`
}

// ServerRecord is the unit of persistence, one per managed server.
type ServerRecord struct {
	ID               string              `db:"id" json:"id"`
	ContainerID      *string             `db:"docker_id" json:"containerId"`
	Name             string              `db:"name" json:"name"`
	Image            string              `db:"image" json:"image"`
	State            State               `db:"state" json:"state"`
	MemoryLimitBytes int64               `db:"memory_limit" json:"memoryLimitBytes"`
	CPULimitCores    float64             `db:"cpu_limit" json:"cpuLimitCores"`
	Variables        []template.Variable `db:"variables" json:"variables"`
	StartupCommand   string              `db:"startup_command" json:"startupCommand"`
	Install          Install             `db:"-" json:"install"`
	Allocation       Allocation          `db:"allocation" json:"allocation"`
	ConfigFiles      []string            `db:"config_files" json:"configFiles"`
	Cargo            []CargoFile         `db:"cargo" json:"cargo,omitempty"`
	SFTPEnabled      bool                `db:"sftp_enabled" json:"sftpEnabled"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updatedAt"`
}

// Store is the persisted ServerRecord collection the lifecycle controller
// reads and writes. Implementations must treat Get on a missing id as
// argonerr.KindRecordNotFound.
type Store interface {
	Create(ctx context.Context, rec *ServerRecord) error
	Get(ctx context.Context, id string) (*ServerRecord, error)
	List(ctx context.Context) ([]*ServerRecord, error)
	Update(ctx context.Context, rec *ServerRecord) error
	Delete(ctx context.Context, id string) error
}
