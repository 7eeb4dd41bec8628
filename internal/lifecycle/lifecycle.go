// Package lifecycle implements the server state machine:
// create, update, reinstall, delete, and power actions, each serialized
// per server and driving the container runtime gateway, the installer,
// and the persisted ServerRecord together.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/cargo"
	"github.com/argon-hosting/daemon/internal/dockergw"
	"github.com/argon-hosting/daemon/internal/installer"
	"github.com/argon-hosting/daemon/internal/logbuffer"
	"github.com/argon-hosting/daemon/internal/panelclient"
	"github.com/argon-hosting/daemon/internal/record"
	"github.com/argon-hosting/daemon/internal/template"
	"github.com/argon-hosting/daemon/internal/tracing"
	"github.com/argon-hosting/daemon/internal/volume"
)

const (
	stopTimeout       = 30 * time.Second
	updateStopTimeout = 10 * time.Second // update-time stop grace
)

// CreateRequest is the caller-supplied subset of a new server's identity;
// everything template/variable-related is fetched from the panel once
// the record exists.
type CreateRequest struct {
	ServerID         string // panel-issued, opaque, becomes the record's primary key
	Name             string
	AllocationBind   string
	AllocationPort   int
	MemoryLimitBytes int64
	CPULimitCores    float64
}

// Controller drives the server lifecycle state machine. One Controller
// is shared process-wide; per-server work is serialized internally.
type Controller struct {
	store   record.Store
	docker  *dockergw.Client
	panel   *panelclient.Client
	install *installer.Installer
	fetcher *cargo.Fetcher
	logs    *logbuffer.Registry
	volDir  string
	log     *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Controller.
func New(store record.Store, docker *dockergw.Client, panel *panelclient.Client, install *installer.Installer, fetcher *cargo.Fetcher, logs *logbuffer.Registry, volumesDir string, log *slog.Logger) *Controller {
	return &Controller{
		store:   store,
		docker:  docker,
		panel:   panel,
		install: install,
		fetcher: fetcher,
		logs:    logs,
		volDir:  volumesDir,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-server mutex, creating it on first use.
func (c *Controller) lockFor(serverID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[serverID] = l
	}
	return l
}

// Get returns the current record for id.
func (c *Controller) Get(ctx context.Context, id string) (*record.ServerRecord, error) {
	return c.store.Get(ctx, id)
}

// List returns every known record.
func (c *Controller) List(ctx context.Context) ([]*record.ServerRecord, error) {
	return c.store.List(ctx)
}

// Status returns the live container status for id, when it has one.
func (c *Controller) Status(ctx context.Context, id string) (*dockergw.Status, error) {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ContainerID == nil || *rec.ContainerID == "" {
		return nil, nil
	}
	return c.docker.Inspect(ctx, *rec.ContainerID)
}

// Create registers a new server record in StateCreating and returns
// immediately; install and first start run asynchronously.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*record.ServerRecord, error) {
	id := req.ServerID
	if id == "" {
		id = uuid.NewString()
	}
	rec := &record.ServerRecord{
		ID:    id,
		Name:  req.Name,
		State: record.StateCreating,
		Allocation: record.Allocation{
			BindAddress: req.AllocationBind,
			Port:        req.AllocationPort,
		},
		MemoryLimitBytes: req.MemoryLimitBytes,
		CPULimitCores:    req.CPULimitCores,
		UpdatedAt:        time.Now(),
	}
	if err := c.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}

	go c.runCreate(rec.ID)
	return rec, nil
}

func (c *Controller) runCreate(serverID string) {
	lock := c.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := tracing.Start(context.Background(), "lifecycle.create")
	span.SetAttributes(attribute.String("server_id", serverID))
	defer span.End()

	cfg, err := c.panel.FetchConfig(ctx, serverID)
	if err != nil {
		c.fail(ctx, serverID, record.StateInstallFailed, err)
		return
	}

	if err := c.applyConfig(ctx, serverID, cfg); err != nil {
		c.fail(ctx, serverID, record.StateInstallFailed, err)
		return
	}

	c.runInstallAndStart(ctx, serverID, true)
}

// applyConfig renders the server's startup command, copies the panel's
// install/cargo directives onto the record, and fetches every cargo
// entry into the server volume.
func (c *Controller) applyConfig(ctx context.Context, serverID string, cfg *panelclient.ServerConfig) error {
	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		return err
	}

	rec.Image = cfg.Image
	rec.Variables = cfg.Variables
	rec.Install = record.Install{Image: cfg.InstallImage, Entrypoint: cfg.InstallEntry, Script: cfg.InstallScript}
	rec.ConfigFiles = cfg.ConfigFiles

	cargoTargets := make(map[string]string, len(cfg.Cargo))
	for _, entry := range cfg.Cargo {
		_, err := c.fetcher.Fetch(ctx, volume.Dir(c.volDir, serverID), cargo.Entry{
			URL: entry.URL, TargetPath: entry.TargetPath, Readonly: entry.Readonly,
		})
		if err != nil {
			return fmt.Errorf("fetch cargo %s: %w", entry.TargetPath, err)
		}
		// The runtime container only ever sees the volume at
		// /home/container; %cargo:[...]% must render a
		// path valid inside that container, not the host-side
		// destination Fetch wrote to.
		rel := strings.TrimPrefix(filepath.Clean("/"+entry.TargetPath), "/")
		cargoTargets[entry.TargetPath] = filepath.Join("/home/container", rel)
	}

	rendered, err := template.Render(cfg.StartupCommand, cfg.Variables, cargoTargets)
	if err != nil {
		return err
	}
	rec.StartupCommand = rendered

	return c.store.Update(ctx, rec)
}

// runInstallAndStart runs the one-shot installer and, on success, lands the
// record in Installed. When autoStart is set (Create's flow) it continues
// on to create and start the runtime container; Reinstall passes false so
// the server stays at Installed with no container until the next power
// start.
func (c *Controller) runInstallAndStart(ctx context.Context, serverID string, autoStart bool) {
	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		return
	}

	rec.State = record.StateInstalling
	rec.UpdatedAt = time.Now()
	_ = c.store.Update(ctx, rec)

	env := renderedEnv(rec.Variables)
	ring := c.logs.Get(serverID)

	err = c.install.Run(ctx, installer.Spec{
		ServerID:     serverID,
		VolumesDir:   c.volDir,
		InstallImage: rec.Install.Image,
		RuntimeImage: rec.Image,
		Entrypoint:   rec.Install.Entrypoint,
		Script:       rec.Install.Script,
		EnvVars:      env,
		MemoryBytes:  rec.MemoryLimitBytes,
	}, ring)
	if err != nil {
		c.fail(ctx, serverID, record.StateInstallFailed, err)
		return
	}

	rec.State = record.StateInstalled
	rec.UpdatedAt = time.Now()
	if err := c.store.Update(ctx, rec); err != nil {
		c.log.Error("persist Installed state failed", "server_id", serverID, "error", err)
		return
	}

	if !autoStart {
		return
	}

	if err := c.startRuntimeContainer(ctx, serverID); err != nil {
		c.fail(ctx, serverID, record.StateErrored, err)
	}
}

// startRuntimeContainer creates (if needed) and starts the persistent
// runtime container, then marks the record Running.
func (c *Controller) startRuntimeContainer(ctx context.Context, serverID string) error {
	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		return err
	}

	rec.State = record.StateStarting
	rec.UpdatedAt = time.Now()
	_ = c.store.Update(ctx, rec)

	containerID := ""
	if rec.ContainerID != nil && *rec.ContainerID != "" {
		containerID = *rec.ContainerID
	} else {
		containerID, err = c.createRuntimeContainer(ctx, rec)
		if err != nil {
			return argonerr.New(argonerr.KindContainerOpFailed, err)
		}
		rec.ContainerID = &containerID
		if err := c.store.Update(ctx, rec); err != nil {
			return err
		}
	}

	if err := c.docker.StartContainer(ctx, containerID); err != nil {
		return argonerr.New(argonerr.KindContainerOpFailed, err)
	}

	rec.State = record.StateRunning
	rec.UpdatedAt = time.Now()
	return c.store.Update(ctx, rec)
}

func (c *Controller) createRuntimeContainer(ctx context.Context, rec *record.ServerRecord) (string, error) {
	volDir := volume.Dir(c.volDir, rec.ID)
	if err := os.MkdirAll(volDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure volume dir: %w", err)
	}

	env := []string{
		"TERM=xterm",
		"HOME=/home/container",
		"USER=container",
		"STARTUP=" + rec.StartupCommand,
	}
	vars := renderedEnv(rec.Variables)
	for _, k := range sortedKeys(vars) {
		env = append(env, k+"="+vars[k])
	}

	return c.docker.CreateContainer(ctx, dockergw.CreateOpts{
		Image:       rec.Image,
		Name:        fmt.Sprintf("argon-server-%s", volume.Sanitize(rec.ID)),
		Command:     []string{"sh", "-c", rec.StartupCommand},
		Env:         env,
		Labels:      map[string]string{"argon.server.id": rec.ID, "argon.server.name": rec.Name, "argon.role": "runtime"},
		Volumes:     []string{volDir + ":/home/container:rw"},
		Ports:       []dockergw.PortBinding{{HostIP: rec.Allocation.BindAddress, Port: rec.Allocation.Port}},
		User:        "container",
		WorkingDir:  "/home/container",
		MemoryBytes: rec.MemoryLimitBytes,
		SwapBytes:   2 * rec.MemoryLimitBytes,
		CPUCores:    rec.CPULimitCores,
		NetworkMode: "bridge",
		Init:        true,
		OpenStdin:   true,
		NoNewPrivs:  true,
		ReadonlyFS:  []string{"/proc/bus", "/proc/fs", "/proc/irq", "/proc/sys", "/proc/sysrq-trigger"},
		Restart:     "unless-stopped",
	})
}

// fail demotes the record to failState and logs the cause.
func (c *Controller) fail(ctx context.Context, serverID string, failState record.State, cause error) {
	tracing.RecordError(trace.SpanFromContext(ctx), cause)
	c.log.Error("lifecycle operation failed", "server_id", serverID, "state", failState, "error", cause)
	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		return
	}
	rec.State = failState
	rec.UpdatedAt = time.Now()
	_ = c.store.Update(ctx, rec)
}

func renderedEnv(vars []template.Variable) map[string]string {
	env := make(map[string]string, len(vars))
	for _, v := range vars {
		env[strings.ToUpper(template.NormalizedName(v.Name))] = v.Value()
	}
	return env
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
