package dockergw

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

// PortBinding describes one allocation.port exposure, bound for both TCP
// and UDP. An empty HostIP binds 0.0.0.0.
type PortBinding struct {
	HostIP string
	Port   int
}

// CreateOpts covers both the installer's ephemeral, privileged,
// host-networked container and the runtime's persistent, least-privileged,
// bridge-networked one.
type CreateOpts struct {
	Image      string
	Name       string
	Command    []string
	Env        []string
	Labels     map[string]string
	Volumes    []string // "host_path:container_path[:ro]"
	Ports      []PortBinding
	User       string
	WorkingDir string

	MemoryBytes int64
	SwapBytes   int64
	CPUCores    float64

	NetworkMode string // "host" or "bridge"
	Privileged  bool
	Init        bool
	OpenStdin   bool
	AutoRemove  bool
	NoNewPrivs  bool
	ReadonlyFS  []string // paths bind-mounted read-only inside the container
	Restart     string   // container.RestartPolicy.Name, "" = "no"
}

// CreateContainer creates a container per opts. Returns the container ID.
func (c *Client) CreateContainer(ctx context.Context, opts CreateOpts) (string, error) {
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, pb := range opts.Ports {
		hostIP := pb.HostIP
		if hostIP == "" {
			hostIP = "0.0.0.0"
		}
		for _, proto := range []string{"tcp", "udp"} {
			port, err := nat.NewPort(proto, fmt.Sprintf("%d", pb.Port))
			if err != nil {
				return "", fmt.Errorf("invalid port %d/%s: %w", pb.Port, proto, err)
			}
			exposedPorts[port] = struct{}{}
			portBindings[port] = []nat.PortBinding{{HostIP: hostIP, HostPort: fmt.Sprintf("%d", pb.Port)}}
		}
	}

	mounts := make([]mount.Mount, 0, len(opts.Volumes)+len(opts.ReadonlyFS))
	for _, vol := range opts.Volumes {
		parts := strings.SplitN(vol, ":", 3)
		if len(parts) < 2 {
			return "", fmt.Errorf("invalid volume spec %q (want host:container[:ro])", vol)
		}
		m := mount.Mount{Type: mount.TypeBind, Source: parts[0], Target: parts[1]}
		if len(parts) == 3 && parts[2] == "ro" {
			m.ReadOnly = true
		}
		mounts = append(mounts, m)
	}
	for _, p := range opts.ReadonlyFS {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: p, Target: p, ReadOnly: true})
	}

	containerCfg := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Command,
		Env:          opts.Env,
		Labels:       opts.Labels,
		ExposedPorts: exposedPorts,
		User:         opts.User,
		WorkingDir:   opts.WorkingDir,
		OpenStdin:    opts.OpenStdin,
		Tty:          opts.OpenStdin,
	}

	restartName := container.RestartPolicyMode(opts.Restart)
	if restartName == "" {
		restartName = "no"
	}

	var securityOpt []string
	if opts.NoNewPrivs {
		securityOpt = append(securityOpt, "no-new-privileges")
	}

	hostCfg := &container.HostConfig{
		PortBindings:  portBindings,
		Mounts:        mounts,
		AutoRemove:    opts.AutoRemove,
		Privileged:    opts.Privileged,
		Init:          &opts.Init,
		SecurityOpt:   securityOpt,
		RestartPolicy: container.RestartPolicy{Name: restartName},
		Resources: container.Resources{
			Memory:     opts.MemoryBytes,
			MemorySwap: opts.SwapBytes,
		},
	}
	if opts.CPUCores > 0 {
		const period = int64(100000)
		hostCfg.Resources.CPUPeriod = period
		hostCfg.Resources.CPUQuota = int64(opts.CPUCores * float64(period))
	}
	if opts.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(opts.NetworkMode)
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

// StartContainer starts a previously-created container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	return c.cli.ContainerStart(ctx, containerID, container.StartOptions{})
}

// StopContainer stops a container gracefully, with timeout (nil => 30s default).
func (c *Client) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	secs := 30
	if timeout != nil {
		secs = int(timeout.Seconds())
	}
	return c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs})
}

// RenameContainer renames a container. Used by the update path to move
// the old runtime container out of the way of its same-named
// replacement before the swap completes.
func (c *Client) RenameContainer(ctx context.Context, containerID, newName string) error {
	return c.cli.ContainerRename(ctx, containerID, newName)
}

// KillContainer stops a container immediately.
func (c *Client) KillContainer(ctx context.Context, containerID string) error {
	return c.cli.ContainerKill(ctx, containerID, "SIGKILL")
}

// RemoveContainer removes a container. force also stops a running one;
// withVolumes additionally removes anonymous volumes.
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force, withVolumes bool) error {
	return c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force, RemoveVolumes: withVolumes})
}

// PullImage pulls imageRef, consuming the engine's progress stream to
// completion so the image is guaranteed present when this returns.
func (c *Client) PullImage(ctx context.Context, imageRef string) error {
	reader, err := c.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}
	defer reader.Close()

	dec := json.NewDecoder(reader)
	for {
		var msg struct {
			Error  string `json:"error"`
			Status string `json:"status"`
		}
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("pull image %s: read progress: %w", imageRef, err)
		}
		if msg.Error != "" {
			return fmt.Errorf("pull image %s: %s", imageRef, msg.Error)
		}
	}
}

// Status is the inspectable subset of container state the lifecycle
// controller and session multiplexer need.
type Status struct {
	ContainerID string
	Name        string
	State       string // created|running|paused|restarting|removing|exited|dead
	Running     bool
	ExitCode    int
	Error       string
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Labels      map[string]string
}

// Inspect returns the current status of a container by ID or name.
func (c *Client) Inspect(ctx context.Context, containerID string) (*Status, error) {
	info, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	status := &Status{
		ContainerID: info.ID,
		Name:        info.Name,
		State:       info.State.Status,
		Running:     info.State.Running,
		ExitCode:    info.State.ExitCode,
		Error:       info.State.Error,
		Labels:      info.Config.Labels,
	}
	if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil && !t.IsZero() {
		status.StartedAt = &t
	}
	if t, err := time.Parse(time.RFC3339Nano, info.State.FinishedAt); err == nil && !t.IsZero() {
		status.FinishedAt = &t
	}
	return status, nil
}

// WaitResult is the outcome of a container run-to-completion.
type WaitResult struct {
	ExitCode int
	Error    string
}

// Wait blocks until containerID exits and returns its result. Used by the
// installer to adjudicate the install script's exit code.
func (c *Client) Wait(ctx context.Context, containerID string) (*WaitResult, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("wait container %s: %w", containerID, err)
	case st := <-statusCh:
		res := &WaitResult{ExitCode: int(st.StatusCode)}
		if st.Error != nil {
			res.Error = st.Error.Message
		}
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats is a one-shot resource usage snapshot.
type Stats struct {
	CPUTotalUsage  uint64
	PreCPUTotal    uint64
	SystemCPUUsage uint64
	PreSystemUsage uint64
	OnlineCPUs     uint32
	MemoryUsage    uint64
	MemoryLimit    uint64
	NetworkRxBytes uint64
	NetworkTxBytes uint64
}

// StatsOnce fetches a single non-streaming stats snapshot.
func (c *Client) StatsOnce(ctx context.Context, containerID string) (*Stats, error) {
	resp, err := c.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("stats container %s: %w", containerID, err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("stats container %s: decode: %w", containerID, err)
	}

	var rx, tx uint64
	for _, n := range raw.Networks {
		rx += n.RxBytes
		tx += n.TxBytes
	}

	return &Stats{
		CPUTotalUsage:  raw.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal:    raw.PreCPUStats.CPUUsage.TotalUsage,
		SystemCPUUsage: raw.CPUStats.SystemUsage,
		PreSystemUsage: raw.PreCPUStats.SystemUsage,
		OnlineCPUs:     raw.CPUStats.OnlineCPUs,
		MemoryUsage:    raw.MemoryStats.Usage,
		MemoryLimit:    raw.MemoryStats.Limit,
		NetworkRxBytes: rx,
		NetworkTxBytes: tx,
	}, nil
}

// ListContainers lists containers (running or not) matching label filters.
func (c *Client) ListContainers(ctx context.Context, labelFilters map[string]string) ([]Status, error) {
	args := filters.NewArgs()
	for k, v := range labelFilters {
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]Status, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = ctr.Names[0]
		}
		out = append(out, Status{
			ContainerID: ctr.ID,
			Name:        name,
			State:       ctr.State,
			Running:     ctr.State == "running",
			Labels:      ctr.Labels,
		})
	}
	return out, nil
}

// GetLogs returns the container's stdout/stderr stream. When follow is
// true the caller is responsible for decoding the 8-byte multiplexed
// framing; the gateway does not interpret it.
func (c *Client) GetLogs(ctx context.Context, containerID string, follow bool, tail string) (io.ReadCloser, error) {
	return c.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
	})
}

// Attach opens a non-signal-proxying stdin/stdout/stderr stream, used by
// the session multiplexer's command forwarding.
func (c *Client) Attach(ctx context.Context, containerID string) (types.HijackedResponse, error) {
	return c.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
}
