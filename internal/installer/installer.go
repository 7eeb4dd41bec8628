// Package installer orchestrates the one-shot install container:
// workspace staging, dual image pulls, generated shell wrapper,
// run-to-completion with exit-code adjudication, and an on-failure log
// dump.
package installer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/dockergw"
	"github.com/argon-hosting/daemon/internal/logbuffer"
	"github.com/argon-hosting/daemon/internal/streamframe"
	"github.com/argon-hosting/daemon/internal/volume"
)

// Spec describes everything needed to run one install/reinstall.
type Spec struct {
	ServerID     string
	VolumesDir   string
	InstallImage string
	RuntimeImage string // pulled alongside the install image
	Entrypoint   string
	Script       string
	EnvVars      map[string]string // rendered variable name -> value, raw form
	MemoryBytes  int64
}

// Installer runs installs against the container runtime gateway.
type Installer struct {
	docker *dockergw.Client
	log    *slog.Logger
}

// New creates an Installer.
func New(docker *dockergw.Client, log *slog.Logger) *Installer {
	return &Installer{docker: docker, log: log}
}

// Run stages the workspace, pulls both images, runs the install script to
// completion, and adjudicates the exit code. On success the workspace is
// removed. On failure, the buffered output is dumped to
// <volume>/installation.log and an InstallScriptFailed error is returned.
func (in *Installer) Run(ctx context.Context, spec Spec, ring *logbuffer.Ring) error {
	volDir := volume.Dir(spec.VolumesDir, spec.ServerID)
	installDir := volume.InstallationDir(spec.VolumesDir, spec.ServerID)

	for _, sub := range []string{"logs", "temp", "config"} {
		if err := os.MkdirAll(filepath.Join(installDir, sub), 0o755); err != nil {
			return fmt.Errorf("stage workspace %s: %w", sub, err)
		}
	}

	in.log.Info("pulling install and runtime images", "server_id", spec.ServerID, "install_image", spec.InstallImage, "runtime_image", spec.RuntimeImage)
	if err := in.docker.PullImage(ctx, spec.InstallImage); err != nil {
		return argonerr.New(argonerr.KindImagePullFailed, err)
	}
	if err := in.docker.PullImage(ctx, spec.RuntimeImage); err != nil {
		return argonerr.New(argonerr.KindImagePullFailed, err)
	}

	scriptPath := filepath.Join(installDir, "install.sh")
	logPath := "/mnt/server/.installation/logs/install.log"
	if err := os.WriteFile(scriptPath, []byte(generateScript(spec.EnvVars, spec.Script, logPath)), 0o755); err != nil {
		return fmt.Errorf("write install.sh: %w", err)
	}

	env := make([]string, 0, len(spec.EnvVars)+1)
	env = append(env, "DEBIAN_FRONTEND=nointeractive")
	for _, k := range sortedKeys(spec.EnvVars) {
		env = append(env, fmt.Sprintf("%s=%s", k, spec.EnvVars[k]))
	}

	containerID, err := in.docker.CreateContainer(ctx, dockergw.CreateOpts{
		Image:       spec.InstallImage,
		Name:        fmt.Sprintf("argon-install-%s", volume.Sanitize(spec.ServerID)),
		Command:     []string{"bash", "/mnt/server/.installation/install.sh"},
		Env:         env,
		Labels:      map[string]string{"argon.server.id": spec.ServerID, "argon.role": "installer"},
		Volumes:     []string{volDir + ":/mnt/server:rw"},
		WorkingDir:  "/mnt/server",
		MemoryBytes: spec.MemoryBytes,
		SwapBytes:   2 * spec.MemoryBytes,
		NetworkMode: "host",
		Privileged:  true,
		OpenStdin:   true,
	})
	if err != nil {
		return argonerr.New(argonerr.KindContainerOpFailed, err)
	}
	defer func() {
		_ = in.docker.RemoveContainer(context.Background(), containerID, true, false)
	}()

	if err := in.docker.StartContainer(ctx, containerID); err != nil {
		return argonerr.New(argonerr.KindContainerOpFailed, err)
	}

	var captured strings.Builder
	in.streamOutput(ctx, containerID, ring, &captured)

	result, err := in.docker.Wait(ctx, containerID)
	if err != nil {
		return argonerr.New(argonerr.KindContainerOpFailed, err)
	}

	if result.ExitCode == 0 {
		in.log.Info("install succeeded", "server_id", spec.ServerID)
		_ = os.RemoveAll(installDir)
		return nil
	}

	dumpPath := filepath.Join(volDir, "installation.log")
	dump := fmt.Sprintf("%s\n\ninstallation failed with exit code %d\n", captured.String(), result.ExitCode)
	if err := os.WriteFile(dumpPath, []byte(dump), 0o644); err != nil {
		in.log.Error("failed to write installation.log", "server_id", spec.ServerID, "error", err)
	}

	return argonerr.InstallScriptFailed(result.ExitCode)
}

// streamOutput tails the install container's combined output until it
// exits, appending each line to ring (if non-nil) and capturing the full
// text into captured for the on-failure dump.
func (in *Installer) streamOutput(ctx context.Context, containerID string, ring *logbuffer.Ring, captured *strings.Builder) {
	logs, err := in.docker.GetLogs(ctx, containerID, true, "all")
	if err != nil {
		in.log.Warn("failed to attach install container logs", "error", err)
		return
	}
	defer logs.Close()

	var dec streamframe.Decoder
	buf := make([]byte, 4096)
	for {
		n, rerr := logs.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				captured.WriteString(line)
				captured.WriteByte('\n')
				if ring != nil {
					ring.Append(logbuffer.Format(logbuffer.Info, line))
				}
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				in.log.Warn("install log stream error", "error", rerr)
			}
			if tail := dec.Flush(); tail != "" {
				captured.WriteString(tail)
				captured.WriteByte('\n')
			}
			return
		}
	}
}

// generateScript synthesizes install.sh. Variable values are interpolated
// with single-quote-with-escape; raw double-quote interpolation breaks on
// values containing a quote.
func generateScript(env map[string]string, userScript, logPath string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("set -e\n")
	b.WriteString(fmt.Sprintf("exec 1> >(tee -a %s)\n", logPath))
	b.WriteString("exec 2>&1\n")
	b.WriteString(fmt.Sprintf("trap 'echo \"Error on line $LINENO\" >> %s' ERR\n", logPath))

	for _, k := range sortedKeys(env) {
		b.WriteString(fmt.Sprintf("export %s=%s\n", k, shellQuote(env[k])))
	}

	b.WriteString(userScript)
	b.WriteString("\nexit $?\n")
	return b.String()
}

// shellQuote wraps v in single quotes, escaping any embedded single quote
// as '\''.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
