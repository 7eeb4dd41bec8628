package lifecycle

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/record"
	"github.com/argon-hosting/daemon/internal/tracing"
	"github.com/argon-hosting/daemon/internal/volume"
)

// UpdateRequest carries the fields an operator may change. Zero values
// mean "leave unchanged"; a non-empty Name and non-zero MemoryLimitBytes
// and CPULimitCores are applied whether or not RefetchConfig is set.
type UpdateRequest struct {
	RefetchConfig    bool // re-pull image/variables/startup from the panel
	Name             string
	MemoryLimitBytes int64
	CPULimitCores    float64
}

// Update applies req to serverID. If RefetchConfig is set the panel's
// current config is re-fetched and rendered exactly like Create; either
// way the runtime container is recreated and swapped in rather than
// mutated in place.
func (c *Controller) Update(ctx context.Context, serverID string, req UpdateRequest) error {
	lock := c.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := tracing.Start(ctx, "lifecycle.update")
	span.SetAttributes(attribute.String("server_id", serverID))
	defer span.End()

	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if !rec.State.HasContainer() && rec.State != record.StateInstalled {
		return argonerr.Newf(argonerr.KindInvalidTransition, "cannot update server in state %s", rec.State)
	}

	prevState := rec.State
	rec.State = record.StateUpdating
	if req.Name != "" {
		rec.Name = req.Name
	}
	if req.MemoryLimitBytes != 0 {
		rec.MemoryLimitBytes = req.MemoryLimitBytes
	}
	if req.CPULimitCores != 0 {
		rec.CPULimitCores = req.CPULimitCores
	}
	rec.UpdatedAt = time.Now()
	if err := c.store.Update(ctx, rec); err != nil {
		return err
	}

	prevImage := rec.Image
	if req.RefetchConfig {
		cfg, err := c.panel.FetchConfig(ctx, serverID)
		if err != nil {
			c.fail(ctx, serverID, record.StateUpdateFailed, err)
			return err
		}
		if err := c.applyConfig(ctx, serverID, cfg); err != nil {
			c.fail(ctx, serverID, record.StateUpdateFailed, err)
			return err
		}
	}

	rec, err = c.store.Get(ctx, serverID)
	if err != nil {
		return err
	}

	// A unit change may swap the runtime image; pull it before touching
	// any container so a registry failure aborts with the old container
	// still intact.
	if req.RefetchConfig && rec.Image != prevImage {
		if err := c.docker.PullImage(ctx, rec.Image); err != nil {
			wrapped := argonerr.New(argonerr.KindImagePullFailed, err)
			c.fail(ctx, serverID, record.StateUpdateFailed, wrapped)
			return wrapped
		}
	}

	oldContainerID := ""
	if rec.ContainerID != nil {
		oldContainerID = *rec.ContainerID
	}
	wasRunning := prevState == record.StateRunning

	// The replacement reuses the old container's name, so the old one is
	// renamed aside first and only removed once the new one exists.
	oldName := fmt.Sprintf("argon-server-%s", volume.Sanitize(serverID))
	if oldContainerID != "" {
		if err := c.docker.RenameContainer(ctx, oldContainerID, oldName+"-old"); err != nil {
			c.fail(ctx, serverID, record.StateUpdateFailed, err)
			return argonerr.New(argonerr.KindContainerOpFailed, err)
		}
	}

	newContainerID, err := c.createRuntimeContainer(ctx, rec)
	if err != nil {
		if oldContainerID != "" {
			_ = c.docker.RenameContainer(ctx, oldContainerID, oldName)
		}
		c.fail(ctx, serverID, record.StateUpdateFailed, err)
		return argonerr.New(argonerr.KindContainerOpFailed, err)
	}

	if oldContainerID != "" {
		_ = c.docker.StopContainer(ctx, oldContainerID, durationPtr(updateStopTimeout))
		_ = c.docker.RemoveContainer(ctx, oldContainerID, true, false)
	}

	rec.ContainerID = &newContainerID
	rec.UpdatedAt = time.Now()

	if wasRunning {
		if err := c.docker.StartContainer(ctx, newContainerID); err != nil {
			rec.State = record.StateUpdateFailed
			_ = c.store.Update(ctx, rec)
			return argonerr.New(argonerr.KindContainerOpFailed, err)
		}
		rec.State = record.StateRunning
	} else {
		rec.State = record.StateStopped
	}

	c.logs.Get(serverID).Clear()
	return c.store.Update(ctx, rec)
}

// Reinstall forces the server back through StateInstalling: the existing
// container is removed, ContainerID cleared, and the installer re-run
// against the record's current Install directive.
func (c *Controller) Reinstall(ctx context.Context, serverID string) error {
	lock := c.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		return err
	}

	if rec.ContainerID != nil && *rec.ContainerID != "" {
		_ = c.docker.StopContainer(ctx, *rec.ContainerID, durationPtr(stopTimeout))
		_ = c.docker.RemoveContainer(ctx, *rec.ContainerID, true, false)
	}

	rec.ContainerID = nil
	rec.State = record.StateInstalling
	rec.UpdatedAt = time.Now()
	if err := c.store.Update(ctx, rec); err != nil {
		return err
	}
	c.logs.Get(serverID).Clear()

	c.runInstallAndStart(ctx, serverID, false)
	return nil
}

// Delete force-removes the container (if any), deletes the server volume
// recursively, and removes the record. It is idempotent: a missing
// container or a missing volume directory are not errors.
func (c *Controller) Delete(ctx context.Context, serverID string) error {
	lock := c.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.Get(ctx, serverID)
	if err != nil {
		if argonerr.Is(err, argonerr.KindRecordNotFound) {
			return nil
		}
		return err
	}

	rec.State = record.StateDeleting
	_ = c.store.Update(ctx, rec)

	if rec.ContainerID != nil && *rec.ContainerID != "" {
		_ = c.docker.KillContainer(ctx, *rec.ContainerID)
		if err := c.docker.RemoveContainer(ctx, *rec.ContainerID, true, true); err != nil {
			c.log.Warn("remove container during delete failed, continuing", "server_id", serverID, "error", err)
		}
	}

	if err := os.RemoveAll(volume.Dir(c.volDir, serverID)); err != nil {
		c.log.Warn("remove volume during delete failed, continuing", "server_id", serverID, "error", err)
	}

	c.logs.Delete(serverID)
	return c.store.Delete(ctx, serverID)
}

func durationPtr(d time.Duration) *time.Duration { return &d }
